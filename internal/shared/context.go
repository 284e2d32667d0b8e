package shared

import "context"

type actorContextKey struct{}

// Actor identifies the operator performing a request. Authentication mechanics
// live outside this service; only the identity is consumed here.
type Actor struct {
	ID   int64
	Name string
}

// ContextWithActor stores the acting operator in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting operator from context.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
