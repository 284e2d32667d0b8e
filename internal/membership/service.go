package membership

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// RepositoryPort defines data access methods for membership.
type RepositoryPort interface {
	CreateMember(ctx context.Context, input CreateMemberInput) (*Member, error)
	GetMember(ctx context.Context, memberID int64) (*MemberWithPlan, error)
	SetStanding(ctx context.Context, memberID int64, standing Standing) error
	CountOpenLoans(ctx context.Context, memberID int64) (int, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles membership business logic.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// RegisterMember creates a new active member on the given plan.
func (s *Service) RegisterMember(ctx context.Context, input CreateMemberInput) (*Member, error) {
	if strings.TrimSpace(input.PatronCode) == "" {
		return nil, errors.New("membership: patron code required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("membership: name required")
	}
	if strings.TrimSpace(input.PlanCode) == "" {
		return nil, errors.New("membership: plan code required")
	}
	member, err := s.repo.CreateMember(ctx, input)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "membership:register", member.ID, map[string]any{
		"patron_code": member.PatronCode,
		"plan":        member.PlanCode,
	})
	return member, nil
}

// GetMember fetches a member with their resolved plan.
func (s *Service) GetMember(ctx context.Context, memberID int64) (*MemberWithPlan, error) {
	return s.repo.GetMember(ctx, memberID)
}

// CountOpenLoans reports how many loans the member has out.
func (s *Service) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	return s.repo.CountOpenLoans(ctx, memberID)
}

// ListPlans returns every membership plan.
func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	return s.repo.ListPlans(ctx)
}

// Suspend blocks a member from taking new loans. Open loans are unaffected.
func (s *Service) Suspend(ctx context.Context, memberID, actorID int64, reason string) error {
	return s.transition(ctx, memberID, actorID, StandingSuspended, reason)
}

// Reinstate returns a suspended or expired member to active standing.
func (s *Service) Reinstate(ctx context.Context, memberID, actorID int64) error {
	return s.transition(ctx, memberID, actorID, StandingActive, "")
}

// Expire marks a lapsed membership.
func (s *Service) Expire(ctx context.Context, memberID, actorID int64) error {
	return s.transition(ctx, memberID, actorID, StandingExpired, "")
}

func (s *Service) transition(ctx context.Context, memberID, actorID int64, standing Standing, reason string) error {
	switch standing {
	case StandingActive, StandingSuspended, StandingExpired:
	default:
		return ErrInvalidStanding
	}
	if err := s.repo.SetStanding(ctx, memberID, standing); err != nil {
		return err
	}
	meta := map[string]any{"standing": string(standing)}
	if reason != "" {
		meta["reason"] = reason
	}
	s.recordAudit(ctx, actorID, "membership:standing", memberID, meta)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, memberID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "member",
		EntityID: strconv.FormatInt(memberID, 10),
		Meta:     meta,
	})
}
