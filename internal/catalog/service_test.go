package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryCatalogRepo struct {
	titles map[int64]*Title
	nextID int64
}

type memoryCatalogTx struct {
	repo *memoryCatalogRepo
}

func newMemoryCatalogRepo() *memoryCatalogRepo {
	return &memoryCatalogRepo{titles: make(map[int64]*Title)}
}

func (r *memoryCatalogRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryCatalogTx{repo: r})
}

func (r *memoryCatalogRepo) CreateTitle(ctx context.Context, input CreateTitleInput) (*Title, error) {
	r.nextID++
	t := &Title{
		ID:        r.nextID,
		ISBN:      input.ISBN,
		Title:     input.Title,
		Author:    input.Author,
		Genre:     input.Genre,
		Total:     input.Copies,
		Available: input.Copies,
		CreatedAt: time.Now(),
	}
	r.titles[t.ID] = t
	return t, nil
}

func (r *memoryCatalogRepo) GetTitle(ctx context.Context, titleID int64) (*Title, error) {
	t, ok := r.titles[titleID]
	if !ok {
		return nil, ErrTitleNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *memoryCatalogRepo) ListTitles(ctx context.Context, filter ListFilter) ([]Title, error) {
	var out []Title
	for _, t := range r.titles {
		out = append(out, *t)
	}
	return out, nil
}

func (tx *memoryCatalogTx) GetTitleForUpdate(ctx context.Context, titleID int64) (Title, error) {
	t, ok := tx.repo.titles[titleID]
	if !ok {
		return Title{}, ErrTitleNotFound
	}
	return *t, nil
}

func (tx *memoryCatalogTx) SetCopyCounts(ctx context.Context, titleID, total, available int64) error {
	t := tx.repo.titles[titleID]
	t.Total = total
	t.Available = available
	return nil
}

func testCache(t *testing.T) *AvailabilityCache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAvailabilityCache(client, time.Minute)
}

func TestAdjustCopiesAddAndRetire(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil, testCache(t), nil)
	ctx := context.Background()

	title, err := svc.CreateTitle(ctx, CreateTitleInput{Title: "Dune", Author: "Herbert", Copies: 2})
	require.NoError(t, err)

	adjusted, err := svc.AdjustCopies(ctx, AdjustCopiesInput{TitleID: title.ID, Delta: 3})
	require.NoError(t, err)
	require.EqualValues(t, 5, adjusted.Total)
	require.EqualValues(t, 5, adjusted.Available)

	adjusted, err = svc.AdjustCopies(ctx, AdjustCopiesInput{TitleID: title.ID, Delta: -5})
	require.NoError(t, err)
	require.EqualValues(t, 0, adjusted.Total)
	require.EqualValues(t, 0, adjusted.Available)
}

func TestAdjustCopiesGuardsInvariant(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil, testCache(t), nil)
	ctx := context.Background()

	title, err := svc.CreateTitle(ctx, CreateTitleInput{Title: "Dune", Author: "Herbert", Copies: 2})
	require.NoError(t, err)

	// Simulate one copy out on loan.
	repo.titles[title.ID].Available = 1

	// Retiring both copies would leave available negative.
	_, err = svc.AdjustCopies(ctx, AdjustCopiesInput{TitleID: title.ID, Delta: -2})
	require.ErrorIs(t, err, ErrWouldViolateInvariant)

	_, err = svc.AdjustCopies(ctx, AdjustCopiesInput{TitleID: title.ID, Delta: 0})
	require.ErrorIs(t, err, ErrInvalidDelta)

	_, err = svc.AdjustCopies(ctx, AdjustCopiesInput{TitleID: 999, Delta: 1})
	require.ErrorIs(t, err, ErrTitleNotFound)
}

func TestGetAvailabilityUsesCache(t *testing.T) {
	repo := newMemoryCatalogRepo()
	svc := NewService(repo, nil, testCache(t), nil)
	ctx := context.Background()

	title, err := svc.CreateTitle(ctx, CreateTitleInput{Title: "Dune", Author: "Herbert", Copies: 4})
	require.NoError(t, err)

	av, err := svc.GetAvailability(ctx, title.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, av.Available)

	// Mutate behind the cache; a warm read still serves the cached counts.
	repo.titles[title.ID].Available = 1
	av, err = svc.GetAvailability(ctx, title.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, av.Available)

	svc.InvalidateAvailability(ctx, title.ID)
	av, err = svc.GetAvailability(ctx, title.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, av.Available)
}
