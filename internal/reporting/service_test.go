package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSummaryServedFromCache(t *testing.T) {
	rdb := testRedis(t)
	svc := NewService(nil, rdb, time.Minute, nil)
	ctx := context.Background()

	warm := Summary{
		Titles:           12,
		OpenLoans:        4,
		OverdueLoans:     1,
		OutstandingFines: 160,
		GeneratedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	svc.toCache(ctx, warm)

	// A warm cache short-circuits the database entirely; the nil pool would
	// panic otherwise.
	got, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, warm, got)
}

func TestSummaryCacheRoundTrip(t *testing.T) {
	rdb := testRedis(t)
	svc := NewService(nil, rdb, time.Minute, nil)
	ctx := context.Background()

	_, ok := svc.fromCache(ctx)
	require.False(t, ok)

	svc.toCache(ctx, Summary{Members: 3, TotalCopies: 40})
	got, ok := svc.fromCache(ctx)
	require.True(t, ok)
	require.EqualValues(t, 3, got.Members)
	require.EqualValues(t, 40, got.TotalCopies)

	svc.Invalidate(ctx)
	_, ok = svc.fromCache(ctx)
	require.False(t, ok)
}
