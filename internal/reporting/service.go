package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const summaryCacheKey = "reporting:summary"

// Summary is the dashboard snapshot. Monetary values are minor currency
// units.
type Summary struct {
	Titles           int64     `json:"titles"`
	TotalCopies      int64     `json:"total_copies"`
	AvailableCopies  int64     `json:"available_copies"`
	Members          int64     `json:"members"`
	OpenLoans        int64     `json:"open_loans"`
	OverdueLoans     int64     `json:"overdue_loans"`
	OutstandingFines int64     `json:"outstanding_fines"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Service aggregates circulation counts for the dashboard.
type Service struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. A nil redis client disables caching.
func NewService(pool *pgxpool.Pool, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{pool: pool, redis: rdb, ttl: ttl, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Summary returns the dashboard snapshot, served from cache when warm. The
// component counts load in parallel.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if cached, ok := s.fromCache(ctx); ok {
		return cached, nil
	}

	now := s.now()
	var summary Summary
	summary.GeneratedAt = now

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.QueryRow(gctx,
			`SELECT COUNT(*), COALESCE(SUM(total_copies), 0), COALESCE(SUM(available_copies), 0) FROM titles`,
		).Scan(&summary.Titles, &summary.TotalCopies, &summary.AvailableCopies)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx, `SELECT COUNT(*) FROM members`).Scan(&summary.Members)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE due_at < $1) FROM loans WHERE status = 'OPEN'`, now,
		).Scan(&summary.OpenLoans, &summary.OverdueLoans)
	})
	g.Go(func() error {
		return s.pool.QueryRow(gctx,
			`SELECT COALESCE(SUM(amount), 0) FROM fines WHERE NOT settled`,
		).Scan(&summary.OutstandingFines)
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	s.toCache(ctx, summary)
	return summary, nil
}

// Invalidate drops the cached snapshot.
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, summaryCacheKey).Err(); err != nil {
		s.logger.Warn("invalidate summary cache", slog.Any("error", err))
	}
}

func (s *Service) fromCache(ctx context.Context) (Summary, bool) {
	if s.redis == nil {
		return Summary{}, false
	}
	raw, err := s.redis.Get(ctx, summaryCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("read summary cache", slog.Any("error", err))
		}
		return Summary{}, false
	}
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return Summary{}, false
	}
	return summary, true
}

func (s *Service) toCache(ctx context.Context, summary Summary) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, summaryCacheKey, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("write summary cache", slog.Any("error", err))
	}
}
