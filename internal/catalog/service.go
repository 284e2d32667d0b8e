package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateTitle(ctx context.Context, input CreateTitleInput) (*Title, error)
	GetTitle(ctx context.Context, titleID int64) (*Title, error)
	ListTitles(ctx context.Context, filter ListFilter) ([]Title, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalogue administration and availability reads.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *AvailabilityCache
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cache *AvailabilityCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, cache: cache, logger: logger}
}

// CreateTitle registers a new work with all copies immediately available.
func (s *Service) CreateTitle(ctx context.Context, input CreateTitleInput) (*Title, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, errors.New("catalog: title text required")
	}
	if strings.TrimSpace(input.Author) == "" {
		return nil, errors.New("catalog: author required")
	}
	if input.Copies < 0 {
		return nil, errors.New("catalog: copies must be >= 0")
	}
	title, err := s.repo.CreateTitle(ctx, input)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "catalog:create", title.ID, map[string]any{
		"title":  title.Title,
		"copies": title.Total,
	})
	return title, nil
}

// GetTitle fetches a title by id.
func (s *Service) GetTitle(ctx context.Context, titleID int64) (*Title, error) {
	return s.repo.GetTitle(ctx, titleID)
}

// ListTitles lists catalogue entries.
func (s *Service) ListTitles(ctx context.Context, filter ListFilter) ([]Title, error) {
	return s.repo.ListTitles(ctx, filter)
}

// GetAvailability returns the copy counts for a title, served from cache when
// warm.
func (s *Service) GetAvailability(ctx context.Context, titleID int64) (Availability, error) {
	return s.cache.Fetch(ctx, titleID, func(ctx context.Context) (Availability, error) {
		title, err := s.repo.GetTitle(ctx, titleID)
		if err != nil {
			return Availability{}, err
		}
		return Availability{TitleID: title.ID, Total: title.Total, Available: title.Available}, nil
	})
}

// AdjustCopies changes a title's total copy count. Positive deltas add copies
// to the shelf; negative deltas retire copies, which requires that many copies
// to be on the shelf right now. The row lock serialises this against
// concurrent issues and returns.
func (s *Service) AdjustCopies(ctx context.Context, input AdjustCopiesInput) (*Title, error) {
	if input.Delta == 0 {
		return nil, ErrInvalidDelta
	}
	var adjusted Title
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		title, err := tx.GetTitleForUpdate(ctx, input.TitleID)
		if err != nil {
			return err
		}
		total := title.Total + input.Delta
		available := title.Available + input.Delta
		if total < 0 || available < 0 || available > total {
			return fmt.Errorf("%w: total %d available %d", ErrWouldViolateInvariant, total, available)
		}
		if err := tx.SetCopyCounts(ctx, title.ID, total, available); err != nil {
			return err
		}
		adjusted = title
		adjusted.Total = total
		adjusted.Available = available
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, input.TitleID); err != nil {
		s.logger.Warn("invalidate availability cache", slog.Int64("title_id", input.TitleID), slog.Any("error", err))
	}
	s.recordAudit(ctx, input.ActorID, "catalog:adjust", input.TitleID, map[string]any{
		"delta": input.Delta,
		"note":  input.Note,
	})
	return &adjusted, nil
}

// InvalidateAvailability drops the cached counts for a title. The borrowing
// engine calls this after every issue and return.
func (s *Service) InvalidateAvailability(ctx context.Context, titleID int64) {
	if err := s.cache.Invalidate(ctx, titleID); err != nil {
		s.logger.Warn("invalidate availability cache", slog.Int64("title_id", titleID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, titleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "title",
		EntityID: strconv.FormatInt(titleID, 10),
		Meta:     meta,
	})
}
