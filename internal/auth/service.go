package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// AdminUsername is the operator account provisioned at startup.
const AdminUsername = "admin"

// ErrBootstrapPasswordRequired signals that no admin account exists and no
// bootstrap password was provided. There is no fallback credential; startup
// fails instead.
var ErrBootstrapPasswordRequired = errors.New("auth: admin bootstrap password required")

// StaffUser is an operator account.
type StaffUser struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// RepositoryPort abstracts staff user storage.
type RepositoryPort interface {
	GetByUsername(ctx context.Context, username string) (*StaffUser, error)
	Insert(ctx context.Context, user StaffUser) (int64, error)
}

// Service manages operator accounts.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// EnsureAdmin provisions the admin account from the supplied bootstrap
// password. When the account already exists the password is ignored. An
// absent account with an empty password aborts startup.
func (s *Service) EnsureAdmin(ctx context.Context, bootstrapPassword string) error {
	existing, err := s.repo.GetByUsername(ctx, AdminUsername)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}
	if strings.TrimSpace(bootstrapPassword) == "" {
		return ErrBootstrapPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(bootstrapPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	id, err := s.repo.Insert(ctx, StaffUser{
		Username:     AdminUsername,
		PasswordHash: string(hash),
		IsAdmin:      true,
	})
	if err != nil {
		return err
	}
	s.logger.Info("admin account provisioned", slog.Int64("user_id", id))
	return nil
}

// VerifyCredentials checks a username/password pair and returns the account.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*StaffUser, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}
