package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

type memoryStaffRepo struct {
	users  map[string]*StaffUser
	nextID int64
}

func newMemoryStaffRepo() *memoryStaffRepo {
	return &memoryStaffRepo{users: make(map[string]*StaffUser)}
}

func (r *memoryStaffRepo) GetByUsername(ctx context.Context, username string) (*StaffUser, error) {
	u, ok := r.users[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memoryStaffRepo) Insert(ctx context.Context, user StaffUser) (int64, error) {
	if existing, ok := r.users[user.Username]; ok {
		return existing.ID, nil
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.Username] = &user
	return user.ID, nil
}

func TestEnsureAdminRequiresExplicitPassword(t *testing.T) {
	repo := newMemoryStaffRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	err := svc.EnsureAdmin(ctx, "")
	require.ErrorIs(t, err, ErrBootstrapPasswordRequired)
	require.Empty(t, repo.users)

	require.NoError(t, svc.EnsureAdmin(ctx, "opening-hours"))
	require.Len(t, repo.users, 1)
	require.True(t, repo.users[AdminUsername].IsAdmin)

	// Once provisioned the bootstrap value no longer matters.
	hash := repo.users[AdminUsername].PasswordHash
	require.NoError(t, svc.EnsureAdmin(ctx, ""))
	require.NoError(t, svc.EnsureAdmin(ctx, "different"))
	require.Equal(t, hash, repo.users[AdminUsername].PasswordHash)
}

func TestVerifyCredentials(t *testing.T) {
	repo := newMemoryStaffRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "opening-hours"))

	user, err := svc.VerifyCredentials(ctx, AdminUsername, "opening-hours")
	require.NoError(t, err)
	require.True(t, user.IsAdmin)

	_, err = svc.VerifyCredentials(ctx, AdminUsername, "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.VerifyCredentials(ctx, "nobody", "opening-hours")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
