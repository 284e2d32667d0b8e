package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryMemberRepo struct {
	members   map[int64]*MemberWithPlan
	openLoans map[int64]int
	plans     map[string]Plan
	nextID    int64
}

func newMemoryMemberRepo() *memoryMemberRepo {
	return &memoryMemberRepo{
		members:   make(map[int64]*MemberWithPlan),
		openLoans: make(map[int64]int),
		plans: map[string]Plan{
			"standard": {Code: "standard", Name: "Standard", LoanDurationDays: 14, BorrowLimit: 3, DailyFineRate: 10, MaxFine: 200},
		},
	}
}

func (r *memoryMemberRepo) CreateMember(ctx context.Context, input CreateMemberInput) (*Member, error) {
	plan, ok := r.plans[input.PlanCode]
	if !ok {
		return nil, ErrPlanNotFound
	}
	for _, m := range r.members {
		if m.PatronCode == input.PatronCode {
			return nil, ErrDuplicatePatronCode
		}
	}
	r.nextID++
	m := &MemberWithPlan{
		Member: Member{
			ID:         r.nextID,
			PatronCode: input.PatronCode,
			Name:       input.Name,
			Email:      input.Email,
			PlanCode:   input.PlanCode,
			Standing:   StandingActive,
		},
		Plan: plan,
	}
	r.members[m.ID] = m
	member := m.Member
	return &member, nil
}

func (r *memoryMemberRepo) GetMember(ctx context.Context, memberID int64) (*MemberWithPlan, error) {
	m, ok := r.members[memberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *memoryMemberRepo) SetStanding(ctx context.Context, memberID int64, standing Standing) error {
	m, ok := r.members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	m.Standing = standing
	return nil
}

func (r *memoryMemberRepo) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	return r.openLoans[memberID], nil
}

func (r *memoryMemberRepo) ListPlans(ctx context.Context) ([]Plan, error) {
	var out []Plan
	for _, p := range r.plans {
		out = append(out, p)
	}
	return out, nil
}

func TestRegisterMember(t *testing.T) {
	repo := newMemoryMemberRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	member, err := svc.RegisterMember(ctx, CreateMemberInput{PatronCode: "P0001", Name: "Ada", PlanCode: "standard"})
	require.NoError(t, err)
	require.Equal(t, StandingActive, member.Standing)

	_, err = svc.RegisterMember(ctx, CreateMemberInput{PatronCode: "P0001", Name: "Ada Again", PlanCode: "standard"})
	require.ErrorIs(t, err, ErrDuplicatePatronCode)

	_, err = svc.RegisterMember(ctx, CreateMemberInput{PatronCode: "P0002", Name: "Grace", PlanCode: "platinum"})
	require.ErrorIs(t, err, ErrPlanNotFound)

	_, err = svc.RegisterMember(ctx, CreateMemberInput{PatronCode: " ", Name: "Blank", PlanCode: "standard"})
	require.Error(t, err)
}

func TestStandingTransitions(t *testing.T) {
	repo := newMemoryMemberRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	member, err := svc.RegisterMember(ctx, CreateMemberInput{PatronCode: "P0001", Name: "Ada", PlanCode: "standard"})
	require.NoError(t, err)

	require.NoError(t, svc.Suspend(ctx, member.ID, 1, "unpaid fines"))
	got, err := svc.GetMember(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, StandingSuspended, got.Standing)

	require.NoError(t, svc.Reinstate(ctx, member.ID, 1))
	got, err = svc.GetMember(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, StandingActive, got.Standing)

	require.ErrorIs(t, svc.Suspend(ctx, 999, 1, ""), ErrMemberNotFound)
}
