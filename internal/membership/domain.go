package membership

import (
	"errors"
	"time"
)

// Standing enumerates member standings.
type Standing string

const (
	// StandingActive allows new loans.
	StandingActive Standing = "active"
	// StandingSuspended blocks new loans until reinstated.
	StandingSuspended Standing = "suspended"
	// StandingExpired blocks new loans until the membership is renewed.
	StandingExpired Standing = "expired"
)

// Plan bundles the borrowing policy parameters for a membership tier.
// Monetary values are minor currency units. Plans are seeded by migration and
// never mutated by the circulation engine.
type Plan struct {
	Code             string
	Name             string
	LoanDurationDays int
	BorrowLimit      int
	DailyFineRate    int64
	MaxFine          int64
}

// Member models a registered patron.
type Member struct {
	ID         int64
	PatronCode string
	Name       string
	Email      string
	PlanCode   string
	Standing   Standing
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MemberWithPlan joins a member with their resolved plan.
type MemberWithPlan struct {
	Member
	Plan Plan
}

// CreateMemberInput describes a new registration.
type CreateMemberInput struct {
	PatronCode string
	Name       string
	Email      string
	PlanCode   string
	ActorID    int64
}

// ErrMemberNotFound indicates an unknown member.
var ErrMemberNotFound = errors.New("membership: member not found")

// ErrPlanNotFound indicates an unknown plan code.
var ErrPlanNotFound = errors.New("membership: plan not found")

// ErrDuplicatePatronCode indicates the patron code is taken.
var ErrDuplicatePatronCode = errors.New("membership: patron code already registered")

// ErrInvalidStanding indicates an unsupported standing transition.
var ErrInvalidStanding = errors.New("membership: invalid standing")
