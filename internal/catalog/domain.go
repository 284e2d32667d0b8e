package catalog

import (
	"errors"
	"time"
)

// Title models one catalogued work. Copies are fungible: only the counts are
// tracked, never individual copy identity.
type Title struct {
	ID        int64
	ISBN      string
	Title     string
	Author    string
	Genre     string
	Total     int64
	Available int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Availability is the read model consumed by the borrowing engine.
type Availability struct {
	TitleID   int64
	Total     int64
	Available int64
}

// CreateTitleInput describes a new catalogue entry.
type CreateTitleInput struct {
	ISBN    string
	Title   string
	Author  string
	Genre   string
	Copies  int64
	ActorID int64
}

// AdjustCopiesInput describes an administrative copy-count change.
type AdjustCopiesInput struct {
	TitleID int64
	Delta   int64
	ActorID int64
	Note    string
}

// ListFilter filters catalogue listings.
type ListFilter struct {
	Genre  string
	Author string
	Limit  int
}

// ErrTitleNotFound indicates an unknown title.
var ErrTitleNotFound = errors.New("catalog: title not found")

// ErrWouldViolateInvariant indicates an adjustment that would leave
// available_copies outside [0, total_copies].
var ErrWouldViolateInvariant = errors.New("catalog: adjustment would violate copy invariant")

// ErrInvalidDelta indicates a zero adjustment.
var ErrInvalidDelta = errors.New("catalog: delta must be non zero")

// ErrDuplicateISBN indicates the ISBN is already catalogued.
var ErrDuplicateISBN = errors.New("catalog: isbn already catalogued")
