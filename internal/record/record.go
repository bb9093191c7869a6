package record

import (
	"context"
	"errors"
	"strings"
)

// Years lists the cohort years the check-in form offers.
var Years = []string{"2026", "2027", "2028", "2029"}

// ValidYear reports whether y is one of the known cohort years.
func ValidYear(y string) bool {
	for _, known := range Years {
		if y == known {
			return true
		}
	}
	return false
}

// StatusPendingReview is assigned to records created at check-in time.
const StatusPendingReview = "pending review"

// Record is a person record as held by the record store. The service
// only ever keeps a transient copy while a check-in attempt is in
// progress; the store remains authoritative.
type Record struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Year       string          `json:"year,omitempty"`
	Email      string          `json:"email,omitempty"`
	PhotoURL   string          `json:"photo_url,omitempty"`
	Status     string          `json:"status,omitempty"`
	Attendance map[string]bool `json:"attendance,omitempty"`
}

// HasPhoto reports whether the record completed the photo step.
func (r Record) HasPhoto() bool {
	return strings.TrimSpace(r.PhotoURL) != ""
}

// Attended reports the flag for one event occurrence.
func (r Record) Attended(occurrence string) bool {
	return r.Attendance[occurrence]
}

// Filter narrows a Query. Zero-value fields are not applied; an empty
// filter lists records up to Max.
type Filter struct {
	Name string
	Year string
	Max  int
}

// Update lists fields to write back. Nil pointers leave the stored
// value untouched; Attendance entries are merged per occurrence so a
// later day's flag never disturbs an earlier one.
type Update struct {
	PhotoURL   *string
	Year       *string
	Email      *string
	Attendance map[string]bool
}

// ErrBadFilter marks a filter expression the backend rejected outright,
// as opposed to a well-formed query that matched no rows.
var ErrBadFilter = errors.New("record: bad filter expression")

// ErrNotFound is returned by Get and Update for unknown ids.
var ErrNotFound = errors.New("record: not found")

// Store is the record-store contract the check-in workflow depends on.
// Implementations exist for the hosted tabular API, Postgres, and an
// in-memory map for dev and tests.
type Store interface {
	Query(ctx context.Context, f Filter) ([]Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, id string, u Update) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
}
