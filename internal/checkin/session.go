package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"checkin/internal/record"
)

// State of a check-in attempt.
type State int

const (
	StateEntering State = iota
	StateChecking
	StatePhotoReady
	StateSucceeded
	StateIneligible
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEntering:
		return "entering"
	case StateChecking:
		return "checking"
	case StatePhotoReady:
		return "photo_ready"
	case StateSucceeded:
		return "succeeded"
	case StateIneligible:
		return "ineligible"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the renderable view of a session.
type Snapshot struct {
	State   State  `json:"-"`
	Status  string `json:"state"`
	Name    string `json:"name"`
	Year    string `json:"year"`
	Email   string `json:"email"`
	Message string `json:"message,omitempty"`
	Busy    bool   `json:"busy"`
}

// Session holds the transient state of one check-in attempt: entered
// fields, the weak matched-record snapshot, and the current workflow
// state. It never outlives the timed reset that follows a terminal
// state, and a matched record is never carried across attempts.
type Session struct {
	lookup     *Lookup
	persist    *Persister
	resetDelay time.Duration

	mu       sync.Mutex
	state    State
	inflight bool
	name     string
	year     string
	email    string
	match    *record.Record
	message  string
	timer    *time.Timer
}

// NewSession creates a session in the Entering state. resetDelay is
// how long terminal states stay on screen before the automatic return
// to Entering.
func NewSession(lookup *Lookup, persist *Persister, resetDelay time.Duration) *Session {
	if resetDelay <= 0 {
		resetDelay = 2 * time.Second
	}
	return &Session{lookup: lookup, persist: persist, resetDelay: resetDelay}
}

// Snapshot returns the current renderable view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:   s.state,
		Status:  s.state.String(),
		Name:    s.name,
		Year:    s.year,
		Email:   s.email,
		Message: s.message,
		Busy:    s.inflight,
	}
}

// Submit validates the entered fields, looks the applicant up and
// advances the state machine. Validation failures stay local: no
// network call is made and the state does not change.
func (s *Session) Submit(ctx context.Context, name, year, email string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := validateForm(name, year, email); err != nil {
		return s.Snapshot(), err
	}
	if err := s.beginChecking(name, year, email); err != nil {
		return s.Snapshot(), err
	}

	m, err := s.lookup.Find(ctx, name, year)
	if err != nil {
		s.finishFailed("Error checking applicant. Please try again.")
		return s.Snapshot(), err
	}
	return s.resolveMatch(ctx, m, year, email)
}

// SelectSuggestion short-circuits manual entry for a name chosen from
// the autocomplete list. It re-runs lookup immediately; reconciliation
// proceeds as if submitted only when the looked-up record already
// carries both year and email, otherwise the session stays in Entering
// with whatever fields were recovered.
func (s *Session) SelectSuggestion(ctx context.Context, name string) (Snapshot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.Snapshot(), &ValidationError{Field: "name", Msg: "applicant name is required"}
	}
	if err := s.beginChecking(name, "", ""); err != nil {
		return s.Snapshot(), err
	}

	m, err := s.lookup.Find(ctx, name, "")
	if err != nil {
		s.finishFailed("Error checking applicant. Please try again.")
		return s.Snapshot(), err
	}

	if m.Kind == MatchEligible {
		rec := m.Record
		if rec.Year == "" || rec.Email == "" {
			// Auto-submission must never fire with incomplete
			// required fields; recover what the record has and let
			// the attendant finish the form.
			s.backToEntering(name, rec.Year, rec.Email)
			return s.Snapshot(), nil
		}
		s.mu.Lock()
		s.year, s.email = rec.Year, rec.Email
		s.mu.Unlock()
		return s.resolveMatch(ctx, m, rec.Year, rec.Email)
	}
	if m.Kind == MatchIneligible {
		return s.resolveMatch(ctx, m, "", "")
	}

	// The suggestion no longer resolves to a record; back to manual
	// entry with the name kept.
	s.backToEntering(name, "", "")
	return s.Snapshot(), nil
}

// ConfirmPhoto uploads the captured still and persists the check-in.
// Valid only from PhotoReady.
func (s *Session) ConfirmPhoto(ctx context.Context, still []byte) (Snapshot, error) {
	s.mu.Lock()
	if s.inflight {
		s.mu.Unlock()
		return s.Snapshot(), ErrBusy
	}
	if s.state != StatePhotoReady {
		state := s.state
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("checkin: photo confirm from %s state", state)
	}
	s.inflight = true
	name, year, email, match := s.name, s.year, s.email, s.match
	s.mu.Unlock()

	if _, err := s.persist.Persist(ctx, still, name, year, email, match); err != nil {
		var uploadErr *UploadError
		if errors.As(err, &uploadErr) {
			s.finishFailed("Error uploading photo. Please try again.")
		} else {
			s.finishFailed("Error saving to database. Please try again.")
		}
		return s.Snapshot(), err
	}
	s.finishSucceeded("Check In Successful!")
	return s.Snapshot(), nil
}

// Back abandons the capture step: the matched-record reference and any
// recovered year/email are discarded, the name stays pre-filled.
func (s *Session) Back() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePhotoReady && !s.inflight {
		s.state = StateEntering
		s.year = ""
		s.email = ""
		s.match = nil
		s.message = ""
	}
	return s.snapshotLocked()
}

// Reset returns the session to a blank Entering state immediately.
func (s *Session) Reset() {
	s.resetNow(false)
}

// Close cancels any pending auto-reset.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func validateForm(name, year, email string) error {
	if name == "" {
		return &ValidationError{Field: "name", Msg: "applicant name is required"}
	}
	if year == "" {
		return &ValidationError{Field: "year", Msg: "year is required"}
	}
	if !record.ValidYear(year) {
		return &ValidationError{Field: "year", Msg: "unknown year " + year}
	}
	if email == "" {
		return &ValidationError{Field: "email", Msg: "email is required"}
	}
	return nil
}

func (s *Session) beginChecking(name, year, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return ErrBusy
	}
	if s.state != StateEntering {
		return fmt.Errorf("checkin: submit from %s state", s.state)
	}
	s.inflight = true
	s.state = StateChecking
	s.name, s.year, s.email = name, year, email
	// The target record is re-derived from this attempt's lookup;
	// a stale reference is never reused.
	s.match = nil
	s.message = ""
	return nil
}

func (s *Session) resolveMatch(ctx context.Context, m Match, year, email string) (Snapshot, error) {
	switch m.Kind {
	case MatchIneligible:
		s.finishIneligible(m.Reason)
		return s.Snapshot(), nil
	case MatchEligible:
		if m.Record.HasPhoto() {
			// Photo-complete: only the occurrence flag (plus backfill)
			// changes; no webcam step.
			if _, err := s.persist.MarkAttendance(ctx, *m.Record, year, email); err != nil {
				s.finishFailed("Error updating attendance. Please try again.")
				return s.Snapshot(), err
			}
			s.finishSucceeded(m.Record.Name + " is checked in!")
			return s.Snapshot(), nil
		}
		s.toPhotoReady(m.Record)
		return s.Snapshot(), nil
	default:
		// No record yet; one is created after capture.
		s.toPhotoReady(nil)
		return s.Snapshot(), nil
	}
}

func (s *Session) toPhotoReady(rec *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StatePhotoReady
	s.inflight = false
	if rec != nil {
		snapshot := *rec
		s.match = &snapshot
		if s.year == "" {
			s.year = rec.Year
		}
		if s.email == "" {
			s.email = rec.Email
		}
	}
}

func (s *Session) backToEntering(name, year, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateEntering
	s.inflight = false
	s.name, s.year, s.email = name, year, email
	s.match = nil
}

func (s *Session) finishSucceeded(msg string) {
	s.terminal(StateSucceeded, msg, false)
}

func (s *Session) finishIneligible(reason string) {
	s.terminal(StateIneligible, reason, true)
}

func (s *Session) finishFailed(msg string) {
	s.terminal(StateFailed, msg, true)
}

func (s *Session) terminal(state State, msg string, keepName bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.message = msg
	s.inflight = false
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.resetDelay, func() { s.resetNow(keepName) })
}

func (s *Session) resetNow(keepName bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.name
	s.state = StateEntering
	s.inflight = false
	s.name, s.year, s.email = "", "", ""
	s.match = nil
	s.message = ""
	if keepName {
		s.name = name
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
