package checkin

import (
	"context"
	"errors"
	"testing"

	"checkin/internal/record"
)

// queryStore scripts Query responses and rejects every write, so any
// unexpected store call fails the test.
type queryStore struct {
	t     *testing.T
	query func(f record.Filter) ([]record.Record, error)
	calls []record.Filter
}

func (s *queryStore) Query(_ context.Context, f record.Filter) ([]record.Record, error) {
	s.calls = append(s.calls, f)
	return s.query(f)
}

func (s *queryStore) Create(context.Context, record.Record) (record.Record, error) {
	s.t.Fatal("unexpected Create")
	return record.Record{}, nil
}

func (s *queryStore) Update(context.Context, string, record.Update) (record.Record, error) {
	s.t.Fatal("unexpected Update")
	return record.Record{}, nil
}

func (s *queryStore) Get(context.Context, string) (record.Record, error) {
	s.t.Fatal("unexpected Get")
	return record.Record{}, nil
}

func TestFindExactMatch(t *testing.T) {
	want := record.Record{ID: "rec1", Name: "Jane Doe", Year: "2027", Email: "jane@example.com"}
	st := &queryStore{t: t, query: func(f record.Filter) ([]record.Record, error) {
		if f.Name != "Jane Doe" || f.Year != "2027" || f.Max != 1 {
			t.Fatalf("unexpected filter: %+v", f)
		}
		return []record.Record{want}, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "Jane Doe", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchEligible || m.Record.ID != "rec1" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if m.Partial {
		t.Fatal("complete record must not be partial")
	}
	if len(st.calls) != 1 {
		t.Fatalf("expected a single query, got %d", len(st.calls))
	}
}

func TestFindRetriesWhenFilteredQueryFails(t *testing.T) {
	recs := []record.Record{
		{ID: "a", Name: "Jane Doe", Year: "2026", Email: "a@example.com"},
		{ID: "b", Name: "Jane Doe", Year: "2027", Email: "b@example.com"},
	}
	st := &queryStore{t: t, query: func(f record.Filter) ([]record.Record, error) {
		if f.Year != "" {
			return nil, record.ErrBadFilter
		}
		return recs, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "Jane Doe", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchEligible || m.Record.ID != "b" {
		t.Fatalf("expected the year-matching fallback record, got %+v", m)
	}
	if len(st.calls) != 2 {
		t.Fatalf("expected filtered query plus one retry, got %d calls", len(st.calls))
	}
}

func TestFindRetryWithoutYearMatchTakesFirst(t *testing.T) {
	st := &queryStore{t: t, query: func(f record.Filter) ([]record.Record, error) {
		if f.Year != "" {
			return nil, record.ErrBadFilter
		}
		return []record.Record{{ID: "a", Name: "Jane Doe", Email: "a@example.com"}}, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "Jane Doe", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchEligible || m.Record.ID != "a" {
		t.Fatalf("unexpected match: %+v", m)
	}
	if !m.Partial {
		t.Fatal("record without a stored year must be partial")
	}
}

func TestFindFallsBackOnEmptyFilteredResult(t *testing.T) {
	st := &queryStore{t: t, query: func(f record.Filter) ([]record.Record, error) {
		if f.Year != "" {
			return nil, nil
		}
		return []record.Record{{ID: "legacy", Name: "Jane Doe"}}, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "Jane Doe", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchEligible || m.Record.ID != "legacy" {
		t.Fatalf("expected name-only fallback, got %+v", m)
	}
	if !m.Partial {
		t.Fatal("legacy record missing year and email must be partial")
	}
}

func TestFindIneligiblePrecedesPhoto(t *testing.T) {
	st := &queryStore{t: t, query: func(record.Filter) ([]record.Record, error) {
		return []record.Record{{
			ID:       "rej",
			Name:     "John Rejected",
			Year:     "2027",
			Email:    "john@example.com",
			PhotoURL: "https://example.com/john.png",
			Status:   "Rejected",
		}}, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "John Rejected", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchIneligible {
		t.Fatalf("expected ineligible, got %+v", m)
	}
	if m.Reason != "applicant was rejected" {
		t.Fatalf("unexpected reason %q", m.Reason)
	}
}

func TestFindNotFound(t *testing.T) {
	st := &queryStore{t: t, query: func(record.Filter) ([]record.Record, error) {
		return nil, nil
	}}

	m, err := NewLookup(st, nil).Find(context.Background(), "Nobody", "2027")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Kind != MatchNone {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestFindBothTiersFail(t *testing.T) {
	boom := errors.New("backend down")
	st := &queryStore{t: t, query: func(record.Filter) ([]record.Record, error) {
		return nil, boom
	}}

	_, err := NewLookup(st, nil).Find(context.Background(), "Jane Doe", "2027")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if !errors.Is(lookupErr.Err, boom) {
		t.Fatalf("lookup error must wrap the store error, got %v", lookupErr.Err)
	}
}

func TestIneligibleReason(t *testing.T) {
	cases := []struct {
		status string
		bad    bool
	}{
		{"rejected", true},
		{"  Rejected ", true},
		{"NOT ELIGIBLE", true},
		{"withdrawn", true},
		{"accepted", false},
		{"pending review", false},
		{"", false},
	}
	for _, tc := range cases {
		if _, bad := IneligibleReason(tc.status); bad != tc.bad {
			t.Fatalf("IneligibleReason(%q) = %v, want %v", tc.status, bad, tc.bad)
		}
	}
}
