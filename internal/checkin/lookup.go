package checkin

import (
	"context"
	"log/slog"
	"strings"

	"checkin/internal/record"
)

// MatchKind classifies a lookup result.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchEligible
	MatchIneligible
)

// Match is the outcome of one lookup attempt.
type Match struct {
	Kind   MatchKind
	Record *record.Record
	// Reason is set for MatchIneligible.
	Reason string
	// Partial marks a record found by the name-only fallback that is
	// still missing year or email; it needs completion, not a fresh
	// create.
	Partial bool
}

// Statuses that must never progress toward check-in, whatever the
// photo or attendance fields say.
var ineligibleReasons = map[string]string{
	"rejected":     "applicant was rejected",
	"not eligible": "applicant is not eligible",
	"withdrawn":    "applicant withdrew",
}

// IneligibleReason returns the human-readable reason a status blocks
// check-in, if it does.
func IneligibleReason(status string) (string, bool) {
	reason, ok := ineligibleReasons[strings.ToLower(strings.TrimSpace(status))]
	return reason, ok
}

// Lookup finds the record for a submitted name and year using a
// declared two-tier strategy: exact name+year first, then a broader
// name-only query when the filtered one fails outright or matches
// nothing. First match wins.
type Lookup struct {
	store record.Store
	max   int
	log   *slog.Logger
}

// NewLookup creates a Lookup over store.
func NewLookup(store record.Store, log *slog.Logger) *Lookup {
	if log == nil {
		log = slog.Default()
	}
	return &Lookup{store: store, max: 10, log: log}
}

// Find resolves name (and year, when supplied) to a Match. The
// eligibility gate runs before any photo or attendance inspection.
func (l *Lookup) Find(ctx context.Context, name, year string) (Match, error) {
	rec, found, err := l.find(ctx, name, year)
	if err != nil {
		return Match{}, err
	}
	if !found {
		return Match{Kind: MatchNone}, nil
	}

	if reason, bad := IneligibleReason(rec.Status); bad {
		return Match{Kind: MatchIneligible, Record: &rec, Reason: reason}, nil
	}
	return Match{
		Kind:    MatchEligible,
		Record:  &rec,
		Partial: rec.Year == "" || rec.Email == "",
	}, nil
}

func (l *Lookup) find(ctx context.Context, name, year string) (record.Record, bool, error) {
	if year == "" {
		recs, err := l.store.Query(ctx, record.Filter{Name: name, Max: l.max})
		if err != nil {
			return record.Record{}, false, &LookupError{Err: err}
		}
		if len(recs) == 0 {
			return record.Record{}, false, nil
		}
		return recs[0], true, nil
	}

	recs, err := l.store.Query(ctx, record.Filter{Name: name, Year: year, Max: 1})
	if err != nil {
		// The filtered query failed outright, which is not the same as
		// matching no rows. Retry once with the broader name-only
		// query and filter by year here.
		l.log.Warn("filtered lookup failed, retrying name-only", "err", err)
		all, err2 := l.store.Query(ctx, record.Filter{Name: name, Max: l.max})
		if err2 != nil {
			return record.Record{}, false, &LookupError{Err: err2}
		}
		if rec, ok := firstWithYear(all, year); ok {
			return rec, true, nil
		}
		if len(all) > 0 {
			return all[0], true, nil
		}
		return record.Record{}, false, nil
	}
	if len(recs) > 0 {
		return recs[0], true, nil
	}

	// No exact name+year row. Legacy records may lack the year
	// entirely, so fall back to a name-only match.
	all, err := l.store.Query(ctx, record.Filter{Name: name, Max: l.max})
	if err != nil {
		return record.Record{}, false, &LookupError{Err: err}
	}
	if len(all) == 0 {
		return record.Record{}, false, nil
	}
	return all[0], true, nil
}

func firstWithYear(recs []record.Record, year string) (record.Record, bool) {
	for _, rec := range recs {
		if rec.Year == year {
			return rec, true
		}
	}
	return record.Record{}, false
}
