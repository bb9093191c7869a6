package record

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a map-backed Store for dev and tests. Records keep
// insertion order so "first match wins" is deterministic.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Query returns copies of records matching f in insertion order.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.recs {
		if f.Name != "" && !strings.EqualFold(rec.Name, f.Name) {
			continue
		}
		if f.Year != "" && rec.Year != f.Year {
			continue
		}
		out = append(out, copyRecord(rec))
		if f.Max > 0 && len(out) >= f.Max {
			break
		}
	}
	return out, nil
}

// Create inserts rec, assigning an id when absent.
func (s *MemoryStore) Create(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.recs = append(s.recs, copyRecord(rec))
	return rec, nil
}

// Update patches only the fields named in u.
func (s *MemoryStore) Update(_ context.Context, id string, u Update) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.recs {
		if s.recs[i].ID != id {
			continue
		}
		rec := &s.recs[i]
		if u.PhotoURL != nil {
			rec.PhotoURL = *u.PhotoURL
		}
		if u.Year != nil {
			rec.Year = *u.Year
		}
		if u.Email != nil {
			rec.Email = *u.Email
		}
		if len(u.Attendance) > 0 {
			if rec.Attendance == nil {
				rec.Attendance = make(map[string]bool)
			}
			for occ, present := range u.Attendance {
				rec.Attendance[occ] = present
			}
		}
		return copyRecord(*rec), nil
	}
	return Record{}, ErrNotFound
}

// Get returns a copy of the record with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.ID == id {
			return copyRecord(rec), nil
		}
	}
	return Record{}, ErrNotFound
}

func copyRecord(rec Record) Record {
	if rec.Attendance != nil {
		attendance := make(map[string]bool, len(rec.Attendance))
		for occ, present := range rec.Attendance {
			attendance[occ] = present
		}
		rec.Attendance = attendance
	}
	return rec
}
