// Package suggest maintains the candidate-name list used for
// autocomplete during manual entry.
package suggest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"checkin/internal/record"
)

// Candidate is one known applicant name.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source lists candidate names.
type Source interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// StoreSource adapts a record.Store into a Source: every named record,
// blank names dropped, sorted for stable display.
type StoreSource struct {
	Store record.Store
	Max   int
}

func (s StoreSource) Candidates(ctx context.Context) ([]Candidate, error) {
	max := s.Max
	if max <= 0 {
		max = 1000
	}
	recs, err := s.Store.Query(ctx, record.Filter{Max: max})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		if strings.TrimSpace(rec.Name) == "" {
			continue
		}
		out = append(out, Candidate{ID: rec.ID, Name: rec.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Index holds the candidate list, fetched once and cached for the
// lifetime of the process. Filtering never blocks on the fetch: until
// Refresh succeeds it simply returns nothing.
type Index struct {
	src      Source
	cache    *redis.Client
	cacheKey string
	ttl      time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	names  []Candidate
	loaded bool
}

// Option configures an Index.
type Option func(*Index)

// WithRedis shares the fetched snapshot across instances through redis.
func WithRedis(client *redis.Client, ttl time.Duration) Option {
	return func(ix *Index) {
		ix.cache = client
		ix.ttl = ttl
	}
}

// NewIndex creates an index over src.
func NewIndex(src Source, log *slog.Logger, opts ...Option) *Index {
	if log == nil {
		log = slog.Default()
	}
	ix := &Index{src: src, cacheKey: "checkin:candidates", ttl: 5 * time.Minute, log: log}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Refresh loads the candidate list, preferring a shared redis snapshot
// when one is configured and fresh.
func (ix *Index) Refresh(ctx context.Context) error {
	if names, ok := ix.fromCache(ctx); ok {
		ix.set(names)
		return nil
	}

	names, err := ix.src.Candidates(ctx)
	if err != nil {
		return err
	}
	ix.set(names)
	ix.toCache(ctx, names)
	return nil
}

// Filter returns the candidates whose name contains input as a
// case-insensitive substring, in list order. Empty input yields
// nothing; so does an index that has not loaded yet.
func (ix *Index) Filter(input string) []Candidate {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	needle := strings.ToLower(input)
	var out []Candidate
	for _, c := range ix.names {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			out = append(out, c)
		}
	}
	return out
}

// Loaded reports whether the candidate fetch has completed.
func (ix *Index) Loaded() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.loaded
}

func (ix *Index) set(names []Candidate) {
	ix.mu.Lock()
	ix.names = names
	ix.loaded = true
	ix.mu.Unlock()
}

func (ix *Index) fromCache(ctx context.Context) ([]Candidate, bool) {
	if ix.cache == nil {
		return nil, false
	}
	raw, err := ix.cache.Get(ctx, ix.cacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var names []Candidate
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, false
	}
	return names, true
}

func (ix *Index) toCache(ctx context.Context, names []Candidate) {
	if ix.cache == nil {
		return
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return
	}
	if err := ix.cache.Set(ctx, ix.cacheKey, raw, ix.ttl).Err(); err != nil {
		ix.log.Warn("candidate cache write failed", "err", err)
	}
}
