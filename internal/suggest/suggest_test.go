package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"checkin/internal/record"
)

type stubSource struct {
	names []Candidate
	err   error
	calls int
}

func (s *stubSource) Candidates(_ context.Context) ([]Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.names, nil
}

func TestFilterProperties(t *testing.T) {
	src := &stubSource{names: []Candidate{
		{ID: "1", Name: "Alice Smith"},
		{ID: "2", Name: "bob Jones"},
		{ID: "3", Name: "Alicia Keys"},
	}}
	ix := NewIndex(src, nil)
	if err := ix.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := ix.Filter("ali")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches for %q, got %v", "ali", got)
	}
	for _, c := range got {
		if !strings.Contains(strings.ToLower(c.Name), "ali") {
			t.Fatalf("match %q does not contain the input", c.Name)
		}
	}
	// List order is preserved.
	if got[0].Name != "Alice Smith" || got[1].Name != "Alicia Keys" {
		t.Fatalf("unexpected order: %v", got)
	}

	if got := ix.Filter("BOB"); len(got) != 1 || got[0].Name != "bob Jones" {
		t.Fatalf("case-insensitive match failed: %v", got)
	}

	if got := ix.Filter(""); got != nil {
		t.Fatalf("empty input must yield nothing, got %v", got)
	}
	if got := ix.Filter("   "); got != nil {
		t.Fatalf("blank input must yield nothing, got %v", got)
	}
	if got := ix.Filter("zzz"); got != nil {
		t.Fatalf("no-match input must yield nothing, got %v", got)
	}
}

func TestFilterBeforeLoad(t *testing.T) {
	ix := NewIndex(&stubSource{}, nil)
	if ix.Loaded() {
		t.Fatal("index should not report loaded before refresh")
	}
	if got := ix.Filter("a"); got != nil {
		t.Fatalf("unloaded index must filter to nothing, got %v", got)
	}
}

func TestRefreshError(t *testing.T) {
	src := &stubSource{err: errors.New("boom")}
	ix := NewIndex(src, nil)
	if err := ix.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if ix.Loaded() {
		t.Fatal("failed refresh must not mark the index loaded")
	}
}

func TestStoreSourceDropsBlankAndSorts(t *testing.T) {
	st := record.NewMemory()
	ctx := context.Background()
	for _, name := range []string{"Zed Query", "   ", "Amy Adams"} {
		if _, err := st.Create(ctx, record.Record{Name: name}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	names, err := StoreSource{Store: st}.Candidates(ctx)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(names) != 2 || names[0].Name != "Amy Adams" || names[1].Name != "Zed Query" {
		t.Fatalf("unexpected candidates: %v", names)
	}
}
