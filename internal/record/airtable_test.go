package record

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAirtable(t *testing.T, h http.HandlerFunc) *AirtableStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := NewAirtable("test-key", "appBase", "Applicants")
	s.BaseURL = srv.URL
	return s
}

func TestAirtableQueryFormula(t *testing.T) {
	var gotFormula, gotMax, gotAuth string
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		gotMax = r.URL.Query().Get("maxRecords")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{{
				"id": "rec123",
				"fields": map[string]any{
					"applicant_name": "Jane Doe",
					"year":           float64(2027),
					"email":          "jane@example.com",
					"photo":          "https://example.com/jane.png",
					"status":         "accepted",
					"day_1":          true,
					"day_2":          false,
				},
			}},
		})
	})

	recs, err := s.Query(context.Background(), Filter{Name: "Jane Doe", Year: "2027", Max: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotFormula != `AND({applicant_name} = "Jane Doe", {year} = 2027)` {
		t.Fatalf("formula = %q", gotFormula)
	}
	if gotMax != "1" {
		t.Fatalf("maxRecords = %q", gotMax)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}

	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	rec := recs[0]
	if rec.ID != "rec123" || rec.Name != "Jane Doe" || rec.Year != "2027" {
		t.Fatalf("decoded record wrong: %+v", rec)
	}
	if rec.Email != "jane@example.com" || rec.PhotoURL != "https://example.com/jane.png" || rec.Status != "accepted" {
		t.Fatalf("decoded record wrong: %+v", rec)
	}
	if !rec.Attended("day_1") || rec.Attended("day_2") {
		t.Fatalf("attendance decoded wrong: %+v", rec.Attendance)
	}
}

func TestAirtableNameOnlyFormula(t *testing.T) {
	var gotFormula string
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		gotFormula = r.URL.Query().Get("filterByFormula")
		_ = json.NewEncoder(w).Encode(map[string]any{"records": []any{}})
	})

	if _, err := s.Query(context.Background(), Filter{Name: `Jo "JJ" Doe`}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotFormula != `{applicant_name} = "Jo \"JJ\" Doe"` {
		t.Fatalf("formula = %q", gotFormula)
	}
}

func TestAirtableBadFilter(t *testing.T) {
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"INVALID_FILTER_BY_FORMULA"}`, http.StatusUnprocessableEntity)
	})

	_, err := s.Query(context.Background(), Filter{Name: "x", Year: "2027"})
	if !errors.Is(err, ErrBadFilter) {
		t.Fatalf("expected ErrBadFilter, got %v", err)
	}
}

func TestAirtableCreate(t *testing.T) {
	var gotMethod string
	var gotBody map[string]any
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "recNew",
			"fields": gotBody["fields"],
		})
	})

	rec, err := s.Create(context.Background(), Record{
		Name:       "Jane Doe",
		Year:       "2027",
		Email:      "jane@example.com",
		PhotoURL:   "https://example.com/jane.png",
		Status:     StatusPendingReview,
		Attendance: map[string]bool{"day_1": true},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotBody["typecast"] != true {
		t.Fatal("create must request typecast")
	}
	fields := gotBody["fields"].(map[string]any)
	if fields["applicant_name"] != "Jane Doe" || fields["status"] != StatusPendingReview {
		t.Fatalf("fields = %v", fields)
	}
	// Year is sent as a number to match the column type.
	if fields["year"] != float64(2027) {
		t.Fatalf("year = %v (%T)", fields["year"], fields["year"])
	}
	if fields["day_1"] != true {
		t.Fatalf("day_1 = %v", fields["day_1"])
	}
	if rec.ID != "recNew" || rec.Year != "2027" {
		t.Fatalf("returned record wrong: %+v", rec)
	}
}

func TestAirtableUpdateOnlyNamedFields(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rec123", "fields": gotBody["fields"]})
	})

	photo := "https://example.com/new.png"
	_, err := s.Update(context.Background(), "rec123", Update{
		PhotoURL:   &photo,
		Attendance: map[string]bool{"day_2": true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/appBase/Applicants/rec123" {
		t.Fatalf("path = %s", gotPath)
	}
	fields := gotBody["fields"].(map[string]any)
	if len(fields) != 2 {
		t.Fatalf("patch must carry only named fields, got %v", fields)
	}
	if fields["photo"] != photo || fields["day_2"] != true {
		t.Fatalf("fields = %v", fields)
	}
}

func TestAirtableGetNotFound(t *testing.T) {
	s := newTestAirtable(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"NOT_FOUND"}`, http.StatusNotFound)
	})

	_, err := s.Get(context.Background(), "recMissing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
