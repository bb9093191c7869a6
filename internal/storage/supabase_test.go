package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestSupabase(t *testing.T, h http.HandlerFunc) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewSupabase(srv.URL, "svc-key", "photos")
}

func TestSupabaseUpload(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotType string
	var gotBody []byte
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	obj, err := s.Upload(context.Background(), "jane-123.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/storage/v1/object/photos/jane-123.png" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotAuth != "Bearer svc-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotType != "image/png" {
		t.Fatalf("content type = %q", gotType)
	}
	if string(gotBody) != "png-bytes" {
		t.Fatalf("body = %q", gotBody)
	}
	if obj.Key != "jane-123.png" {
		t.Fatalf("object key = %q", obj.Key)
	}
	if obj.URL != s.ProjectURL+"/storage/v1/object/public/photos/jane-123.png" {
		t.Fatalf("object URL = %q", obj.URL)
	}
}

func TestSupabaseUploadFailure(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusBadRequest)
	})

	if _, err := s.Upload(context.Background(), "x.png", []byte("png"), "image/png"); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestSupabaseDelete(t *testing.T) {
	var gotMethod, gotPath string
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	if err := s.Delete(context.Background(), "jane-123.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Fatalf("method = %s", gotMethod)
	}
	if gotPath != "/storage/v1/object/photos/jane-123.png" {
		t.Fatalf("path = %s", gotPath)
	}
}

func TestSupabaseDeleteMissingIsOK(t *testing.T) {
	s := newTestSupabase(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	// An already-gone blob is success for the cleanup worker.
	if err := s.Delete(context.Background(), "gone.png"); err != nil {
		t.Fatalf("delete of missing object must succeed: %v", err)
	}
}

func TestSupabasePublicURLEscapesKey(t *testing.T) {
	s := NewSupabase("https://proj.example.com/", "k", "photos")
	got := s.PublicURL("Jane Doe-1.png")
	want := "https://proj.example.com/storage/v1/object/public/photos/Jane%20Doe-1.png"
	if got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}
}
