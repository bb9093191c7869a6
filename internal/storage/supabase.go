package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseStore uploads photos to a Supabase storage bucket using its
// REST API and serves them back through the bucket's public URLs.
type SupabaseStore struct {
	ProjectURL string
	APIKey     string
	Bucket     string
	HTTP       *http.Client
}

// NewSupabase creates a storage client for one bucket.
func NewSupabase(projectURL, apiKey, bucket string) *SupabaseStore {
	return &SupabaseStore{
		ProjectURL: strings.TrimRight(projectURL, "/"),
		APIKey:     apiKey,
		Bucket:     bucket,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload stores data under key and returns the public object reference.
func (s *SupabaseStore) Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), bytes.NewReader(data))
	if err != nil {
		return Object{}, fmt.Errorf("storage: create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("storage: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return Object{}, fmt.Errorf("storage: upload failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return Object{Key: key, URL: s.PublicURL(key)}, nil
}

// PublicURL returns the durable public URL for a stored object.
func (s *SupabaseStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.ProjectURL, s.Bucket, escapeKey(key))
}

// Delete removes a stored object. Used by the cleanup worker for blobs
// orphaned by a failed record write.
func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("storage: create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("storage: delete failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *SupabaseStore) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.ProjectURL, s.Bucket, escapeKey(key))
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
