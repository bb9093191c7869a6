package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Field names in the hosted table.
const (
	fieldName   = "applicant_name"
	fieldYear   = "year"
	fieldEmail  = "email"
	fieldPhoto  = "photo"
	fieldStatus = "status"

	// Per-occurrence attendance columns share this prefix (day_1, day_2, ...).
	occurrencePrefix = "day_"
)

// AirtableStore talks to an Airtable-style tabular REST API.
type AirtableStore struct {
	BaseURL string
	APIKey  string
	BaseID  string
	Table   string
	HTTP    *http.Client
}

// NewAirtable creates a client for one base and table.
func NewAirtable(apiKey, baseID, table string) *AirtableStore {
	return &AirtableStore{
		BaseURL: "https://api.airtable.com/v0",
		APIKey:  apiKey,
		BaseID:  baseID,
		Table:   table,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type airtableRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type airtableList struct {
	Records []airtableRecord `json:"records"`
}

// Query fetches records matching f, first match first.
func (s *AirtableStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := url.Values{}
	if formula := buildFormula(f); formula != "" {
		q.Set("filterByFormula", formula)
	}
	if f.Max > 0 {
		q.Set("maxRecords", strconv.Itoa(f.Max))
	}
	endpoint := s.tableURL()
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var out airtableList
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(out.Records))
	for _, r := range out.Records {
		recs = append(recs, decodeFields(r.ID, r.Fields))
	}
	return recs, nil
}

// Create inserts a new record and returns the stored copy with its id.
func (s *AirtableStore) Create(ctx context.Context, rec Record) (Record, error) {
	body := map[string]any{"fields": encodeRecord(rec), "typecast": true}
	var out airtableRecord
	if err := s.do(ctx, http.MethodPost, s.tableURL(), body, &out); err != nil {
		return Record{}, err
	}
	return decodeFields(out.ID, out.Fields), nil
}

// Update patches only the fields named in u.
func (s *AirtableStore) Update(ctx context.Context, id string, u Update) (Record, error) {
	body := map[string]any{"fields": encodeUpdate(u), "typecast": true}
	var out airtableRecord
	if err := s.do(ctx, http.MethodPatch, s.tableURL()+"/"+url.PathEscape(id), body, &out); err != nil {
		return Record{}, err
	}
	return decodeFields(out.ID, out.Fields), nil
}

// Get fetches one record by id.
func (s *AirtableStore) Get(ctx context.Context, id string) (Record, error) {
	var out airtableRecord
	if err := s.do(ctx, http.MethodGet, s.tableURL()+"/"+url.PathEscape(id), nil, &out); err != nil {
		return Record{}, err
	}
	return decodeFields(out.ID, out.Fields), nil
}

func (s *AirtableStore) tableURL() string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.BaseURL, "/"), s.BaseID, url.PathEscape(s.Table))
}

func (s *AirtableStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("airtable: encode request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("airtable: create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("airtable: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(raw)))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The API rejected the filter expression itself; callers treat
		// this differently from an empty result set.
		return fmt.Errorf("%w: %s", ErrBadFilter, strings.TrimSpace(string(raw)))
	case resp.StatusCode >= 300:
		return fmt.Errorf("airtable: %s %s failed (%d): %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("airtable: decode response failed: %w", err)
	}
	return nil
}

// buildFormula renders a Filter as a filterByFormula expression.
func buildFormula(f Filter) string {
	var terms []string
	if f.Name != "" {
		terms = append(terms, fmt.Sprintf("{%s} = %s", fieldName, quoteFormula(f.Name)))
	}
	if f.Year != "" {
		terms = append(terms, fmt.Sprintf("{%s} = %s", fieldYear, f.Year))
	}
	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	default:
		return "AND(" + strings.Join(terms, ", ") + ")"
	}
}

func quoteFormula(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func decodeFields(id string, fields map[string]any) Record {
	rec := Record{ID: id}
	for k, v := range fields {
		switch {
		case k == fieldName:
			rec.Name, _ = v.(string)
		case k == fieldYear:
			switch y := v.(type) {
			case float64:
				rec.Year = strconv.Itoa(int(y))
			case string:
				rec.Year = y
			}
		case k == fieldEmail:
			rec.Email, _ = v.(string)
		case k == fieldPhoto:
			rec.PhotoURL, _ = v.(string)
		case k == fieldStatus:
			rec.Status, _ = v.(string)
		case strings.HasPrefix(k, occurrencePrefix):
			if rec.Attendance == nil {
				rec.Attendance = make(map[string]bool)
			}
			rec.Attendance[k], _ = v.(bool)
		}
	}
	return rec
}

func encodeRecord(rec Record) map[string]any {
	fields := map[string]any{fieldName: rec.Name}
	if rec.Year != "" {
		fields[fieldYear] = yearValue(rec.Year)
	}
	if rec.Email != "" {
		fields[fieldEmail] = rec.Email
	}
	if rec.PhotoURL != "" {
		fields[fieldPhoto] = rec.PhotoURL
	}
	if rec.Status != "" {
		fields[fieldStatus] = rec.Status
	}
	for occ, present := range rec.Attendance {
		fields[occ] = present
	}
	return fields
}

func encodeUpdate(u Update) map[string]any {
	fields := map[string]any{}
	if u.PhotoURL != nil {
		fields[fieldPhoto] = *u.PhotoURL
	}
	if u.Year != nil {
		fields[fieldYear] = yearValue(*u.Year)
	}
	if u.Email != nil {
		fields[fieldEmail] = *u.Email
	}
	for occ, present := range u.Attendance {
		fields[occ] = present
	}
	return fields
}

// yearValue preserves the numeric column type the table uses.
func yearValue(y string) any {
	if n, err := strconv.Atoi(y); err == nil {
		return n
	}
	return y
}
