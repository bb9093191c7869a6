package checkin

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"checkin/internal/queue"
	"checkin/internal/record"
	"checkin/internal/storage"
)

// Persister writes check-in results back: photo blob to object
// storage, then photo URL plus attendance (and any backfill) to the
// record store.
type Persister struct {
	objects    storage.Store
	records    record.Store
	occurrence string
	cleanup    queue.Queue
	log        *slog.Logger
	now        func() time.Time
}

// NewPersister creates a Persister for one event occurrence. cleanup
// may be nil; orphaned blobs are then only logged.
func NewPersister(objects storage.Store, records record.Store, occurrence string, cleanup queue.Queue, log *slog.Logger) *Persister {
	if log == nil {
		log = slog.Default()
	}
	return &Persister{
		objects:    objects,
		records:    records,
		occurrence: occurrence,
		cleanup:    cleanup,
		log:        log,
		now:        time.Now,
	}
}

// Persist uploads the captured still, then updates the matched record
// or creates a new one. The record write never happens when the
// upload fails. A write failure after a successful upload orphans the
// blob: the key is queued for cleanup and the failure still surfaces.
func (p *Persister) Persist(ctx context.Context, still []byte, name, year, email string, matched *record.Record) (record.Record, error) {
	if len(still) == 0 {
		return record.Record{}, &MediaError{Err: errors.New("empty still image")}
	}

	key := blobKey(name, p.now())
	obj, err := p.objects.Upload(ctx, key, still, "image/png")
	if err != nil {
		return record.Record{}, &UploadError{Err: err}
	}
	photoURL := obj.URL
	if photoURL == "" {
		photoURL = p.objects.PublicURL(obj.Key)
	}

	var rec record.Record
	if matched != nil {
		u := record.Update{
			PhotoURL:   &photoURL,
			Attendance: map[string]bool{p.occurrence: true},
		}
		backfill(&u, *matched, year, email)
		rec, err = p.records.Update(ctx, matched.ID, u)
	} else {
		rec, err = p.records.Create(ctx, record.Record{
			Name:       name,
			Year:       year,
			Email:      email,
			PhotoURL:   photoURL,
			Status:     record.StatusPendingReview,
			Attendance: map[string]bool{p.occurrence: true},
		})
	}
	if err != nil {
		p.queueCleanup(ctx, obj.Key)
		return record.Record{}, &WriteError{Err: err}
	}
	return rec, nil
}

// MarkAttendance handles the photo-complete path: only the current
// occurrence's flag changes, plus backfill of year/email the record
// lacks. Re-checking an already-attended record is a no-op beyond the
// flag already being true.
func (p *Persister) MarkAttendance(ctx context.Context, matched record.Record, year, email string) (record.Record, error) {
	u := record.Update{Attendance: map[string]bool{p.occurrence: true}}
	backfill(&u, matched, year, email)
	rec, err := p.records.Update(ctx, matched.ID, u)
	if err != nil {
		return record.Record{}, &WriteError{Err: err}
	}
	return rec, nil
}

// backfill sets year/email only when the stored record lacks them;
// a populated field is never overwritten.
func backfill(u *record.Update, matched record.Record, year, email string) {
	if matched.Year == "" && year != "" {
		u.Year = &year
	}
	if matched.Email == "" && email != "" {
		u.Email = &email
	}
}

func (p *Persister) queueCleanup(ctx context.Context, key string) {
	if p.cleanup == nil {
		p.log.Warn("orphaned photo blob, no cleanup queue configured", "key", key)
		return
	}
	msg := queue.Message{Kind: queue.KindOrphanedPhoto, Key: key}
	if err := p.cleanup.Publish(ctx, msg); err != nil {
		p.log.Warn("orphaned photo cleanup publish failed", "key", key, "err", err)
	}
}

// blobKey builds a unique object key; the timestamp suffix avoids
// collisions between attempts for the same name.
func blobKey(name string, t time.Time) string {
	return sanitizeName(name) + "-" + strconv.FormatInt(t.UnixMilli(), 10) + ".png"
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "applicant"
	}
	return b.String()
}
