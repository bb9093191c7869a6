package checkin

import (
	"errors"
	"fmt"
)

// ErrBusy rejects a second operation while one is in flight. The UI
// equivalent is the disabled submit button.
var ErrBusy = errors.New("checkin: operation in flight")

// ValidationError reports a missing or invalid form field. It is
// raised before any network call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkin: invalid %s: %s", e.Field, e.Msg)
}

// LookupError means both query tiers failed.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return "checkin: lookup failed: " + e.Err.Error() }
func (e *LookupError) Unwrap() error { return e.Err }

// MediaError wraps camera and still-image problems.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string { return "checkin: media: " + e.Err.Error() }
func (e *MediaError) Unwrap() error { return e.Err }

// UploadError means the blob upload failed; no record write happened.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return "checkin: upload failed: " + e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

// WriteError means the record write failed. When it follows a
// successful upload the blob is orphaned; the failure is still
// surfaced and the key is queued for cleanup.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "checkin: record write failed: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }
