// Package capture drives the kiosk camera lifecycle and turns live
// frames into still images for the check-in flow.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"
)

// State of the camera lifecycle: idle → requesting → streaming → idle,
// with error reachable from requesting.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Facing selects between the two cameras of a handheld device.
type Facing int

const (
	FacingFront Facing = iota
	FacingBack
)

func (f Facing) String() string {
	if f == FacingBack {
		return "back"
	}
	return "front"
}

// Opposite returns the other facing.
func (f Facing) Opposite() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// ParseFacing maps a request value to a Facing; front is the default.
func ParseFacing(v string) Facing {
	if v == "back" {
		return FacingBack
	}
	return FacingFront
}

// Constraints are the hints passed when opening a stream.
type Constraints struct {
	Width  int
	Height int
	Facing Facing
}

// Stream is a live camera feed. Close releases the hardware tracks.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Device opens camera streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	CanFace(f Facing) bool
}

// ErrNoStream is returned when a capture or flip is attempted with no
// active stream. Callers must not treat this as a silent no-op.
var ErrNoStream = errors.New("capture: no active stream")

// ErrSingleCamera is returned by Flip on devices with one camera.
var ErrSingleCamera = errors.New("capture: device has a single camera")

// ErrStarting is returned when Start is called while a previous start
// is still acquiring its stream.
var ErrStarting = errors.New("capture: start already in progress")

// Options tune a Camera.
type Options struct {
	// Settle is the pause between stopping one stream and opening the
	// opposite camera; some hardware fails to reacquire immediately.
	Settle time.Duration
	// Large and Small are the two target resolutions; Small is used
	// when the caller asks for a compact viewport.
	Large Constraints
	Small Constraints
}

// Camera owns the one exclusive hardware resource in the system. All
// transitions release or acquire tracks under its lock; Close stops
// everything no matter what state the camera is in.
type Camera struct {
	dev    Device
	settle time.Duration
	large  Constraints
	small  Constraints

	mu      sync.Mutex
	state   State
	stream  Stream
	facing  Facing
	compact bool
	lastErr error
	// gen invalidates an in-flight Start when a Stop or a newer Start
	// lands while the device is still opening the stream.
	gen uint64
}

// New creates a Camera over dev.
func New(dev Device, opts Options) *Camera {
	if opts.Settle <= 0 {
		opts.Settle = 300 * time.Millisecond
	}
	if opts.Large.Width == 0 {
		opts.Large = Constraints{Width: 1280, Height: 720}
	}
	if opts.Small.Width == 0 {
		opts.Small = Constraints{Width: 640, Height: 480}
	}
	return &Camera{dev: dev, settle: opts.Settle, large: opts.Large, small: opts.Small}
}

// Start acquires a stream, honoring the preferred facing when the
// device supports it. Compact selects the smaller target resolution.
func (c *Camera) Start(ctx context.Context, preferred Facing, compact bool) error {
	c.mu.Lock()
	switch c.state {
	case StateStreaming:
		c.mu.Unlock()
		return nil
	case StateRequesting:
		// Another Start is already opening a stream. Admitting a second
		// one would race it for c.stream and leak whichever loses.
		c.mu.Unlock()
		return ErrStarting
	}
	facing := preferred
	if !c.dev.CanFace(facing) {
		facing = facing.Opposite()
	}
	constraints := c.large
	if compact {
		constraints = c.small
	}
	constraints.Facing = facing
	c.state = StateRequesting
	c.lastErr = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	stream, err := c.dev.Open(ctx, constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// A Stop landed while the stream was being acquired. The stop
		// wins: release the fresh stream instead of resurrecting it.
		if stream != nil {
			_ = stream.Close()
		}
		if err != nil {
			return fmt.Errorf("capture: open camera: %w", err)
		}
		return nil
	}
	if err != nil {
		c.state = StateError
		c.lastErr = err
		return fmt.Errorf("capture: open camera: %w", err)
	}
	c.stream = stream
	c.state = StateStreaming
	c.facing = facing
	c.compact = compact
	return nil
}

// Stop releases all acquired tracks. Idempotent; always lands in idle,
// and an in-flight Start must not undo it.
func (c *Camera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	c.state = StateIdle
	c.lastErr = nil
}

// Flip switches to the opposite camera. Only meaningful while
// streaming on a device with two cameras; the settle pause between
// stop and restart is required by some hardware.
func (c *Camera) Flip(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStreaming {
		c.mu.Unlock()
		return ErrNoStream
	}
	next := c.facing.Opposite()
	compact := c.compact
	c.mu.Unlock()

	if !c.dev.CanFace(next) {
		return ErrSingleCamera
	}

	c.Stop()
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Start(ctx, next, compact)
}

// CaptureStill copies the current frame into a PNG at the stream's
// native resolution. Fails with ErrNoStream when nothing is streaming.
func (c *Camera) CaptureStill(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	stream := c.stream
	streaming := c.state == StateStreaming
	c.mu.Unlock()
	if !streaming || stream == nil {
		return nil, ErrNoStream
	}

	frame, err := stream.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: read frame: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, fmt.Errorf("capture: encode still: %w", err)
	}
	return buf.Bytes(), nil
}

// State reports the current lifecycle state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Facing reports which camera is (or was last) streaming.
func (c *Camera) Facing() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.facing
}

// Err returns the error that put the camera into the error state.
func (c *Camera) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close releases the hardware on teardown, whether or not Stop was
// called. Leaving tracks open keeps the camera indicator lit.
func (c *Camera) Close() {
	c.Stop()
}
