// Package mock provides scripted in-memory audio devices for tests: a
// capture device that replays pre-recorded frames and an output device with
// a manually advanced clock that records every scheduling decision.
package mock

import (
	"context"
	"sync"

	"github.com/voxmark/voxmark/pkg/audio"
)

// CaptureDevice hands out [CaptureStream]s that replay scripted frames.
// Set Deny to make RequestStream fail with [audio.ErrPermissionDenied].
type CaptureDevice struct {
	// Frames is the script replayed by every stream the device grants.
	Frames []audio.Frame

	// Deny simulates the platform refusing microphone access.
	Deny bool

	// HoldOpen keeps the stream's channel open after the script has been
	// replayed instead of closing it, mimicking a live microphone.
	HoldOpen bool

	mu      sync.Mutex
	granted int
}

// RequestStream replays the scripted frames on a fresh stream.
func (d *CaptureDevice) RequestStream(ctx context.Context, sampleRate, frameSize int) (audio.CaptureStream, error) {
	if d.Deny {
		return nil, audio.ErrPermissionDenied
	}
	d.mu.Lock()
	d.granted++
	d.mu.Unlock()

	s := &CaptureStream{
		frames: make(chan audio.Frame, len(d.Frames)+1),
		done:   make(chan struct{}),
	}
	// The replay goroutine owns the frame channel: only it closes frames, so
	// a concurrent Close can never race a send.
	go func() {
		defer close(s.frames)
		for _, f := range d.Frames {
			select {
			case s.frames <- f:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if d.HoldOpen {
			select {
			case <-s.done:
			case <-ctx.Done():
			}
		}
	}()
	return s, nil
}

// Granted reports how many streams the device has handed out.
func (d *CaptureDevice) Granted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted
}

// CaptureStream is the stream type handed out by [CaptureDevice].
type CaptureStream struct {
	frames chan audio.Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Frames returns the scripted frame channel.
func (s *CaptureStream) Frames() <-chan audio.Frame { return s.frames }

// Close signals the replay goroutine to stop; the goroutine closes the frame
// channel on its way out. Idempotent.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Placement records one scheduling decision made against an [OutputDevice].
type Placement struct {
	Segment audio.Segment
	When    float64
}

// OutputDevice is a recording output with a manually advanced clock. Tests
// set the clock with [OutputDevice.SetClock] and inspect the resulting
// placements.
type OutputDevice struct {
	mu         sync.Mutex
	clock      float64
	placements []Placement
	closed     bool
}

// SetClock moves the device clock to t seconds.
func (d *OutputDevice) SetClock(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = t
}

// CurrentTime returns the manually set clock.
func (d *OutputDevice) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

// ScheduleAt records the placement without rendering anything.
func (d *OutputDevice) ScheduleAt(seg audio.Segment, when float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.placements = append(d.placements, Placement{Segment: seg, When: when})
	return nil
}

// Placements returns a copy of every recorded placement in order.
func (d *OutputDevice) Placements() []Placement {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Placement, len(d.placements))
	copy(out, d.placements)
	return out
}

// Close marks the device closed. Idempotent.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (d *OutputDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
