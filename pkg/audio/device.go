package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [CaptureDevice.RequestStream] when the
// platform refuses microphone access. It fails the session's connection
// attempt before any network resource is allocated.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// CaptureStream is an active microphone acquisition. The stream delivers
// fixed-size frames at the requested rate until Close is called or the
// underlying source ends, at which point the Frames channel is closed.
//
// Implementations must be safe for concurrent use.
type CaptureStream interface {
	// Frames returns the read-only channel on which captured frames arrive.
	// The producing side must never block the platform's capture callback:
	// if the consumer falls behind, frames are dropped, not queued without
	// bound.
	Frames() <-chan Frame

	// Close releases the capture hardware. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// CaptureDevice grants access to a microphone.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// RequestStream acquires a mono input stream delivering frames of
	// frameSize samples at sampleRate Hz, resampling from the hardware's
	// native rate when necessary. Fails with [ErrPermissionDenied] when
	// access is refused.
	RequestStream(ctx context.Context, sampleRate, frameSize int) (CaptureStream, error)
}

// OutputDevice renders scheduled audio segments against a monotonic clock.
// The device owns its own playout queue: ScheduleAt is fire-and-forget and
// multiple segments may be pending simultaneously.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// CurrentTime returns the device clock in seconds. The clock is
	// monotonically non-decreasing.
	CurrentTime() float64

	// ScheduleAt enqueues seg to begin playing exactly at the device time
	// `when` (seconds). It must not block until playback completes.
	ScheduleAt(seg Segment, when float64) error

	// Close tears the device down, abandoning any pending segments. Safe to
	// call more than once.
	Close() error
}
