package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSchedulerClosed is returned by [Scheduler.Schedule] after [Scheduler.Close]
// has begun; no new segments may be scheduled during or after teardown.
var ErrSchedulerClosed = errors.New("audio: scheduler closed")

// Scheduler renders an ordered stream of decoded segments as continuous
// audio with no audible gaps or overlaps, despite segments arriving at
// irregular intervals with irregular durations.
//
// It maintains a monotonically non-decreasing cursor: each segment is
// scheduled at max(cursor, device clock now), and the cursor then advances
// by the segment's duration. When the pipeline keeps up, segments play
// back-to-back with zero gap; when a segment arrives late, playback catches
// up without overlap. Segments are never reordered.
//
// Scheduler is safe for concurrent use. The receive loop is its only
// producer in practice, but the mutex keeps the cursor invariant intact
// in any goroutine topology.
type Scheduler struct {
	device OutputDevice

	mu        sync.Mutex
	nextStart float64
	scheduled int
	closed    bool
}

// NewScheduler creates a Scheduler that plays segments on device.
// The cursor starts at zero and snaps forward to the device clock on first
// use.
func NewScheduler(device OutputDevice) *Scheduler {
	return &Scheduler{device: device}
}

// Schedule enqueues seg for gapless playback after everything scheduled
// before it. It is fire-and-forget: the call returns as soon as the segment
// has been handed to the output device.
func (s *Scheduler) Schedule(seg Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	// Absorb any scheduling delay so playback never starts in the past.
	if now := s.device.CurrentTime(); now > s.nextStart {
		s.nextStart = now
	}

	if err := s.device.ScheduleAt(seg, s.nextStart); err != nil {
		return fmt.Errorf("audio: schedule segment: %w", err)
	}
	s.nextStart += seg.Seconds()
	s.scheduled++
	return nil
}

// Scheduled reports how many segments have been handed to the device.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Close tears down the scheduler and closes the output device, abandoning
// any segments still pending in the device's queue. Idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.device.Close()
}
