package audio

import (
	"errors"
	"sync"
	"testing"
)

// clockDevice records placements against a settable clock.
type clockDevice struct {
	mu         sync.Mutex
	clock      float64
	placements []float64
	closed     bool
}

func (d *clockDevice) setClock(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = t
}

func (d *clockDevice) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

func (d *clockDevice) ScheduleAt(seg Segment, when float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.placements = append(d.placements, when)
	return nil
}

func (d *clockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func monoSegment(seconds float64, rate int) Segment {
	return Segment{
		Channels:   [][]float32{make([]float32, int(seconds*float64(rate)))},
		SampleRate: rate,
	}
}

func TestScheduler_BackToBack(t *testing.T) {
	dev := &clockDevice{}
	s := NewScheduler(dev)

	// Clock at 0.0; a 1.0 s segment then a 0.5 s segment must land at
	// t=0.0 and t=1.0 with no gap.
	if err := s.Schedule(monoSegment(1.0, PlaybackRate)); err != nil {
		t.Fatalf("schedule 1: %v", err)
	}
	if err := s.Schedule(monoSegment(0.5, PlaybackRate)); err != nil {
		t.Fatalf("schedule 2: %v", err)
	}

	if len(dev.placements) != 2 {
		t.Fatalf("placements = %d, want 2", len(dev.placements))
	}
	if dev.placements[0] != 0.0 {
		t.Errorf("first start = %v, want 0.0", dev.placements[0])
	}
	if dev.placements[1] != 1.0 {
		t.Errorf("second start = %v, want 1.0", dev.placements[1])
	}
}

func TestScheduler_LateArrivalSnapsToClock(t *testing.T) {
	dev := &clockDevice{}
	s := NewScheduler(dev)

	if err := s.Schedule(monoSegment(0.5, PlaybackRate)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Playback finished at 0.5 and the clock ran on to 2.0 before the next
	// segment arrived; it must start now, not in the past.
	dev.setClock(2.0)
	if err := s.Schedule(monoSegment(0.5, PlaybackRate)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if dev.placements[1] != 2.0 {
		t.Errorf("late start = %v, want 2.0", dev.placements[1])
	}
}

func TestScheduler_NoOverlapNoGap(t *testing.T) {
	dev := &clockDevice{}
	s := NewScheduler(dev)

	durations := []float64{0.3, 0.1, 0.7, 0.2, 0.4}
	for _, d := range durations {
		if err := s.Schedule(monoSegment(d, PlaybackRate)); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	// While the clock stays behind the cursor, each start equals the
	// previous start plus the previous duration: no overlap, no gap.
	var want float64
	for i, got := range dev.placements {
		if got < want-1e-9 || got > want+1e-9 {
			t.Errorf("segment %d start = %v, want %v", i, got, want)
		}
		want += durations[i]
	}
	if s.Scheduled() != len(durations) {
		t.Errorf("Scheduled() = %d, want %d", s.Scheduled(), len(durations))
	}
}

func TestScheduler_StartsNonDecreasing(t *testing.T) {
	dev := &clockDevice{}
	s := NewScheduler(dev)

	clocks := []float64{0, 0.05, 0.6, 0.6, 3.2}
	for _, c := range clocks {
		dev.setClock(c)
		if err := s.Schedule(monoSegment(0.2, PlaybackRate)); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	for i := 1; i < len(dev.placements); i++ {
		if dev.placements[i] < dev.placements[i-1] {
			t.Errorf("start %d (%v) before start %d (%v)", i, dev.placements[i], i-1, dev.placements[i-1])
		}
	}
}

func TestScheduler_ClosedRejects(t *testing.T) {
	dev := &clockDevice{}
	s := NewScheduler(dev)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !dev.closed {
		t.Error("device not closed")
	}
	if err := s.Schedule(monoSegment(0.1, PlaybackRate)); !errors.Is(err, ErrSchedulerClosed) {
		t.Errorf("err = %v, want ErrSchedulerClosed", err)
	}
	// Second close is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
