package audio

import (
	"sync"
	"testing"
	"time"
)

// scriptStream feeds a fixed set of frames, then closes.
type scriptStream struct {
	frames chan Frame

	mu     sync.Mutex
	closed bool
}

func newScriptStream(frames ...Frame) *scriptStream {
	s := &scriptStream{frames: make(chan Frame, len(frames))}
	for _, f := range frames {
		s.frames <- f
	}
	close(s.frames)
	return s
}

func (s *scriptStream) Frames() <-chan Frame { return s.frames }

func (s *scriptStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func testFrame(n int) Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	return Frame{Samples: samples, SampleRate: CaptureRate}
}

func collect(t *testing.T, ch <-chan Chunk, n int) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatalf("timed out after %d of %d chunks", len(out), n)
		}
	}
	return out
}

func TestPump_ForwardsInOrder(t *testing.T) {
	t.Parallel()

	stream := newScriptStream(testFrame(100), testFrame(200), testFrame(300))
	p := NewPump(stream)
	defer p.Stop()

	chunks := collect(t, p.Out(), 3)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	wantLens := []int{100, 200, 300}
	for i, c := range chunks {
		seg, err := DecodeChunk(c.Data, CaptureRate, 1)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if seg.FrameCount() != wantLens[i] {
			t.Errorf("chunk %d: %d samples, want %d", i, seg.FrameCount(), wantLens[i])
		}
	}
	if p.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", p.Dropped())
	}
}

func TestPump_ClosesOutWhenStreamEnds(t *testing.T) {
	t.Parallel()

	p := NewPump(newScriptStream(testFrame(10)))
	defer p.Stop()

	collect(t, p.Out(), 1)
	select {
	case _, ok := <-p.Out():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("out channel never closed")
	}
}

func TestPump_DropsWhenConsumerStalls(t *testing.T) {
	t.Parallel()

	const total = 20
	frames := make([]Frame, total)
	for i := range frames {
		frames[i] = testFrame(64)
	}
	p := NewPump(newScriptStream(frames...), WithPumpBuffer(2))
	defer p.Stop()

	// No consumer reads: the buffer holds 2 chunks and the run loop must
	// drop the other 18 rather than block.
	deadline := time.Now().Add(3 * time.Second)
	for p.Dropped() != total-2 {
		if time.Now().After(deadline) {
			t.Fatalf("dropped = %d, want %d", p.Dropped(), total-2)
		}
		time.Sleep(time.Millisecond)
	}
	if got := collect(t, p.Out(), 2); len(got) != 2 {
		t.Fatalf("buffered chunks = %d, want 2", len(got))
	}
}

func TestPump_ResamplesForeignRate(t *testing.T) {
	t.Parallel()

	// 48 kHz frame must arrive as 16 kHz on the wire: third the samples.
	frame := Frame{Samples: make([]float32, 4800), SampleRate: 48000}
	p := NewPump(newScriptStream(frame))
	defer p.Stop()

	chunks := collect(t, p.Out(), 1)
	seg, err := DecodeChunk(chunks[0].Data, CaptureRate, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.FrameCount() != 1600 {
		t.Errorf("samples = %d, want 1600", seg.FrameCount())
	}
}

func TestPump_StopReleasesStream(t *testing.T) {
	t.Parallel()

	stream := newScriptStream()
	p := NewPump(stream)
	p.Stop()
	p.Stop() // idempotent

	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Error("stream not closed after Stop")
	}
}

func TestPump_SkipsEmptyFrames(t *testing.T) {
	t.Parallel()

	p := NewPump(newScriptStream(Frame{SampleRate: CaptureRate}, testFrame(10)))
	defer p.Stop()

	chunks := collect(t, p.Out(), 1)
	if chunks[0].Data == "" {
		t.Error("empty frame leaked onto the wire")
	}
}
