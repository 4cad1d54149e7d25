package mock

import (
	"context"
	"testing"
	"time"

	"github.com/voxmark/voxmark/pkg/audio"
)

func script(n int) []audio.Frame {
	frames := make([]audio.Frame, n)
	for i := range frames {
		frames[i] = audio.Frame{Samples: make([]float32, 4)}
	}
	return frames
}

func TestCaptureDevice_Deny(t *testing.T) {
	t.Parallel()
	d := &CaptureDevice{Deny: true}
	if _, err := d.RequestStream(context.Background(), audio.CaptureRate, 4); err != audio.ErrPermissionDenied {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if d.Granted() != 0 {
		t.Errorf("granted = %d", d.Granted())
	}
}

func TestCaptureStream_ReplaysScriptThenCloses(t *testing.T) {
	t.Parallel()
	d := &CaptureDevice{Frames: script(3)}
	s, err := d.RequestStream(context.Background(), audio.CaptureRate, 4)
	if err != nil {
		t.Fatalf("RequestStream: %v", err)
	}

	var got int
	for range s.Frames() {
		got++
	}
	if got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}
}

func TestCaptureStream_HoldOpenClosesOnClose(t *testing.T) {
	t.Parallel()
	d := &CaptureDevice{Frames: script(2), HoldOpen: true}
	s, err := d.RequestStream(context.Background(), audio.CaptureRate, 4)
	if err != nil {
		t.Fatalf("RequestStream: %v", err)
	}

	<-s.Frames()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-s.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel never closed after Close")
		}
	}
}

// Close must be safe while the replay goroutine is still sending: only the
// goroutine closes the frame channel, so racing them cannot panic.
func TestCaptureStream_CloseRacesReplay(t *testing.T) {
	t.Parallel()
	d := &CaptureDevice{Frames: script(64)}

	for i := 0; i < 200; i++ {
		s, err := d.RequestStream(context.Background(), audio.CaptureRate, 4)
		if err != nil {
			t.Fatalf("RequestStream: %v", err)
		}
		go func() {
			for range s.Frames() {
			}
		}()
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if !s.(*CaptureStream).Closed() {
			t.Fatal("Closed() = false after Close")
		}
	}
}
