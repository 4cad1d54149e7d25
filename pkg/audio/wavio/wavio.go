// Package wavio provides file-backed audio devices: a capture device that
// reads a WAV file as if it were a microphone and an output device that
// renders the scheduled timeline into a WAV file. They serve headless
// environments and tests where no audio hardware exists.
package wavio

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voxmark/voxmark/pkg/audio"
)

// ── capture ──────────────────────────────────────────────────────────────

// CaptureDevice reads a WAV file and replays it as microphone input,
// downmixing to mono and resampling to the requested rate.
type CaptureDevice struct {
	// Path is the WAV file to replay.
	Path string
}

// RequestStream opens the file, decodes it fully, and delivers the samples
// as frames of frameSize samples at sampleRate Hz. The stream's channel is
// closed when the file is exhausted.
func (d *CaptureDevice) RequestStream(ctx context.Context, sampleRate, frameSize int) (audio.CaptureStream, error) {
	seg, err := ReadFile(d.Path)
	if err != nil {
		return nil, err
	}
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	samples := audio.ResampleMono(seg.Channels[0], seg.SampleRate, sampleRate)

	s := &fileStream{
		frames: make(chan audio.Frame),
		done:   make(chan struct{}),
	}
	go func() {
		defer s.closeFrames()
		for off := 0; off < len(samples); off += frameSize {
			end := min(off+frameSize, len(samples))
			frame := audio.Frame{Samples: samples[off:end], SampleRate: sampleRate}
			select {
			case s.frames <- frame:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}

type fileStream struct {
	frames chan audio.Frame
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *fileStream) Frames() <-chan audio.Frame { return s.frames }

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// closeFrames is called by the producing goroutine only, after it has
// stopped sending.
func (s *fileStream) closeFrames() {
	close(s.frames)
}

// ReadFile decodes a WAV file into a mono [audio.Segment] at the file's
// native rate, downmixing multi-channel content by averaging.
func ReadFile(path string) (audio.Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Segment{}, fmt.Errorf("wavio: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return audio.Segment{}, fmt.Errorf("wavio: %s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Segment{}, fmt.Errorf("wavio: decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	scale := float32(int(1) << (dec.BitDepth - 1))
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return audio.Segment{
		Channels:   [][]float32{mono},
		SampleRate: int(dec.SampleRate),
	}, nil
}

// ── output ───────────────────────────────────────────────────────────────

// OutputDevice accumulates scheduled segments on a virtual timeline and
// renders the result, silence gaps included, to a WAV file on Close.
//
// The clock is virtual: CurrentTime reports the end of the rendered
// timeline, so back-to-back scheduling produces a gapless file.
type OutputDevice struct {
	path       string
	sampleRate int

	mu       sync.Mutex
	timeline []float32
	end      float64
	closed   bool
}

// NewOutputDevice creates a device that writes its rendered timeline to
// path at sampleRate Hz when closed.
func NewOutputDevice(path string, sampleRate int) *OutputDevice {
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackRate
	}
	return &OutputDevice{path: path, sampleRate: sampleRate}
}

// CurrentTime reports the end of the timeline rendered so far, in seconds.
func (d *OutputDevice) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.end
}

// ScheduleAt mixes seg into the timeline starting at `when` seconds,
// growing the timeline (with silence) as needed. Multi-channel segments are
// downmixed to mono; segments at a foreign rate are resampled.
func (d *OutputDevice) ScheduleAt(seg audio.Segment, when float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("wavio: output device closed")
	}
	if when < 0 {
		when = 0
	}

	mono := downmix(seg)
	mono = audio.ResampleMono(mono, seg.SampleRate, d.sampleRate)

	start := int(math.Round(when * float64(d.sampleRate)))
	need := start + len(mono)
	if need > len(d.timeline) {
		d.timeline = append(d.timeline, make([]float32, need-len(d.timeline))...)
	}
	for i, s := range mono {
		d.timeline[start+i] += s
	}
	if end := float64(need) / float64(d.sampleRate); end > d.end {
		d.end = end
	}
	return nil
}

// Close renders the accumulated timeline to the device's WAV file.
// Idempotent; only the first call writes.
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	f, err := os.Create(d.path)
	if err != nil {
		return fmt.Errorf("wavio: create %s: %w", d.path, err)
	}
	enc := wav.NewEncoder(f, d.sampleRate, 16, 1, 1)

	data := make([]int, len(d.timeline))
	for i, s := range d.timeline {
		v := s * 32767
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: d.sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("wavio: write %s: %w", d.path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("wavio: finalize %s: %w", d.path, err)
	}
	return f.Close()
}

func downmix(seg audio.Segment) []float32 {
	if len(seg.Channels) == 1 {
		return seg.Channels[0]
	}
	frames := seg.FrameCount()
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for _, ch := range seg.Channels {
			sum += ch[i]
		}
		mono[i] = sum / float32(len(seg.Channels))
	}
	return mono
}
