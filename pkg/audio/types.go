// Package audio implements the PCM codec, the microphone capture pipeline,
// and the gapless playback scheduler that form the real-time audio core of
// VoxMark.
//
// Audio flows through the package in three representations:
//
//   - [Frame] — normalized float32 samples captured from a microphone at
//     [CaptureRate].
//   - [Chunk] — the wire form: little-endian 16-bit PCM, base64-encoded and
//     tagged with a MIME descriptor, ready for the live session.
//   - [Segment] — decoded playback samples at the remote model's output rate,
//     owned by the [Scheduler] until handed to the output device.
//
// Device connectivity (microphone and speaker) is abstracted behind the
// interfaces in device.go; file-backed implementations live in the wavio
// subpackage and scripted fakes in mock.
package audio

import "time"

const (
	// CaptureRate is the input sample rate (Hz) required by the live wire
	// contract, independent of the capture hardware's native rate.
	CaptureRate = 16000

	// PlaybackRate is the sample rate (Hz) of audio received from the remote
	// model.
	PlaybackRate = 24000

	// DefaultFrameSize is the number of samples delivered per capture callback.
	DefaultFrameSize = 4096

	// MIMEPCM16k tags outbound chunks with the wire format descriptor.
	MIMEPCM16k = "audio/pcm;rate=16000"
)

// Frame is a fixed-length batch of normalized mono samples in [-1, 1]
// delivered by the capture subsystem. Frames are ephemeral: produced once
// per capture callback, encoded immediately, then discarded.
type Frame struct {
	// Samples holds the captured audio, one float32 per sample.
	Samples []float32

	// SampleRate in Hz. The capture pipeline guarantees [CaptureRate] by
	// resampling when the hardware's native rate differs.
	SampleRate int
}

// Duration returns the playing time of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is an encoded audio frame in wire form: base64 text over
// little-endian 16-bit PCM, tagged with a MIME descriptor. Chunks are
// immutable once produced; ownership transfers to the session for
// transmission.
type Chunk struct {
	// Data is the base64-encoded PCM payload. Empty for a zero-length frame.
	Data string

	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string
}

// Segment is a decoded unit of output audio: per-channel normalized samples
// at a known rate. The playback scheduler owns a Segment until it is
// scheduled; after that, ownership conceptually transfers to the output
// device.
type Segment struct {
	// Channels holds one sample slice per audio channel. All slices have
	// equal length. The live pipeline always produces mono (one channel).
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// FrameCount returns the number of sample frames (per channel) in the segment.
func (s Segment) FrameCount() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration returns the playing time of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.FrameCount()) * time.Second / time.Duration(s.SampleRate)
}

// Seconds returns the playing time of the segment in seconds, the unit used
// by the output device clock.
func (s Segment) Seconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.FrameCount()) / float64(s.SampleRate)
}
