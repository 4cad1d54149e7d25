package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedAudio is returned by [DecodePCM] and [DecodeChunk] when a
// payload's byte length is not a whole number of 16-bit sample frames.
// Callers drop the offending chunk and continue; the error is never fatal
// to a session.
var ErrMalformedAudio = errors.New("audio: malformed PCM payload")

// EncodeFrame converts normalized float32 samples into the wire form: each
// sample is multiplied by 32768 and truncated to a signed 16-bit integer,
// serialized little-endian, and base64-encoded.
//
// No clamping or dithering is applied; out-of-range input wraps around.
// A zero-length input produces a chunk with empty Data.
func EncodeFrame(samples []float32) Chunk {
	if len(samples) == 0 {
		return Chunk{MIMEType: MIMEPCM16k}
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32768)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return Chunk{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: MIMEPCM16k,
	}
}

// DecodePCM reinterprets raw little-endian 16-bit PCM bytes as normalized
// float32 samples, de-interleaved across channels. It fails with
// [ErrMalformedAudio] when the byte length is not a multiple of
// 2×channels.
func DecodePCM(pcm []byte, sampleRate, channels int) (Segment, error) {
	if channels <= 0 {
		return Segment{}, fmt.Errorf("audio: decode: channel count %d is invalid", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return Segment{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudio, len(pcm), 2*channels)
	}

	frames := len(pcm) / (2 * channels)
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			off := (i*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(pcm[off:]))
			out[c][i] = float32(v) / 32768
		}
	}
	return Segment{Channels: out, SampleRate: sampleRate}, nil
}

// DecodeChunk base64-decodes a transport payload and decodes the resulting
// PCM bytes via [DecodePCM].
func DecodeChunk(data string, sampleRate, channels int) (Segment, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: base64: %v", ErrMalformedAudio, err)
	}
	return DecodePCM(pcm, sampleRate, channels)
}

// WrapWAV prepends a standard 44-byte RIFF/WAVE header (mono, 16-bit, the
// given sample rate) to raw PCM bytes so that generic audio players can play
// the data without a dedicated decoder. Used by the one-shot speech path.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
		headerSize    = 44
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, headerSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// ResampleMono resamples normalized mono samples from srcRate to dstRate
// using linear interpolation. If the rates match (or either is non-positive)
// the input is returned unchanged. Capture hardware rarely runs natively at
// [CaptureRate]; the capture pipeline uses this to meet the wire contract.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
