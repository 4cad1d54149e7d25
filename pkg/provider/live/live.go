// Package live defines the Dialer interface for real-time voice backends.
//
// A live provider wraps a bidirectional voice model service that accepts raw
// audio input and returns synthesised audio output in a single, stateful
// session. The central abstraction is Session: a multiplexed channel pair
// carrying model audio and output transcription concurrently. Sessions are
// long-lived (seconds to minutes) and terminate on the first transport
// failure; reconnection is the caller's decision, never the session's.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/voxmark/voxmark/pkg/audio"
)

// SessionConfig is the initial configuration for a new live session.
// It is fixed for the session's lifetime; mid-session reconfiguration is not
// part of the contract.
type SessionConfig struct {
	// Instructions is the system-level prompt steering the model's spoken
	// persona for the whole session.
	Instructions string

	// Voice selects the prebuilt voice for synthesised output. Empty means
	// the provider's default.
	Voice string

	// OutputTranscription requests a text rendition of the model's spoken
	// output alongside the audio.
	OutputTranscription bool
}

// Session is an open bidirectional voice session. It is an interface so that
// the session orchestrator can be tested without a live connection.
//
// Every method must return quickly; audio I/O is channel-based so the
// caller's audio path never blocks on the network. Callers must call Close
// when the session is no longer needed and must drain Audio and Transcripts
// promptly to keep the receive loop moving.
type Session interface {
	// SendChunk delivers one encoded capture chunk to the model. Returns an
	// error if the session is closed or the transport write fails.
	SendChunk(chunk audio.Chunk) error

	// Audio returns the channel on which the model's synthesised speech
	// arrives as raw little-endian 16-bit PCM at 24 kHz. The channel is
	// closed when the session ends; check [Session.Err] afterwards to see
	// whether it ended cleanly.
	Audio() <-chan []byte

	// Transcripts returns the channel on which text fragments of the model's
	// spoken output arrive, in utterance order. Closed when the session ends.
	Transcripts() <-chan string

	// OnError registers a callback for non-fatal error events surfaced by
	// the provider mid-session. Calling it again replaces the handler; nil
	// clears it.
	OnError(handler func(error))

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly via Close.
	Err() error

	// Close terminates the session, releases the transport, and closes the
	// Audio and Transcripts channels. Idempotent.
	Close() error
}

// Dialer is the abstraction over any live voice backend.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Connect establishes a session and blocks until the backend has
	// acknowledged it, or ctx expires. The caller owns the Session and is
	// responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
