// Package voice orchestrates live voice sessions: microphone capture through
// the streaming pump, a bidirectional model session, gapless playback of the
// model's speech, and transcript accumulation with campaign keyword spotting.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxmark/voxmark/internal/observe"
	"github.com/voxmark/voxmark/internal/transcript"
	"github.com/voxmark/voxmark/internal/transcript/keywords"
	"github.com/voxmark/voxmark/pkg/audio"
	"github.com/voxmark/voxmark/pkg/provider/live"
)

// State is a session's lifecycle phase.
type State int

const (
	// StateIdle is the initial state; no resources are held.
	StateIdle State = iota

	// StateConnecting covers microphone acquisition and the dial, up to the
	// backend's acknowledgement.
	StateConnecting

	// StateListening is the steady state: capture flows out, model audio and
	// transcripts flow in.
	StateListening

	// StateClosing is the transient teardown phase entered by Stop.
	StateClosing

	// StateClosed is the terminal state after an orderly Stop.
	StateClosed

	// StateError is the terminal state after a mid-session transport failure.
	// Resources are released; the transcript so far remains readable.
	StateError
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config assembles everything a session needs.
type Config struct {
	// APIKey authenticates the live dial. Empty fails Start with
	// [ErrMissingCredential] before any resource is acquired.
	APIKey string

	// Instructions is the system prompt for the session's persona.
	Instructions string

	// Voice is the prebuilt voice name for synthesised output.
	Voice string

	// Keywords are the campaign terms spotted in the output transcript.
	Keywords []string

	// FrameSize is the capture frame size in samples. Defaults to
	// [audio.DefaultFrameSize] if zero.
	FrameSize int

	// Dialer establishes the live model session.
	Dialer live.Dialer

	// Capture grants microphone access.
	Capture audio.CaptureDevice

	// Output renders the model's speech.
	Output audio.OutputDevice

	// Metrics defaults to [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// Session is one live voice conversation. It is single-use: Start once, Stop
// once. All methods are safe for concurrent use.
type Session struct {
	cfg     config
	metrics *observe.Metrics

	mu         sync.Mutex
	state      State
	err        error
	startedAt  time.Time
	dialCancel context.CancelFunc

	live    live.Session
	pump    *audio.Pump
	sched   *audio.Scheduler
	acc     *transcript.Accumulator
	spotter *keywords.Spotter

	wg       sync.WaitGroup
	finalize sync.Once
}

// config is Config minus the fields the Session re-homes.
type config struct {
	apiKey       string
	instructions string
	voice        string
	frameSize    int
	dialer       live.Dialer
	capture      audio.CaptureDevice
	output       audio.OutputDevice
}

// NewSession creates an idle session from cfg.
func NewSession(cfg Config) *Session {
	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		cfg: config{
			apiKey:       cfg.APIKey,
			instructions: cfg.Instructions,
			voice:        cfg.Voice,
			frameSize:    frameSize,
			dialer:       cfg.Dialer,
			capture:      cfg.Capture,
			output:       cfg.Output,
		},
		metrics: metrics,
		acc:     &transcript.Accumulator{},
		spotter: keywords.New(cfg.Keywords),
	}
}

// Start acquires the microphone, dials the model, and begins streaming.
// It blocks until the backend acknowledges the session, ctx expires, or a
// concurrent Stop cancels the dial.
//
// Resource acquisition is ordered so that nothing leaks on failure: the
// credential check runs first, then the microphone, then the dial. A refused
// microphone or failed dial returns the session to Idle with all acquired
// resources released; a Stop that lands mid-connect ends it in Closed with
// [ErrSessionStopped].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionNotIdle
	}
	if s.cfg.apiKey == "" {
		s.mu.Unlock()
		return ErrMissingCredential
	}
	dialCtx, cancel := context.WithCancel(ctx)
	s.dialCancel = cancel
	s.state = StateConnecting
	s.mu.Unlock()
	defer cancel()

	stream, err := s.cfg.capture.RequestStream(dialCtx, audio.CaptureRate, s.cfg.frameSize)
	if err != nil {
		return s.abortStart(fmt.Errorf("voice: acquire microphone: %w", err))
	}

	sess, err := s.cfg.dialer.Connect(dialCtx, live.SessionConfig{
		Instructions:        s.cfg.instructions,
		Voice:               s.cfg.voice,
		OutputTranscription: true,
	})
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("release microphone after failed dial", "error", cerr)
		}
		return s.abortStart(fmt.Errorf("%w: %w", ErrConnectionFailed, err))
	}

	sess.OnError(func(err error) {
		slog.Warn("live session event", "error", err)
	})

	s.mu.Lock()
	if s.state != StateConnecting {
		// Stop raced the dial's completion; tear down what was acquired.
		s.dialCancel = nil
		s.mu.Unlock()
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("release microphone after stopped connect", "error", cerr)
		}
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("close live session after stopped connect", "error", cerr)
		}
		s.setState(StateClosed)
		return ErrSessionStopped
	}
	s.dialCancel = nil
	s.live = sess
	s.pump = audio.NewPump(stream)
	s.sched = audio.NewScheduler(s.cfg.output)
	s.startedAt = time.Now()
	s.state = StateListening
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), 1)

	s.wg.Add(3)
	go s.sendLoop()
	go s.playbackLoop()
	go s.transcriptLoop()

	return nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the transport error that moved the session to [StateError],
// or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the accumulated output transcript.
func (s *Session) Transcript() *transcript.Accumulator { return s.acc }

// Stop tears the session down: capture first, then playback, then the model
// session. Idempotent; safe in any state. For a listening session it blocks
// until the streaming goroutines have exited; for a connecting one it
// cancels the in-flight dial, and Start finishes the rollback into Closed.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		// Never started; sessions are single-use, so close it out.
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.state = StateClosing
		cancel := s.dialCancel
		s.mu.Unlock()
		cancel()
		return nil
	case StateClosing:
		// Teardown already in progress.
		s.mu.Unlock()
		return nil
	case StateClosed, StateError:
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.release()
	s.wg.Wait()
	s.setState(StateClosed)
	return nil
}

// abortStart rolls back a failed or cancelled dial: to Closed when Stop
// arrived mid-connect, back to Idle otherwise.
func (s *Session) abortStart(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialCancel = nil
	if s.state == StateClosing {
		s.state = StateClosed
		return ErrSessionStopped
	}
	s.state = StateIdle
	return err
}

// fail moves a listening session to [StateError] and releases its resources.
// Called from the streaming goroutines; it must not wait for them.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state != StateListening {
		// Teardown already in progress; the transport error is a side effect.
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.err = err
	s.mu.Unlock()

	slog.Error("live session failed", "error", err)
	s.release()
}

// release frees capture, playback, and transport exactly once and records
// the session metrics.
func (s *Session) release() {
	s.finalize.Do(func() {
		ctx := context.Background()

		s.pump.Stop()
		if dropped := s.pump.Dropped(); dropped > 0 {
			s.metrics.FramesDropped.Add(ctx, dropped)
		}
		if err := s.sched.Close(); err != nil {
			slog.Warn("close output device", "error", err)
		}
		if err := s.live.Close(); err != nil {
			slog.Warn("close live session", "error", err)
		}

		s.metrics.ActiveSessions.Add(ctx, -1)
		s.mu.Lock()
		startedAt := s.startedAt
		s.mu.Unlock()
		s.metrics.SessionDuration.Record(ctx, time.Since(startedAt).Seconds())
	})
}

// sendLoop forwards encoded capture chunks to the model until the pump stops
// or a transport write fails.
func (s *Session) sendLoop() {
	defer s.wg.Done()
	ctx := context.Background()

	for chunk := range s.pump.Out() {
		if err := s.live.SendChunk(chunk); err != nil {
			if s.State() == StateListening {
				s.fail(fmt.Errorf("send chunk: %w", err))
			}
			return
		}
		s.metrics.ChunksSent.Add(ctx, 1)
	}
}

// playbackLoop decodes model audio and hands it to the gapless scheduler.
// A malformed chunk is logged and skipped; the session keeps listening.
func (s *Session) playbackLoop() {
	defer s.wg.Done()
	ctx := context.Background()

	for pcm := range s.live.Audio() {
		s.metrics.ChunksReceived.Add(ctx, 1)

		seg, err := audio.DecodePCM(pcm, audio.PlaybackRate, 1)
		if err != nil {
			if errors.Is(err, audio.ErrMalformedAudio) {
				slog.Warn("skipping malformed audio chunk", "bytes", len(pcm), "error", err)
				continue
			}
			go audio.Drain(s.live.Audio())
			s.fail(fmt.Errorf("decode model audio: %w", err))
			return
		}
		if err := s.sched.Schedule(seg); err != nil {
			// Keep the provider's receive loop moving even though playback
			// has stopped.
			go audio.Drain(s.live.Audio())
			if !errors.Is(err, audio.ErrSchedulerClosed) {
				s.fail(fmt.Errorf("schedule playback: %w", err))
			}
			return
		}
		s.metrics.PlaybackScheduled.Add(ctx, 1)
	}

	// The audio channel closed. A non-nil session error means the transport
	// dropped rather than an orderly Close.
	if err := s.live.Err(); err != nil {
		s.fail(err)
	}
}

// transcriptLoop accumulates output transcription fragments and spots
// campaign keywords in each one.
func (s *Session) transcriptLoop() {
	defer s.wg.Done()
	ctx := context.Background()

	for text := range s.live.Transcripts() {
		s.acc.Append(text)
		s.metrics.TranscriptFragments.Add(ctx, 1)

		for _, hit := range s.spotter.Spot(text) {
			s.metrics.RecordKeywordHit(ctx, hit.Keyword)
			slog.Debug("keyword spotted",
				"keyword", hit.Keyword,
				"matched", hit.Matched,
				"confidence", hit.Confidence,
			)
		}
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
