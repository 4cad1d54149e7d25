package voice

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/voxmark/voxmark/internal/observe"
	"github.com/voxmark/voxmark/internal/transcript"
	"github.com/voxmark/voxmark/pkg/audio"
	"github.com/voxmark/voxmark/pkg/provider/live"
)

// ManagerConfig assembles the fixed pieces every session shares.
type ManagerConfig struct {
	// APIKey authenticates live dials.
	APIKey string

	// Instructions is the system prompt applied to every session.
	Instructions string

	// Voice is the prebuilt voice name.
	Voice string

	// Keywords are the campaign terms to spot in transcripts.
	Keywords []string

	// FrameSize is the capture frame size in samples; zero uses the default.
	FrameSize int

	// Dialer establishes live model sessions.
	Dialer live.Dialer

	// Capture grants microphone access.
	Capture audio.CaptureDevice

	// NewOutput creates a fresh output device per session.
	NewOutput func() (audio.OutputDevice, error)

	// Metrics defaults to [observe.DefaultMetrics] if nil.
	Metrics *observe.Metrics
}

// Manager enforces the single-active-session rule and gives each session a
// stable ID. All methods are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	current *Session
	id      string
}

// NewManager creates a Manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start begins a new session and returns its ID. Fails with
// [ErrSessionActive] while a previous session is still connecting or
// listening; a session that ended in [StateClosed] or [StateError] is
// replaced.
//
// The manager lock is not held across the dial, so Stop stays reachable
// while a session is still connecting and can cancel the dial.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.current != nil {
		switch m.current.State() {
		case StateClosed, StateError:
			// Finished; replaceable.
		default:
			m.mu.Unlock()
			return "", ErrSessionActive
		}
	}

	output, err := m.cfg.NewOutput()
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	sess := NewSession(Config{
		APIKey:       m.cfg.APIKey,
		Instructions: m.cfg.Instructions,
		Voice:        m.cfg.Voice,
		Keywords:     m.cfg.Keywords,
		FrameSize:    m.cfg.FrameSize,
		Dialer:       m.cfg.Dialer,
		Capture:      m.cfg.Capture,
		Output:       output,
		Metrics:      m.cfg.Metrics,
	})
	id := uuid.NewString()
	m.current = sess
	m.id = id
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		_ = output.Close()
		m.mu.Lock()
		if m.current == sess {
			m.current = nil
			m.id = ""
		}
		m.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Stop ends the active session. Fails with [ErrNoSession] when nothing has
// been started.
func (m *Manager) Stop() error {
	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	return sess.Stop()
}

// Session returns the current session and its ID, or [ErrNoSession].
func (m *Manager) Session() (*Session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, "", ErrNoSession
	}
	return m.current, m.id, nil
}

// Transcript returns the active session's transcript accumulator, or
// [ErrNoSession]. The transcript of a failed session stays readable.
func (m *Manager) Transcript() (*transcript.Accumulator, error) {
	sess, _, err := m.Session()
	if err != nil {
		return nil, err
	}
	return sess.Transcript(), nil
}
