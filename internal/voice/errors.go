package voice

import "errors"

var (
	// ErrMissingCredential is returned by [Session.Start] when no API key is
	// configured. The check runs before any device or network resource is
	// touched.
	ErrMissingCredential = errors.New("voice: missing API key")

	// ErrConnectionFailed wraps dial failures. The microphone has already been
	// released by the time it is returned.
	ErrConnectionFailed = errors.New("voice: connection failed")

	// ErrSessionActive is returned by [Manager.Start] while another session is
	// still running.
	ErrSessionActive = errors.New("voice: a session is already active")

	// ErrNoSession is returned by Manager operations that need an active
	// session when there is none.
	ErrNoSession = errors.New("voice: no active session")

	// ErrSessionNotIdle is returned by [Session.Start] when the session has
	// already been started once. Sessions are single-use.
	ErrSessionNotIdle = errors.New("voice: session already started")

	// ErrSessionStopped is returned by [Session.Start] when Stop arrived while
	// the session was still connecting. The dial is cancelled and every
	// acquired resource is released before it is returned.
	ErrSessionStopped = errors.New("voice: session stopped while connecting")
)
