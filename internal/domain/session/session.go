// Package session implements the per-connection GABP session state
// machine: NEW → AUTHENTICATED → CLOSED.
package session

import (
	"sync"
	"time"
)

// State is a session's position in the handshake state machine.
type State int

const (
	StateNew State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handshake holds the fields negotiated by a successful session/hello.
type Handshake struct {
	BridgeVersion string
	Platform      string // "windows" | "macos" | "linux"
	LaunchID      string
}

// Session is the per-connection authentication state.
// A Session is safe for concurrent use: the read loop, dispatcher, and
// event manager's disconnect hook may all touch it.
type Session struct {
	ConnectionID string
	CreatedAt    time.Time

	mu        sync.RWMutex
	state     State
	handshake Handshake
}

// New creates a session in StateNew for a freshly accepted connection.
func New(connectionID string) *Session {
	return &Session{
		ConnectionID: connectionID,
		CreatedAt:    time.Now().UTC(),
		state:        StateNew,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Authenticated reports whether the session has completed the handshake.
// Matches the boolean `authenticated` field of the session.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateAuthenticated
}

// Handshake returns a copy of the negotiated handshake fields. Zero value
// if the session has not authenticated yet.
func (s *Session) Handshake() Handshake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshake
}

// ErrAlreadyAuthenticated is returned by Authenticate when called on a
// session that has already completed the handshake: a re-handshake is
// rejected rather than silently accepted.
type ErrAlreadyAuthenticated struct{}

func (ErrAlreadyAuthenticated) Error() string { return "session: already authenticated" }

// Authenticate performs the NEW → AUTHENTICATED transition. It is the only
// state-mutating transition besides Close, and it may happen at most once
// per session.
func (s *Session) Authenticate(h Handshake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrAlreadyAuthenticated{} // closed sessions never re-authenticate either
	}
	if s.state == StateAuthenticated {
		return ErrAlreadyAuthenticated{}
	}
	s.state = StateAuthenticated
	s.handshake = h
	return nil
}

// Close transitions the session to CLOSED. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}
