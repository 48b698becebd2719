// Package session owns the live connection lifecycle: one Session per
// account, an authoritative Registry, and the pluggable lifecycle policy
// that keeps sessions receptive while appearing offline.
package session

import (
	"sync"
	"time"

	"github.com/quietline/replyd/internal/transport"
)

// State is the session lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded" // handler lost, connection still up
)

// Session is one live connection bound to exactly one account. The
// connection handle is exclusively owned by the registry entry.
type Session struct {
	AccountID string

	mu                sync.Mutex
	conn              transport.Conn
	self              transport.Identity
	state             State
	lastHealthCheckAt time.Time
	lastActivityAt    time.Time
}

// New creates a session around an established connection. Production code
// goes through Registry.Connect; tests build sessions directly.
func New(accountID string, conn transport.Conn, self transport.Identity) *Session {
	return &Session{
		AccountID: accountID,
		conn:      conn,
		self:      self,
		state:     StateConnected,
	}
}

// Conn returns the connection handle.
func (s *Session) Conn() transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Self returns the session's own network identity.
func (s *Session) Self() transport.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// TouchActivity records inbound traffic on the session.
func (s *Session) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

// TouchHealthCheck records a completed health pass, whatever its outcome.
func (s *Session) TouchHealthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHealthCheckAt = time.Now()
}

// Snapshot is a read-only view of a session for the status API.
type Snapshot struct {
	AccountID         string    `json:"account_id"`
	State             State     `json:"state"`
	SelfUserID        int64     `json:"self_user_id"`
	SelfUsername      string    `json:"self_username"`
	Subscribed        bool      `json:"subscribed"`
	LastHealthCheckAt time.Time `json:"last_health_check_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		AccountID:         s.AccountID,
		State:             s.state,
		SelfUserID:        s.self.UserID,
		SelfUsername:      s.self.Username,
		LastHealthCheckAt: s.lastHealthCheckAt,
		LastActivityAt:    s.lastActivityAt,
	}
	if s.conn != nil {
		snap.Subscribed = s.conn.Subscribed()
	}
	return snap
}
