package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/accounts"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/transport"
)

// HandlerFactory builds the inbound-message handler for a session. The
// service installs it before any account is connected.
type HandlerFactory func(s *Session) transport.Handler

// Registry is the authoritative account → session map. It owns connect,
// reconnect and teardown; nothing else touches connection handles.
// At most one session exists per account at any time.
//
// Dials and teardowns happen outside the registry lock so a slow gateway
// never stalls Get or List for other accounts; a per-account lock keeps
// concurrent Connect and Disconnect calls for one account serialized.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	dialing  map[string]*sync.Mutex

	transport transport.Transport
	policy    LifecyclePolicy
	factory   HandlerFactory
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(tr transport.Transport, policy LifecyclePolicy, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		dialing:   make(map[string]*sync.Mutex),
		transport: tr,
		policy:    policy,
		metrics:   m,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// SetHandlerFactory installs the per-session handler builder. Must be
// called before the first Connect.
func (r *Registry) SetHandlerFactory(f HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

// Policy returns the configured lifecycle policy.
func (r *Registry) Policy() LifecyclePolicy { return r.policy }

// HandlerFor builds the inbound handler for a session from the installed
// factory. Returns a no-op handler if no factory is installed yet.
func (r *Registry) HandlerFor(s *Session) transport.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factory == nil {
		return func(context.Context, *transport.Message) {}
	}
	return r.factory(s)
}

// lockFor returns the serialization lock for one account's lifecycle
// operations. Locks live as long as the registry; the map is bounded by
// the number of accounts ever seen.
func (r *Registry) lockFor(accountID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.dialing[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.dialing[accountID] = l
	}
	return l
}

// Connect establishes (or reuses) the session for an account.
// Idempotent: a live session is reused and only its event subscription is
// refreshed, so exactly one handler stays active. A failed attempt leaves
// no partial registry entry.
func (r *Registry) Connect(ctx context.Context, acct *accounts.Account) (*Session, error) {
	l := r.lockFor(acct.ID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	factory := r.factory
	existing, ok := r.sessions[acct.ID]
	r.mu.Unlock()

	if factory == nil {
		return nil, fmt.Errorf("registry: handler factory not installed")
	}

	if ok {
		if conn := existing.Conn(); conn != nil && conn.Connected() {
			if err := r.policy.Attach(ctx, existing, factory(existing)); err != nil {
				return nil, fmt.Errorf("refresh subscription for %s: %w", acct.ID, err)
			}
			existing.setState(StateConnected)
			return existing, nil
		}
		// Stale entry: tear it down and dial fresh below.
		r.remove(acct.ID)
		r.teardown(ctx, existing)
	}

	conn, err := r.transport.Connect(ctx, transport.Credentials{
		AccountID: acct.ID,
		AuthKey:   acct.AuthKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", acct.ID, err)
	}

	self, err := conn.Self(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve self identity for %s: %w", acct.ID, err)
	}

	s := New(acct.ID, conn, self)
	s.setState(StateConnecting)

	if err := r.policy.Attach(ctx, s, factory(s)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach %s: %w", acct.ID, err)
	}

	s.setState(StateConnected)
	r.mu.Lock()
	r.sessions[acct.ID] = s
	active := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SessionsActive.Set(float64(active))
	r.logger.Info().
		Str("account_id", acct.ID).
		Str("policy", r.policy.Name()).
		Int64("self_user_id", self.UserID).
		Msg("session connected")
	return s, nil
}

// Disconnect tears down the session for an account. No-op if the account
// is not registered.
func (r *Registry) Disconnect(ctx context.Context, accountID string) {
	l := r.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	s, ok := r.sessions[accountID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.remove(accountID)
	r.teardown(ctx, s)
	r.logger.Info().Str("account_id", accountID).Msg("session disconnected")
}

// remove drops the registry entry under the lock; the caller still owns
// the session for teardown.
func (r *Registry) remove(accountID string) {
	r.mu.Lock()
	delete(r.sessions, accountID)
	active := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SessionsActive.Set(float64(active))
}

func (r *Registry) teardown(ctx context.Context, s *Session) {
	if conn := s.Conn(); conn != nil {
		if err := r.policy.Teardown(ctx, s); err != nil {
			r.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("teardown")
		}
		if err := conn.Close(); err != nil {
			r.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("connection close")
		}
	}
	s.setState(StateDisconnected)
}

// Reconnect drops the current session, if any, and dials a fresh one.
func (r *Registry) Reconnect(ctx context.Context, acct *accounts.Account) (*Session, error) {
	r.Disconnect(ctx, acct.ID)
	return r.Connect(ctx, acct)
}

// Get returns the session for an account, if registered.
func (r *Registry) Get(accountID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	return s, ok
}

// List returns all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown disconnects every session.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, s := range r.List() {
		r.Disconnect(ctx, s.AccountID)
	}
}
