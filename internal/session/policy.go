package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/transport"
)

// MaintainOutcome describes what a maintenance pass had to do.
type MaintainOutcome string

const (
	OutcomeHealthy    MaintainOutcome = "healthy"
	OutcomeReattached MaintainOutcome = "reattached"
	OutcomePolled     MaintainOutcome = "polled"
)

// LifecyclePolicy is the strategy for keeping a session receptive while
// presenting an offline status. Two variants exist: a persistent
// subscription with periodic offline pushes, and a connect/poll cycle
// with no standing subscription.
type LifecyclePolicy interface {
	Name() string

	// Attach wires the inbound handler onto a freshly connected (or
	// reused) session and asserts stealth presence. Attaching twice
	// leaves exactly one active handler.
	Attach(ctx context.Context, s *Session, h transport.Handler) error

	// Maintain verifies the session is still receptive and repairs what
	// it can in place. A returned error means the session needs a full
	// reconnect.
	Maintain(ctx context.Context, s *Session, h transport.Handler) (MaintainOutcome, error)

	// Teardown detaches the handler before the connection is released.
	Teardown(ctx context.Context, s *Session) error
}

// PersistentPolicy keeps a standing event subscription per session; the
// presence cycler re-asserts offline status on its own schedule.
type PersistentPolicy struct {
	logger zerolog.Logger
}

// NewPersistentPolicy creates the persistent-subscription policy.
func NewPersistentPolicy(logger zerolog.Logger) *PersistentPolicy {
	return &PersistentPolicy{logger: logger.With().Str("component", "lifecycle_persistent").Logger()}
}

func (p *PersistentPolicy) Name() string { return "persistent" }

func (p *PersistentPolicy) Attach(ctx context.Context, s *Session, h transport.Handler) error {
	conn := s.Conn()
	// Subscribe replaces any previous handler, guaranteeing a single
	// active subscription even on idempotent re-connects.
	conn.Unsubscribe()
	if err := conn.Subscribe(h); err != nil {
		return fmt.Errorf("%w: %v", rerrors.ErrSubscribeFailed, err)
	}
	if err := conn.SetOffline(ctx, true); err != nil {
		// The cycler re-asserts presence within seconds.
		p.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("initial offline push failed")
	}
	return nil
}

// Maintain verifies the subscription is still attached. A missing handler
// is re-attached once with a fresh offline push; if that also fails the
// caller escalates to a full reconnect.
func (p *PersistentPolicy) Maintain(ctx context.Context, s *Session, h transport.Handler) (MaintainOutcome, error) {
	conn := s.Conn()
	if conn.Subscribed() {
		return OutcomeHealthy, nil
	}

	s.setState(StateDegraded)
	p.logger.Warn().Str("account_id", s.AccountID).Msg("event subscription lost, re-attaching")

	err := conn.Subscribe(h)
	if err != nil {
		// One immediate retry before escalating.
		err = conn.Subscribe(h)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", rerrors.ErrSubscribeFailed, err)
	}

	if err := conn.SetOffline(ctx, true); err != nil {
		p.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("offline push after re-attach failed")
	}
	s.setState(StateConnected)
	return OutcomeReattached, nil
}

func (p *PersistentPolicy) Teardown(_ context.Context, s *Session) error {
	s.Conn().Unsubscribe()
	return nil
}

// PollingPolicy holds no standing subscription. Each Maintain pass drains
// pending updates through the handler and re-asserts offline presence, so
// the account never shows a live event consumer to the network.
type PollingPolicy struct {
	logger zerolog.Logger
}

// NewPollingPolicy creates the connect/poll/disconnect policy.
func NewPollingPolicy(logger zerolog.Logger) *PollingPolicy {
	return &PollingPolicy{logger: logger.With().Str("component", "lifecycle_polling").Logger()}
}

func (p *PollingPolicy) Name() string { return "polling" }

func (p *PollingPolicy) Attach(ctx context.Context, s *Session, _ transport.Handler) error {
	if err := s.Conn().SetOffline(ctx, true); err != nil {
		p.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("initial offline push failed")
	}
	return nil
}

func (p *PollingPolicy) Maintain(ctx context.Context, s *Session, h transport.Handler) (MaintainOutcome, error) {
	conn := s.Conn()
	msgs, err := conn.PollUpdates(ctx)
	if err != nil {
		return "", fmt.Errorf("poll updates: %w", err)
	}
	for _, m := range msgs {
		h(ctx, m)
	}
	if err := conn.SetOffline(ctx, true); err != nil {
		p.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("offline push after poll failed")
	}
	return OutcomePolled, nil
}

func (p *PollingPolicy) Teardown(context.Context, *Session) error { return nil }
