// Package presence keeps supervised accounts looking offline. A single
// process-wide scheduling chain walks every registered session on a
// jittered interval and pushes an offline status through the transport.
package presence

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/session"
)

// ReconnectFunc re-establishes the session for an account found dead
// during a walk.
type ReconnectFunc func(ctx context.Context, accountID string) error

// Cycler is the stealth-presence background loop.
type Cycler struct {
	registry  *session.Registry
	reconnect ReconnectFunc
	min, max  time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewCycler creates a presence cycler walking the registry every
// [min, max] interval.
func NewCycler(reg *session.Registry, reconnect ReconnectFunc, min, max time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Cycler {
	return &Cycler{
		registry:  reg,
		reconnect: reconnect,
		min:       min,
		max:       max,
		metrics:   m,
		logger:    logger.With().Str("component", "presence_cycler").Logger(),
	}
}

// Run executes the scheduling chain until ctx is cancelled. Each walk
// re-schedules the next one with fresh jitter; a fixed-period timer would
// hand the network a detectable pattern.
func (c *Cycler) Run(ctx context.Context) {
	c.logger.Info().
		Dur("min_interval", c.min).
		Dur("max_interval", c.max).
		Msg("presence cycler started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("presence cycler stopped")
			return
		case <-time.After(c.nextInterval()):
			c.Walk(ctx)
		}
	}
}

func (c *Cycler) nextInterval() time.Duration {
	if c.max <= c.min {
		return c.min
	}
	return c.min + time.Duration(rand.Int63n(int64(c.max-c.min)))
}

// Walk pushes offline presence to every connected session and asks for a
// reconnect of every dead one. One failing account never stops the walk.
func (c *Cycler) Walk(ctx context.Context) {
	for _, s := range c.registry.List() {
		if ctx.Err() != nil {
			return
		}
		c.cycleOne(ctx, s)
	}
	c.metrics.PresenceCyclesTotal.Inc()
}

func (c *Cycler) cycleOne(ctx context.Context, s *session.Session) {
	conn := s.Conn()
	if conn == nil || !conn.Connected() {
		// Found dead mid-cycle: hand it back to the registry instead of
		// skipping it silently.
		if err := c.reconnect(ctx, s.AccountID); err != nil {
			c.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("reconnect during presence walk failed")
		}
		return
	}

	if err := conn.SetOffline(ctx, true); err != nil {
		c.metrics.RecordTransportError("setPresence", kind(err))
		if rerrors.IsRetryable(err) {
			c.logger.Debug().Err(err).Str("account_id", s.AccountID).Msg("offline push failed, will retry next cycle")
		} else {
			c.logger.Warn().Err(err).Str("account_id", s.AccountID).Msg("offline push failed")
		}
	}
}

func kind(err error) string {
	switch {
	case rerrors.IsAuthFailure(err):
		return "auth"
	case rerrors.IsRetryable(err):
		return "retryable"
	default:
		return "other"
	}
}
