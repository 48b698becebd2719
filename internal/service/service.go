// Package service assembles the supervisor: it owns the background loops
// and the inbound-message pipeline, and exposes start/stop to the daemon.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/accounts"
	"github.com/quietline/replyd/internal/dispatch"
	"github.com/quietline/replyd/internal/health"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/notify"
	"github.com/quietline/replyd/internal/presence"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

// Options tunes the background loops.
type Options struct {
	PresenceMinInterval time.Duration
	PresenceMaxInterval time.Duration
	HealthInterval      time.Duration
}

// Service ties the registry, dispatcher, presence cycler and health
// monitor together into one supervised unit.
type Service struct {
	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	provider   accounts.SettingsProvider
	cycler     *presence.Cycler
	monitor    *health.Monitor
	logger     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the supervisor. The handler factory is installed here so
// every session connected afterwards dispatches through the reply
// pipeline.
func New(
	reg *session.Registry,
	disp *dispatch.Dispatcher,
	dir accounts.Directory,
	provider accounts.SettingsProvider,
	notifier notify.Notifier,
	m *metrics.Metrics,
	opts Options,
	logger zerolog.Logger,
) *Service {
	s := &Service{
		registry:   reg,
		dispatcher: disp,
		provider:   provider,
		logger:     logger.With().Str("component", "service").Logger(),
	}

	reg.SetHandlerFactory(func(sess *session.Session) transport.Handler {
		return func(ctx context.Context, msg *transport.Message) {
			disp.HandleInbound(ctx, sess, msg)
		}
	})

	s.cycler = presence.NewCycler(reg, s.ReconnectAccount,
		opts.PresenceMinInterval, opts.PresenceMaxInterval, m, logger)
	s.monitor = health.NewMonitor(reg, dir, opts.HealthInterval, m, notifier, logger)
	return s
}

// Start launches the background loops. The health monitor runs its first
// pass immediately, so enabled accounts connect at startup.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.cycler.Run(runCtx)
	}()

	// Lookups expire cooldowns lazily; the sweeper bounds memory for
	// chats that never message again.
	s.dispatcher.Cooldowns().StartSweeper(runCtx, 10*time.Minute)
	s.logger.Info().Msg("supervisor started")
}

// Stop cancels the loops, waits for them, and releases every session.
func (s *Service) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.registry.Shutdown(ctx)
	s.logger.Info().Msg("supervisor stopped")
}

// ReconnectAccount resolves the account's current settings and dials a
// fresh session. An account that disappeared or disabled auto-reply in
// the meantime is released instead.
func (s *Service) ReconnectAccount(ctx context.Context, accountID string) error {
	acct, err := s.provider.GetAccountSettings(ctx, accountID)
	if errors.Is(err, accounts.ErrNotFound) {
		s.registry.Disconnect(ctx, accountID)
		return nil
	}
	if err != nil {
		return err
	}
	if !acct.AutoReplyActive() {
		s.registry.Disconnect(ctx, accountID)
		return nil
	}
	_, err = s.registry.Reconnect(ctx, acct)
	return err
}

// Registry exposes the session registry for the management API.
func (s *Service) Registry() *session.Registry { return s.registry }

// RunHealthPass triggers one maintenance pass outside the schedule.
func (s *Service) RunHealthPass(ctx context.Context) { s.monitor.Pass(ctx) }
