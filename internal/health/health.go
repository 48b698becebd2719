// Package health runs the periodic maintenance pass over every supervised
// account: it syncs the registry against the account directory, repairs
// lost event subscriptions, and escalates dead sessions to reconnects.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/accounts"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/notify"
	"github.com/quietline/replyd/internal/session"
)

// DefaultInterval is the period between maintenance passes.
const DefaultInterval = 120 * time.Second

// Monitor drives the repair ladder for every account: verify, re-attach
// in place, reconnect, and as a last resort disconnect with an operator
// notification.
type Monitor struct {
	registry  *session.Registry
	directory accounts.Directory
	interval  time.Duration
	metrics   *metrics.Metrics
	notifier  notify.Notifier
	logger    zerolog.Logger

	mu          sync.Mutex
	authFlagged map[string]bool
}

// NewMonitor creates a health monitor over the registry.
func NewMonitor(reg *session.Registry, dir accounts.Directory, interval time.Duration, m *metrics.Metrics, notifier notify.Notifier, logger zerolog.Logger) *Monitor {
	return &Monitor{
		registry:    reg,
		directory:   dir,
		interval:    interval,
		metrics:     m,
		notifier:    notifier,
		logger:      logger.With().Str("component", "health_monitor").Logger(),
		authFlagged: make(map[string]bool),
	}
}

// Run performs an immediate pass, then repeats on the configured interval
// until ctx is cancelled. Newly enabled accounts therefore come online
// without waiting a full period.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("health monitor started")
	m.Pass(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.Pass(ctx)
		}
	}
}

// Pass runs one full maintenance sweep: directory sync first, then a
// health check of every enabled account's session.
func (m *Monitor) Pass(ctx context.Context) {
	enabled, err := m.directory.ListEnabled(ctx)
	if err != nil {
		// Without a directory read we cannot tell enabled from disabled;
		// touching sessions on stale data risks tearing down good ones.
		m.logger.Error().Err(err).Msg("account directory unavailable, skipping pass")
		return
	}

	want := make(map[string]*accounts.Account, len(enabled))
	for _, a := range enabled {
		want[a.ID] = a
	}

	for _, s := range m.registry.List() {
		if _, ok := want[s.AccountID]; ok {
			continue
		}
		m.logger.Info().Str("account_id", s.AccountID).Msg("auto-reply disabled, releasing session")
		m.registry.Disconnect(ctx, s.AccountID)
		m.clearAuthFlag(s.AccountID)
		m.metrics.RecordHealthCheck("released")
	}

	for _, acct := range enabled {
		if ctx.Err() != nil {
			return
		}
		m.checkAccount(ctx, acct)
	}
}

func (m *Monitor) checkAccount(ctx context.Context, acct *accounts.Account) {
	s, ok := m.registry.Get(acct.ID)
	if !ok {
		if _, err := m.registry.Connect(ctx, acct); err != nil {
			m.metrics.RecordHealthCheck("connect_failed")
			m.handleFailure(ctx, acct.ID, err)
			return
		}
		m.touch(acct.ID)
		m.clearAuthFlag(acct.ID)
		m.metrics.RecordHealthCheck("connected")
		return
	}

	conn := s.Conn()
	if conn == nil || !conn.Connected() {
		m.reconnect(ctx, acct, "connection lost")
		return
	}

	outcome, err := m.registry.Policy().Maintain(ctx, s, m.registry.HandlerFor(s))
	s.TouchHealthCheck()
	if err != nil {
		// In-place repair exhausted; next rung of the ladder.
		m.logger.Warn().Err(err).Str("account_id", acct.ID).Msg("maintenance failed, escalating to reconnect")
		m.reconnect(ctx, acct, "maintenance failed")
		return
	}
	m.clearAuthFlag(acct.ID)
	m.metrics.RecordHealthCheck(string(outcome))
}

func (m *Monitor) reconnect(ctx context.Context, acct *accounts.Account, reason string) {
	if _, err := m.registry.Reconnect(ctx, acct); err != nil {
		m.metrics.RecordHealthCheck("reconnect_failed")
		m.handleFailure(ctx, acct.ID, err)
		return
	}
	m.touch(acct.ID)
	m.clearAuthFlag(acct.ID)
	m.metrics.RecordHealthCheck("reconnected")
	m.logger.Info().Str("account_id", acct.ID).Str("reason", reason).Msg("session reconnected")
}

// handleFailure routes a connect or reconnect error. Authorization
// failures are terminal for the credential: the session is released and
// the operator notified exactly once until the account recovers.
func (m *Monitor) handleFailure(ctx context.Context, accountID string, err error) {
	if !rerrors.IsAuthFailure(err) {
		m.logger.Warn().Err(err).Str("account_id", accountID).Msg("health check failed, retrying next pass")
		return
	}

	m.registry.Disconnect(ctx, accountID)

	m.mu.Lock()
	already := m.authFlagged[accountID]
	m.authFlagged[accountID] = true
	m.mu.Unlock()
	if already {
		return
	}

	m.logger.Error().Err(err).Str("account_id", accountID).Msg("authorization revoked, session released")
	if nerr := m.notifier.Notify(ctx, notify.Event{
		Level:     notify.LevelCritical,
		Title:     "Account authorization revoked",
		Message:   "The linked session is no longer authorized and needs to be re-linked.",
		AccountID: accountID,
		Err:       err,
	}); nerr != nil {
		m.logger.Warn().Err(nerr).Str("account_id", accountID).Msg("operator notification failed")
	}
}

func (m *Monitor) touch(accountID string) {
	if s, ok := m.registry.Get(accountID); ok {
		s.TouchHealthCheck()
	}
}

func (m *Monitor) clearAuthFlag(accountID string) {
	m.mu.Lock()
	delete(m.authFlagged, accountID)
	m.mu.Unlock()
}
