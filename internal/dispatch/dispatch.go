// Package dispatch runs the per-event reply pipeline: in-flight gating,
// classification, cooldown, the outbound send, and the audit record.
package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/accounts"
	"github.com/quietline/replyd/internal/auditlog"
	"github.com/quietline/replyd/internal/classify"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/guard"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

// Dispatcher handles one inbound message end to end. It is shared by all
// sessions; per-account state lives in the guards it owns.
type Dispatcher struct {
	provider   accounts.SettingsProvider
	directory  accounts.Directory
	classifier *classify.Classifier
	cooldowns  *guard.CooldownStore
	inflight   *guard.InFlightGuard
	audit      auditlog.Sink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New creates a Dispatcher.
func New(
	provider accounts.SettingsProvider,
	directory accounts.Directory,
	classifier *classify.Classifier,
	cooldowns *guard.CooldownStore,
	inflight *guard.InFlightGuard,
	audit auditlog.Sink,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		provider:   provider,
		directory:  directory,
		classifier: classifier,
		cooldowns:  cooldowns,
		inflight:   inflight,
		audit:      audit,
		metrics:    m,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Cooldowns exposes the cooldown store for the status API.
func (d *Dispatcher) Cooldowns() *guard.CooldownStore { return d.cooldowns }

// HandleInbound processes one inbound message for a session.
//
// The in-flight marker is acquired before any blocking call and released
// on every path out, so two events sharing (account, chat, message) can
// never race past the guard.
func (d *Dispatcher) HandleInbound(ctx context.Context, s *session.Session, msg *transport.Message) {
	s.TouchActivity()

	if !d.inflight.TryAcquire(s.AccountID, msg.ChatID, msg.ID) {
		d.logger.Debug().
			Str("account_id", s.AccountID).
			Int64("chat_id", msg.ChatID).
			Int64("message_id", msg.ID).
			Msg("duplicate event dropped")
		return
	}
	defer d.inflight.Release(s.AccountID, msg.ChatID, msg.ID)

	acct, err := d.provider.GetAccountSettings(ctx, s.AccountID)
	if err != nil {
		if !errors.Is(err, accounts.ErrNotFound) {
			d.logger.Error().Err(err).Str("account_id", s.AccountID).Msg("settings lookup failed")
		}
		return
	}
	if !acct.AutoReplyActive() {
		return
	}

	conn := s.Conn()
	chat, err := conn.GetChat(ctx, msg.ChatID)
	if err != nil {
		if !rerrors.IsBenignPeer(err) {
			d.logger.Warn().Err(err).
				Str("account_id", s.AccountID).
				Int64("chat_id", msg.ChatID).
				Msg("chat lookup failed, event abandoned")
			d.metrics.RecordTransportError("getChat", errKind(err))
		}
		return
	}

	res := d.classifier.Classify(ctx, msg, s.Self(), chat, acct, conn)
	d.metrics.RecordVerdict(string(res.Verdict))
	if res.Verdict == classify.NotEligible {
		return
	}

	// Direct messages are additionally cooldown-gated; group replies are
	// trigger-gated only.
	if res.Verdict == classify.DirectMessage && d.cooldowns.IsOnCooldown(s.AccountID, msg.ChatID) {
		d.metrics.RecordReply(string(res.Verdict), "suppressed")
		return
	}

	var opts transport.SendOptions
	if res.Verdict != classify.DirectMessage {
		// Group triggers reply in-thread.
		opts.ReplyToID = msg.ID
	}

	if err := conn.SendMessage(ctx, msg.ChatID, res.ReplyText, opts); err != nil {
		d.metrics.RecordReply(string(res.Verdict), "error")
		d.metrics.RecordTransportError("sendMessage", errKind(err))
		d.logger.Error().Err(err).
			Str("account_id", s.AccountID).
			Int64("chat_id", msg.ChatID).
			Msg("reply send failed")
		return
	}

	if res.Verdict == classify.DirectMessage {
		d.cooldowns.MarkReplied(s.AccountID, msg.ChatID)
	}
	d.metrics.RecordReply(string(res.Verdict), "sent")
	d.logger.Info().
		Str("account_id", s.AccountID).
		Int64("chat_id", msg.ChatID).
		Str("surface", string(res.Verdict)).
		Msg("auto-reply sent")

	d.recordAudit(ctx, acct, chat, msg, res)
}

// recordAudit writes the best-effort log record. Failures never roll back
// the already-sent reply.
func (d *Dispatcher) recordAudit(ctx context.Context, acct *accounts.Account, chat *transport.Chat, msg *transport.Message, res classify.Result) {
	if d.audit == nil {
		return
	}

	owner := acct.OwnerUserID
	if owner == "" {
		if resolved, err := d.directory.OwnerOf(ctx, acct.ID); err == nil {
			owner = resolved
		}
	}

	err := d.audit.LogAutoReply(ctx, auditlog.Record{
		OwnerUserID:  owner,
		AccountID:    acct.ID,
		ChatID:       chat.ID,
		ChatTitle:    chat.Title,
		ChatType:     string(chat.Type),
		Surface:      string(res.Verdict),
		OriginalText: msg.Text,
		ReplyText:    res.ReplyText,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("account_id", acct.ID).Msg("audit record failed")
	}
}

func errKind(err error) string {
	switch {
	case rerrors.IsAuthFailure(err):
		return "auth"
	case rerrors.IsRetryable(err):
		return "retryable"
	case rerrors.IsBenignPeer(err):
		return "benign"
	default:
		return "other"
	}
}
