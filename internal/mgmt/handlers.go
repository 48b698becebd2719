package mgmt

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/auditlog"
	"github.com/quietline/replyd/internal/session"
)

// Supervisor is what the API needs from the running service beyond the
// registry itself.
type Supervisor interface {
	// ReconnectAccount re-dials the account's session, releasing it if the
	// account is gone or disabled.
	ReconnectAccount(ctx context.Context, accountID string) error
}

// ReplyLog serves recent audit records.
type ReplyLog interface {
	Recent(ctx context.Context, accountID string, limit int) ([]auditlog.Record, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	registry   *session.Registry
	supervisor Supervisor
	replies    ReplyLog
	logger     zerolog.Logger
	startTime  time.Time
}

// NewHandlers creates a new Handlers instance. replies may be nil when no
// audit store is configured.
func NewHandlers(reg *session.Registry, sup Supervisor, replies ReplyLog, logger zerolog.Logger) *Handlers {
	return &Handlers{
		registry:   reg,
		supervisor: sup,
		replies:    replies,
		logger:     logger.With().Str("component", "mgmt_handlers").Logger(),
		startTime:  time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:   "ok",
		Sessions: h.registry.Len(),
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz. The daemon is ready as soon as the
// supervisor is wired; zero sessions is a valid state.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:   "ready",
		Sessions: h.registry.Len(),
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ListAccounts handles GET /api/v1/accounts.
func (h *Handlers) ListAccounts(c *fiber.Ctx) error {
	sessions := h.registry.List()
	snaps := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AccountID < snaps[j].AccountID })

	return c.JSON(AccountListResponse{Accounts: snaps, Total: len(snaps)})
}

// GetAccount handles GET /api/v1/accounts/:id.
func (h *Handlers) GetAccount(c *fiber.Ctx) error {
	id := c.Params("id")
	s, ok := h.registry.Get(id)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"account_not_found", "Not Found",
			"No session registered for account: "+id)
	}
	return c.JSON(AccountResponse{Account: s.Snapshot()})
}

// ReconnectAccount handles POST /api/v1/accounts/:id/reconnect.
func (h *Handlers) ReconnectAccount(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.supervisor.ReconnectAccount(c.Context(), id); err != nil {
		h.logger.Warn().Err(err).Str("account_id", id).Msg("manual reconnect failed")
		return problemResponse(c, fiber.StatusBadGateway,
			"reconnect_failed", "Bad Gateway",
			err.Error())
	}

	s, ok := h.registry.Get(id)
	if !ok {
		// Reconnect released the account (disabled or deleted upstream).
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"account_id": id,
			"state":      string(session.StateDisconnected),
		})
	}
	return c.JSON(AccountResponse{Account: s.Snapshot()})
}

// DisconnectAccount handles DELETE /api/v1/accounts/:id/session.
func (h *Handlers) DisconnectAccount(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := h.registry.Get(id); !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"account_not_found", "Not Found",
			"No session registered for account: "+id)
	}
	h.registry.Disconnect(c.Context(), id)
	return c.SendStatus(fiber.StatusNoContent)
}

// ListReplies handles GET /api/v1/accounts/:id/replies.
func (h *Handlers) ListReplies(c *fiber.Ctx) error {
	if h.replies == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"audit_disabled", "Not Implemented",
			"No reply audit store is configured")
	}

	id := c.Params("id")
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_limit", "Bad Request",
			"limit must be between 1 and 500")
	}

	recs, err := h.replies.Recent(c.Context(), id, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", id).Msg("audit query failed")
		return problemResponse(c, fiber.StatusInternalServerError,
			"audit_query_failed", "Internal Server Error",
			"Could not read reply history")
	}

	out := make([]ReplyRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, ReplyRecord{
			ID:           r.ID,
			OwnerUserID:  r.OwnerUserID,
			AccountID:    r.AccountID,
			ChatID:       r.ChatID,
			ChatTitle:    r.ChatTitle,
			ChatType:     r.ChatType,
			Surface:      r.Surface,
			OriginalText: r.OriginalText,
			ReplyText:    r.ReplyText,
			SentAt:       r.SentAt,
		})
	}
	return c.JSON(ReplyListResponse{Replies: out, Total: len(out)})
}
