package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quietline/replyd/internal/session"
)

// ProblemDetail is an RFC 7807 style error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func problemResponse(c *fiber.Ctx, status int, typ, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// AccountListResponse is the body of GET /api/v1/accounts.
type AccountListResponse struct {
	Accounts []session.Snapshot `json:"accounts"`
	Total    int                `json:"total"`
}

// AccountResponse is the body of GET /api/v1/accounts/:id.
type AccountResponse struct {
	Account session.Snapshot `json:"account"`
}

// ReplyRecord is one audit entry as served by the API.
type ReplyRecord struct {
	ID           string    `json:"id"`
	OwnerUserID  string    `json:"owner_user_id"`
	AccountID    string    `json:"account_id"`
	ChatID       int64     `json:"chat_id"`
	ChatTitle    string    `json:"chat_title,omitempty"`
	ChatType     string    `json:"chat_type"`
	Surface      string    `json:"surface"`
	OriginalText string    `json:"original_text"`
	ReplyText    string    `json:"reply_text"`
	SentAt       time.Time `json:"sent_at"`
}

// ReplyListResponse is the body of GET /api/v1/accounts/:id/replies.
type ReplyListResponse struct {
	Replies []ReplyRecord `json:"replies"`
	Total   int           `json:"total"`
}

// HealthResponse is the body of the probe endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}
