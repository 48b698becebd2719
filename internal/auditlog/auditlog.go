// Package auditlog records every auto-reply the daemon sends. Writes are
// best-effort: a failed record never rolls back or blocks a sent reply.
package auditlog

import (
	"context"
	"time"
)

// Record is one sent auto-reply.
type Record struct {
	ID           string
	OwnerUserID  string
	AccountID    string
	ChatID       int64
	ChatTitle    string
	ChatType     string
	Surface      string // classifier verdict that triggered the reply
	OriginalText string
	ReplyText    string
	SentAt       time.Time
}

// Sink accepts auto-reply records.
type Sink interface {
	// LogAutoReply persists one record. Callers treat errors as advisory.
	LogAutoReply(ctx context.Context, rec Record) error
}
