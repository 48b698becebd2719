// Package errors provides structured error types for the reply daemon.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout         = errors.New("operation timed out")
	ErrAuthRevoked     = errors.New("session authorization revoked")
	ErrFloodWait       = errors.New("rate limited by the network")
	ErrPeerInvalid     = errors.New("invalid peer reference")
	ErrPeerDeleted     = errors.New("peer account deactivated")
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotConnected    = errors.New("session not connected")
	ErrSubscribeFailed = errors.New("event subscription failed to attach")
)

// TransportError wraps an error returned by the chat gateway.
type TransportError struct {
	Op   string // transport operation, e.g. "sendMessage"
	Code int    // gateway status code, 0 if none
	Peer string // peer or chat reference, if known
	Err  error
}

func (e *TransportError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("transport %s (code %d, peer %s): %v", e.Op, e.Code, e.Peer, e.Err)
	}
	return fmt.Sprintf("transport %s (code %d): %v", e.Op, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a transport error for the given operation.
func NewTransportError(op string, code int, err error) *TransportError {
	return &TransportError{Op: op, Code: code, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth
// retrying on the next presence or health tick.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Code {
		case 408, 420, 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrFloodWait) || errors.Is(err, ErrNotConnected)
}

// IsAuthFailure returns true if the session credentials were revoked.
// Fatal for the account: no further retries until its settings change.
func IsAuthFailure(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.Code == 401 {
		return true
	}
	return errors.Is(err, ErrAuthRevoked)
}

// IsBenignPeer reports errors that are expected in normal operation —
// unresolvable chats, deactivated accounts, invalid peer references.
// These are ignored by condition rather than treated as unexpected.
func IsBenignPeer(err error) bool {
	return errors.Is(err, ErrPeerInvalid) ||
		errors.Is(err, ErrPeerDeleted) ||
		errors.Is(err, ErrChatNotFound)
}
