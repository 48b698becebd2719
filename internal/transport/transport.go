// Package transport defines the chat-network abstraction the supervisor
// drives, plus an HTTP chat-gateway client implementing it. The supervisor
// core depends only on the interfaces; the wire protocol lives behind the
// gateway.
package transport

import (
	"context"
	"time"
)

// Identity is the session's own identity on the network.
type Identity struct {
	UserID   int64
	Username string
}

// ChatType discriminates conversation surfaces.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// IsGroup reports whether the chat is a multi-user surface.
func (t ChatType) IsGroup() bool { return t == ChatGroup || t == ChatChannel }

// Chat describes a conversation.
type Chat struct {
	ID    int64
	Type  ChatType
	Title string
}

// Peer describes a remote user.
type Peer struct {
	ID       int64
	Username string
	Bot      bool
	Deleted  bool
}

// Mention is a structured mention entity inside a message.
type Mention struct {
	Offset int
	Length int
	UserID int64 // 0 for textual @username mentions
}

// Message is one inbound or fetched message.
type Message struct {
	ID             int64
	ChatID         int64
	SenderID       int64
	SenderUsername string
	Text           string
	Mentions       []Mention
	ReplyToID      int64    // 0 if the message is not a reply
	ReplyTo        *Message // inlined referenced message, if the gateway provided it
	Date           time.Time
}

// SendOptions modifies an outbound send.
type SendOptions struct {
	// ReplyToID threads the outbound message under an existing one.
	ReplyToID int64
}

// Handler receives inbound messages from a subscription or a poll drain.
type Handler func(ctx context.Context, msg *Message)

// Credentials authenticates one account against the gateway.
type Credentials struct {
	AccountID string
	AuthKey   string
}

// Transport opens connections to the chat network.
type Transport interface {
	Connect(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is one live connection bound to one account.
//
// Subscribe attaches the single inbound handler; attaching again replaces
// the previous one. Subscribed is transport-level introspection used by the
// health monitor to detect silently lost subscriptions.
type Conn interface {
	Connected() bool
	Subscribe(h Handler) error
	Unsubscribe()
	Subscribed() bool

	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error
	SetOffline(ctx context.Context, offline bool) error
	GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error)
	GetEntity(ctx context.Context, userID int64) (*Peer, error)
	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	Self(ctx context.Context) (Identity, error)

	// PollUpdates drains pending inbound messages without a standing
	// subscription. Used by the polling lifecycle policy.
	PollUpdates(ctx context.Context) ([]*Message, error)

	Close() error
}
