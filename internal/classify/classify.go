// Package classify decides whether an inbound message deserves an
// automated reply, and on which surface.
package classify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quietline/replyd/internal/accounts"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/identity"
	"github.com/quietline/replyd/internal/transport"
)

// Verdict is the classification outcome.
type Verdict string

const (
	NotEligible      Verdict = "not_eligible"
	DirectMessage    Verdict = "direct_message"
	GroupMention     Verdict = "group_mention"
	GroupReplyToSelf Verdict = "group_reply_to_self"
)

// Result carries the verdict and, for eligible messages, the configured
// reply text for the matched surface.
type Result struct {
	Verdict   Verdict
	ReplyText string
}

// Resolver is the slice of the transport needed to settle group
// eligibility: fetching a referenced message and inspecting a sender.
// transport.Conn satisfies it.
type Resolver interface {
	GetMessage(ctx context.Context, chatID, messageID int64) (*transport.Message, error)
	GetEntity(ctx context.Context, userID int64) (*transport.Peer, error)
}

// Classifier applies the eligibility rules in a fixed order. Transport
// errors during resolution are treated as "condition not met", never as
// classifier failures.
type Classifier struct {
	logger zerolog.Logger
}

// New creates a Classifier.
func New(logger zerolog.Logger) *Classifier {
	return &Classifier{logger: logger.With().Str("component", "classifier").Logger()}
}

// Classify evaluates one inbound message against the account's settings.
func (c *Classifier) Classify(
	ctx context.Context,
	msg *transport.Message,
	self transport.Identity,
	chat *transport.Chat,
	acct *accounts.Account,
	res Resolver,
) Result {
	none := Result{Verdict: NotEligible}

	// Own messages are never eligible. Sender IDs may arrive in legacy
	// narrow form, so compare canonically.
	if identity.Same(msg.SenderID, self.UserID) {
		return none
	}

	if c.senderIsBot(ctx, msg, res) {
		return none
	}

	if strings.TrimSpace(msg.Text) == "" {
		return none
	}

	if !chat.Type.IsGroup() {
		if acct.DMConfigured() {
			return Result{Verdict: DirectMessage, ReplyText: acct.AutoReplyDMMessage}
		}
		return none
	}

	if !acct.GroupsConfigured() {
		return none
	}
	if c.mentionsSelf(msg, self) {
		return Result{Verdict: GroupMention, ReplyText: acct.AutoReplyGroupsMessage}
	}
	if c.isReplyToSelf(ctx, msg, self, res) {
		return Result{Verdict: GroupReplyToSelf, ReplyText: acct.AutoReplyGroupsMessage}
	}
	return none
}

// senderIsBot resolves the sender and reports its bot flag. Resolution
// failures mean the condition is not met.
func (c *Classifier) senderIsBot(ctx context.Context, msg *transport.Message, res Resolver) bool {
	peer, err := res.GetEntity(ctx, msg.SenderID)
	if err != nil {
		if !rerrors.IsBenignPeer(err) {
			c.logger.Debug().Err(err).Int64("sender_id", msg.SenderID).Msg("sender lookup failed")
		}
		return false
	}
	return peer.Bot
}

// mentionsSelf checks structured mention entities and literal @username
// text for a reference to the session's own identity.
func (c *Classifier) mentionsSelf(msg *transport.Message, self transport.Identity) bool {
	for _, m := range msg.Mentions {
		if m.UserID != 0 && identity.Same(m.UserID, self.UserID) {
			return true
		}
		// Textual mention entity: the referenced username is the covered
		// slice of the message text.
		if m.UserID == 0 {
			if s := sliceMention(msg.Text, m.Offset, m.Length); identity.SameUsername(s, self.Username) {
				return true
			}
		}
	}

	if self.Username == "" {
		return false
	}
	// Fallback for gateways that omit entities: literal token scan.
	needle := "@" + identity.NormalizeUsername(self.Username)
	for _, tok := range strings.Fields(msg.Text) {
		tok = strings.TrimRight(tok, ".,!?:;)")
		if strings.EqualFold(tok, needle) {
			return true
		}
	}
	return false
}

func sliceMention(text string, offset, length int) string {
	runes := []rune(text)
	if offset < 0 || length <= 0 || offset+length > len(runes) {
		return ""
	}
	return string(runes[offset : offset+length])
}

// isReplyToSelf resolves the referenced message, fetching it if not
// inlined, and compares its author to the session identity.
func (c *Classifier) isReplyToSelf(ctx context.Context, msg *transport.Message, self transport.Identity, res Resolver) bool {
	ref := msg.ReplyTo
	if ref == nil {
		if msg.ReplyToID == 0 {
			return false
		}
		var err error
		ref, err = res.GetMessage(ctx, msg.ChatID, msg.ReplyToID)
		if err != nil {
			if !rerrors.IsBenignPeer(err) {
				c.logger.Debug().Err(err).
					Int64("chat_id", msg.ChatID).
					Int64("reply_to_id", msg.ReplyToID).
					Msg("referenced message fetch failed")
			}
			return false
		}
	}
	return identity.Same(ref.SenderID, self.UserID)
}
