// Package guard holds the two gates in front of reply dispatch: the
// per-chat cooldown store and the per-message in-flight marker.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/quietline/replyd/internal/expiring"
)

// DefaultCooldownWindow is the minimum time between two auto-replies to
// the same direct-message chat.
const DefaultCooldownWindow = 30 * time.Minute

// DefaultInFlightTTL bounds marker leakage if an exceptional path skips
// explicit release.
const DefaultInFlightTTL = 30 * time.Second

type ChatKey struct {
	AccountID string
	ChatID    int64
}

type MessageKey struct {
	AccountID string
	ChatID    int64
	MessageID int64
}

// CooldownStore gates duplicate direct-message replies. Group replies are
// never cooldown-gated.
type CooldownStore struct {
	entries *expiring.Map[ChatKey, time.Time]
}

// NewCooldownStore creates a store with the given window.
func NewCooldownStore(window time.Duration, opts ...expiring.Option[ChatKey, time.Time]) *CooldownStore {
	return &CooldownStore{entries: expiring.NewMap(window, opts...)}
}

// IsOnCooldown reports whether a reply to (account, chat) happened inside
// the window. Expired entries are purged on lookup.
func (s *CooldownStore) IsOnCooldown(accountID string, chatID int64) bool {
	_, ok := s.entries.Get(ChatKey{accountID, chatID})
	return ok
}

// MarkReplied records the reply time for (account, chat).
func (s *CooldownStore) MarkReplied(accountID string, chatID int64) {
	s.entries.Put(ChatKey{accountID, chatID}, time.Now())
}

// Sweep drops expired entries.
func (s *CooldownStore) Sweep() int { return s.entries.Sweep() }

// StartSweeper sweeps on the given interval until ctx is cancelled.
// Lookups already expire lazily; the sweeper bounds memory for chats
// that never message again.
func (s *CooldownStore) StartSweeper(ctx context.Context, interval time.Duration) {
	s.entries.StartSweeper(ctx, interval)
}

// InFlightGuard prevents concurrent double-handling of a single inbound
// message. Markers auto-expire after the TTL as a safety net.
type InFlightGuard struct {
	markers *expiring.Map[MessageKey, struct{}]
}

// NewInFlightGuard creates a guard with the given auto-release TTL.
func NewInFlightGuard(ttl time.Duration, opts ...expiring.Option[MessageKey, struct{}]) *InFlightGuard {
	return &InFlightGuard{markers: expiring.NewMap(ttl, opts...)}
}

// TryAcquire atomically claims (account, chat, message). Returns true if
// this caller won; a second caller for the same key loses until Release
// or the TTL.
func (g *InFlightGuard) TryAcquire(accountID string, chatID, messageID int64) bool {
	return g.markers.PutIfAbsent(MessageKey{accountID, chatID, messageID}, struct{}{})
}

// Release drops the marker. Safe to call for markers that already expired.
func (g *InFlightGuard) Release(accountID string, chatID, messageID int64) {
	g.markers.Delete(MessageKey{accountID, chatID, messageID})
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.AccountID, k.ChatID, k.MessageID)
}
