package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietline/replyd/internal/accounts"
	"github.com/quietline/replyd/internal/auditlog"
	"github.com/quietline/replyd/internal/classify"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/expiring"
	"github.com/quietline/replyd/internal/guard"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

type memProvider struct {
	mu       sync.Mutex
	accounts map[string]*accounts.Account
}

func (p *memProvider) GetAccountSettings(_ context.Context, id string) (*accounts.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (p *memProvider) ListEnabled(context.Context) ([]*accounts.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*accounts.Account
	for _, a := range p.accounts {
		if a.AutoReplyActive() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *memProvider) OwnerOf(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[id]
	if !ok {
		return "", accounts.ErrNotFound
	}
	return a.OwnerUserID, nil
}

type memSink struct {
	mu      sync.Mutex
	records []auditlog.Record
	err     error
}

func (s *memSink) LogAutoReply(_ context.Context, r auditlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fixture struct {
	d     *Dispatcher
	conn  *transport.FakeConn
	sess  *session.Session
	sink  *memSink
	clock *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}

	provider := &memProvider{accounts: map[string]*accounts.Account{
		"A123": {
			ID: "A123", OwnerUserID: "U1",
			AutoReplyDMEnabled: true, AutoReplyDMMessage: "Away right now",
			AutoReplyGroupsEnabled: true, AutoReplyGroupsMessage: "I read mentions later",
		},
	}}

	f.sink = &memSink{}
	f.conn = transport.NewFakeConn(transport.Identity{UserID: 42, Username: "away_bot"})
	f.conn.Chats[555] = &transport.Chat{ID: 555, Type: transport.ChatPrivate}
	f.conn.Chats[777] = &transport.Chat{ID: 777, Type: transport.ChatGroup, Title: "devs"}
	f.conn.Peers[7] = &transport.Peer{ID: 7, Username: "alice"}
	f.sess = session.New("A123", f.conn, transport.Identity{UserID: 42, Username: "away_bot"})

	nowFn := func() time.Time { return *f.clock }
	f.d = New(
		provider,
		provider,
		classify.New(zerolog.Nop()),
		guard.NewCooldownStore(guard.DefaultCooldownWindow, expiring.WithNow[guard.ChatKey, time.Time](nowFn)),
		guard.NewInFlightGuard(guard.DefaultInFlightTTL),
		f.sink,
		metrics.New(),
		zerolog.Nop(),
	)
	return f
}

func dm(id int64, text string) *transport.Message {
	return &transport.Message{ID: id, ChatID: 555, SenderID: 7, Text: text}
}

func TestHandleInbound_DMReplyAndCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 10:00:00 — first DM gets a reply and arms the cooldown.
	f.d.HandleInbound(ctx, f.sess, dm(1, "hi"))
	require.Equal(t, 1, f.conn.SentCount())
	assert.Equal(t, "Away right now", f.conn.Sent[0].Text)
	assert.Equal(t, int64(0), f.conn.Sent[0].Opts.ReplyToID, "DM replies are plain sends")

	// 10:15:00 — inside the window, no second reply.
	*f.clock = f.clock.Add(15 * time.Minute)
	f.d.HandleInbound(ctx, f.sess, dm(2, "hi again"))
	assert.Equal(t, 1, f.conn.SentCount())

	// 10:31:00 — window elapsed, replies again.
	*f.clock = f.clock.Add(16 * time.Minute)
	f.d.HandleInbound(ctx, f.sess, dm(3, "anyone?"))
	assert.Equal(t, 2, f.conn.SentCount())

	assert.Equal(t, 2, f.sink.count())
	assert.Equal(t, "U1", f.sink.records[0].OwnerUserID)
	assert.Equal(t, "direct_message", f.sink.records[0].Surface)
}

func TestHandleInbound_GroupMentionRepliesInThread(t *testing.T) {
	f := newFixture(t)
	msg := &transport.Message{ID: 9, ChatID: 777, SenderID: 7, Text: "hey @away_bot"}

	f.d.HandleInbound(context.Background(), f.sess, msg)

	require.Equal(t, 1, f.conn.SentCount())
	assert.Equal(t, "I read mentions later", f.conn.Sent[0].Text)
	assert.Equal(t, int64(9), f.conn.Sent[0].Opts.ReplyToID, "group replies thread under the trigger")
}

func TestHandleInbound_GroupNotCooldownGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two mention triggers back to back: both reply. Groups have no
	// cross-message suppression, only the per-message trigger.
	f.d.HandleInbound(ctx, f.sess, &transport.Message{ID: 10, ChatID: 777, SenderID: 7, Text: "@away_bot one"})
	f.d.HandleInbound(ctx, f.sess, &transport.Message{ID: 11, ChatID: 777, SenderID: 7, Text: "@away_bot two"})
	assert.Equal(t, 2, f.conn.SentCount())
}

func TestHandleInbound_DuplicateEventsDispatchOnce(t *testing.T) {
	f := newFixture(t)
	msg := dm(1, "hi")

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.d.HandleInbound(context.Background(), f.sess, msg)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.conn.SentCount(), "exactly one reply for duplicate events")
}

func TestHandleInbound_SendFailureReleasesGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.conn.SendErr = rerrors.NewTransportError("sendMessage", 503, rerrors.ErrTimeout)
	f.d.HandleInbound(ctx, f.sess, dm(1, "hi"))
	assert.Equal(t, 0, f.conn.SentCount())
	assert.Equal(t, 0, f.sink.count(), "no audit record without a send")

	// Guard released on the failure path: the same message can be retried.
	f.conn.SendErr = nil
	f.d.HandleInbound(ctx, f.sess, dm(1, "hi"))
	assert.Equal(t, 1, f.conn.SentCount())
}

func TestHandleInbound_NoCooldownWithoutSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.conn.SendErr = rerrors.ErrTimeout
	f.d.HandleInbound(ctx, f.sess, dm(1, "hi"))

	f.conn.SendErr = nil
	f.d.HandleInbound(ctx, f.sess, dm(2, "hi again"))
	assert.Equal(t, 1, f.conn.SentCount(), "failed send must not arm the cooldown")
}

func TestHandleInbound_AuditFailureDoesNotBlockReply(t *testing.T) {
	f := newFixture(t)
	f.sink.err = assert.AnError

	f.d.HandleInbound(context.Background(), f.sess, dm(1, "hi"))
	assert.Equal(t, 1, f.conn.SentCount(), "audit failures never roll back the send")
}

type wrappingProvider struct {
	inner *memProvider
}

func (p *wrappingProvider) GetAccountSettings(ctx context.Context, id string) (*accounts.Account, error) {
	a, err := p.inner.GetAccountSettings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("settings lookup %s: %w", id, err)
	}
	return a, nil
}

func TestHandleInbound_WrappedNotFoundIgnored(t *testing.T) {
	f := newFixture(t)
	// Providers may wrap the sentinel; a wrapped miss is still a miss.
	f.d.provider = &wrappingProvider{inner: &memProvider{accounts: map[string]*accounts.Account{}}}

	f.d.HandleInbound(context.Background(), f.sess, dm(1, "hi"))
	assert.Equal(t, 0, f.conn.SentCount())
}

func TestHandleInbound_UnknownAccountIgnored(t *testing.T) {
	f := newFixture(t)
	ghost := session.New("A999", f.conn, transport.Identity{UserID: 42})

	f.d.HandleInbound(context.Background(), ghost, dm(1, "hi"))
	assert.Equal(t, 0, f.conn.SentCount())
}

func TestHandleInbound_BenignChatLookupAbandonsQuietly(t *testing.T) {
	f := newFixture(t)
	f.conn.GetChatErr = rerrors.ErrChatNotFound

	f.d.HandleInbound(context.Background(), f.sess, dm(1, "hi"))
	assert.Equal(t, 0, f.conn.SentCount())
}
