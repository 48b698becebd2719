package transport

import (
	"context"
	"sync"

	rerrors "github.com/quietline/replyd/internal/errors"
)

// FakeTransport is an in-memory Transport for tests.
type FakeTransport struct {
	mu           sync.Mutex
	ConnectErr   error
	ConnectCount int
	conns        []*FakeConn

	// SelfFor maps accountID to the identity a new connection reports.
	SelfFor map[string]Identity

	// OnConnect, when set, seeds each new connection before it is handed
	// out, so peers and chats survive simulated reconnects.
	OnConnect func(*FakeConn)
}

// NewFakeTransport creates an empty fake transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{SelfFor: make(map[string]Identity)}
}

func (t *FakeTransport) Connect(_ context.Context, creds Credentials) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ConnectCount++
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	self, ok := t.SelfFor[creds.AccountID]
	if !ok {
		self = Identity{UserID: 1000, Username: "self"}
	}
	c := NewFakeConn(self)
	c.AccountID = creds.AccountID
	if t.OnConnect != nil {
		t.OnConnect(c)
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns every connection handed out so far.
func (t *FakeTransport) Conns() []*FakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FakeConn, len(t.conns))
	copy(out, t.conns)
	return out
}

// SentMessage records one outbound send on a FakeConn.
type SentMessage struct {
	ChatID int64
	Text   string
	Opts   SendOptions
}

// FakeConn is an in-memory Conn for tests.
type FakeConn struct {
	mu         sync.Mutex
	AccountID  string
	self       Identity
	connected  bool
	subscribed bool
	handler    Handler

	Sent         []SentMessage
	OfflineCalls int
	Peers        map[int64]*Peer
	Chats        map[int64]*Chat
	Messages     map[int64]*Message // keyed by message ID
	Pending      []*Message         // drained by PollUpdates

	SendErr       error
	OfflineErr    error
	SubscribeErr  error
	GetMessageErr error
	GetEntityErr  error
	GetChatErr    error
}

// NewFakeConn creates a connected, unsubscribed fake connection.
func NewFakeConn(self Identity) *FakeConn {
	return &FakeConn{
		self:      self,
		connected: true,
		Peers:     make(map[int64]*Peer),
		Chats:     make(map[int64]*Chat),
		Messages:  make(map[int64]*Message),
	}
}

func (c *FakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetConnected flips the link state, simulating a transport-level drop.
func (c *FakeConn) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if !v {
		c.subscribed = false
	}
}

func (c *FakeConn) Subscribe(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	if !c.connected {
		return rerrors.ErrNotConnected
	}
	c.handler = h
	c.subscribed = true
	return nil
}

func (c *FakeConn) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = nil
	c.subscribed = false
}

func (c *FakeConn) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// DropSubscription detaches the handler without the conn noticing,
// simulating a silently lost subscription for health-monitor tests.
func (c *FakeConn) DropSubscription() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = false
}

// Deliver feeds an inbound message to the subscribed handler, if any.
func (c *FakeConn) Deliver(ctx context.Context, m *Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ctx, m)
	}
}

func (c *FakeConn) SendMessage(_ context.Context, chatID int64, text string, opts SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, SentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (c *FakeConn) SetOffline(_ context.Context, offline bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfflineErr != nil {
		return c.OfflineErr
	}
	if offline {
		c.OfflineCalls++
	}
	return nil
}

func (c *FakeConn) GetMessage(_ context.Context, _ int64, messageID int64) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetMessageErr != nil {
		return nil, c.GetMessageErr
	}
	m, ok := c.Messages[messageID]
	if !ok {
		return nil, rerrors.ErrChatNotFound
	}
	return m, nil
}

func (c *FakeConn) GetEntity(_ context.Context, userID int64) (*Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetEntityErr != nil {
		return nil, c.GetEntityErr
	}
	p, ok := c.Peers[userID]
	if !ok {
		return nil, rerrors.ErrPeerInvalid
	}
	return p, nil
}

func (c *FakeConn) GetChat(_ context.Context, chatID int64) (*Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetChatErr != nil {
		return nil, c.GetChatErr
	}
	ch, ok := c.Chats[chatID]
	if !ok {
		return nil, rerrors.ErrChatNotFound
	}
	return ch, nil
}

func (c *FakeConn) Self(_ context.Context) (Identity, error) {
	return c.self, nil
}

func (c *FakeConn) PollUpdates(_ context.Context) ([]*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Pending
	c.Pending = nil
	return out, nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.subscribed = false
	c.handler = nil
	return nil
}

// SentCount returns how many messages were sent, under the lock.
func (c *FakeConn) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}
