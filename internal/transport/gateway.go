package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/retry"
)

// Gateway is an HTTP client for the chat gateway service. One Gateway is
// shared by all accounts; each Connect yields an independent Conn.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	timeout int // long-poll timeout in seconds
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

func GatewayWithLogger(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func GatewayWithPollTimeout(secs int) GatewayOption {
	return func(g *Gateway) { g.timeout = secs }
}

func GatewayWithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

// NewGateway creates a gateway client for the given base URL.
func NewGateway(baseURL string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  zerolog.Nop(),
		timeout: 25,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Connect opens a session for the given credentials.
func (g *Gateway) Connect(ctx context.Context, creds Credentials) (Conn, error) {
	var out struct {
		SessionToken string `json:"session_token"`
		Self         struct {
			UserID   int64  `json:"user_id"`
			Username string `json:"username"`
		} `json:"self"`
	}
	// Connects are retried on transient failures; auth errors surface at
	// once so the caller can release the account.
	err := retry.Do(ctx, retry.GatewayPolicy(), func(ctx context.Context) error {
		return g.call(ctx, http.MethodPost, "/v1/sessions", "", map[string]string{
			"account_id": creds.AccountID,
			"auth_key":   creds.AuthKey,
		}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("gateway connect %s: %w", creds.AccountID, err)
	}

	return &gatewayConn{
		gw:    g,
		token: out.SessionToken,
		self: Identity{
			UserID:   out.Self.UserID,
			Username: out.Self.Username,
		},
		accountID: creds.AccountID,
		logger:    g.logger.With().Str("account_id", creds.AccountID).Logger(),
		alive:     true,
	}, nil
}

// gatewayConn is one live gateway session.
type gatewayConn struct {
	gw        *Gateway
	token     string
	self      Identity
	accountID string
	logger    zerolog.Logger

	mu       sync.Mutex
	alive    bool
	handler  Handler
	pollStop context.CancelFunc
	offset   int64
}

func (c *gatewayConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Subscribe replaces any existing handler and (re)starts the long-poll
// loop that feeds it. Exactly one loop runs per connection.
func (c *gatewayConn) Subscribe(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return rerrors.ErrNotConnected
	}
	if c.pollStop != nil {
		c.pollStop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.handler = h
	c.pollStop = cancel
	go c.poll(ctx, h)
	return nil
}

func (c *gatewayConn) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollStop != nil {
		c.pollStop()
		c.pollStop = nil
	}
	c.handler = nil
}

func (c *gatewayConn) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && c.pollStop != nil
}

func (c *gatewayConn) poll(ctx context.Context, h Handler) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := c.PollUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if rerrors.IsAuthFailure(err) {
				c.logger.Warn().Err(err).Msg("gateway poll: authorization revoked, stopping")
				c.markDead()
				return
			}
			c.logger.Error().Err(err).Msg("gateway poll")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		for _, m := range msgs {
			h(ctx, m)
		}
	}
}

func (c *gatewayConn) markDead() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// wireMessage is the gateway's JSON message envelope.
type wireMessage struct {
	ID             int64  `json:"id"`
	ChatID         int64  `json:"chat_id"`
	SenderID       int64  `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Text           string `json:"text"`
	Mentions       []struct {
		Offset int   `json:"offset"`
		Length int   `json:"length"`
		UserID int64 `json:"user_id"`
	} `json:"mentions"`
	ReplyToID int64        `json:"reply_to_id"`
	ReplyTo   *wireMessage `json:"reply_to"`
	Date      int64        `json:"date"`
}

func (w *wireMessage) message() *Message {
	m := &Message{
		ID:             w.ID,
		ChatID:         w.ChatID,
		SenderID:       w.SenderID,
		SenderUsername: w.SenderUsername,
		Text:           w.Text,
		ReplyToID:      w.ReplyToID,
		Date:           time.Unix(w.Date, 0).UTC(),
	}
	for _, e := range w.Mentions {
		m.Mentions = append(m.Mentions, Mention{Offset: e.Offset, Length: e.Length, UserID: e.UserID})
	}
	if w.ReplyTo != nil {
		m.ReplyTo = w.ReplyTo.message()
	}
	return m
}

func (c *gatewayConn) PollUpdates(ctx context.Context) ([]*Message, error) {
	c.mu.Lock()
	offset := c.offset
	c.mu.Unlock()

	var out struct {
		Messages   []*wireMessage `json:"messages"`
		NextOffset int64          `json:"next_offset"`
	}
	path := fmt.Sprintf("/v1/updates?offset=%d&timeout=%d", offset, c.gw.timeout)
	if err := c.gw.call(ctx, http.MethodGet, path, c.token, nil, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if out.NextOffset > c.offset {
		c.offset = out.NextOffset
	}
	c.mu.Unlock()

	msgs := make([]*Message, 0, len(out.Messages))
	for _, w := range out.Messages {
		msgs = append(msgs, w.message())
	}
	return msgs, nil
}

func (c *gatewayConn) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.ReplyToID != 0 {
		body["reply_to_id"] = opts.ReplyToID
	}
	return c.gw.call(ctx, http.MethodPost, "/v1/messages", c.token, body, nil)
}

func (c *gatewayConn) SetOffline(ctx context.Context, offline bool) error {
	return c.gw.call(ctx, http.MethodPost, "/v1/presence", c.token, map[string]any{
		"offline": offline,
	}, nil)
}

func (c *gatewayConn) GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error) {
	var w wireMessage
	path := fmt.Sprintf("/v1/chats/%d/messages/%d", chatID, messageID)
	if err := c.gw.call(ctx, http.MethodGet, path, c.token, nil, &w); err != nil {
		return nil, err
	}
	return w.message(), nil
}

func (c *gatewayConn) GetEntity(ctx context.Context, userID int64) (*Peer, error) {
	var out struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
		Deleted  bool   `json:"deleted"`
	}
	if err := c.gw.call(ctx, http.MethodGet, fmt.Sprintf("/v1/users/%d", userID), c.token, nil, &out); err != nil {
		return nil, err
	}
	return &Peer{ID: out.ID, Username: out.Username, Bot: out.Bot, Deleted: out.Deleted}, nil
}

func (c *gatewayConn) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var out struct {
		ID    int64  `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
	}
	if err := c.gw.call(ctx, http.MethodGet, fmt.Sprintf("/v1/chats/%d", chatID), c.token, nil, &out); err != nil {
		return nil, err
	}
	return &Chat{ID: out.ID, Type: ChatType(out.Type), Title: out.Title}, nil
}

func (c *gatewayConn) Self(ctx context.Context) (Identity, error) {
	return c.self, nil
}

func (c *gatewayConn) Close() error {
	c.Unsubscribe()
	c.markDead()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Best effort: the gateway reaps orphaned sessions on its own.
	if err := c.gw.call(ctx, http.MethodDelete, "/v1/sessions/current", c.token, nil, nil); err != nil {
		c.logger.Debug().Err(err).Msg("gateway session release")
	}
	return nil
}

// gatewayError is the gateway's JSON error payload.
type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call issues one gateway request and decodes the response into out.
// Non-2xx responses are mapped onto the error taxonomy.
func (g *Gateway) call(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway marshal: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return rerrors.NewTransportError(method+" "+path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ge gatewayError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &ge)
		return mapGatewayError(method+" "+path, resp.StatusCode, ge.Error.Code, ge.Error.Message)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway decode %s: %w", path, err)
	}
	return nil
}

// mapGatewayError folds gateway status and error codes onto the taxonomy.
func mapGatewayError(op string, status int, code, message string) error {
	base := fmt.Errorf("%s", message)
	switch code {
	case "AUTH_KEY_REVOKED", "SESSION_EXPIRED":
		base = rerrors.ErrAuthRevoked
	case "PEER_INVALID":
		base = rerrors.ErrPeerInvalid
	case "USER_DEACTIVATED":
		base = rerrors.ErrPeerDeleted
	case "CHAT_NOT_FOUND":
		base = rerrors.ErrChatNotFound
	case "FLOOD_WAIT":
		base = rerrors.ErrFloodWait
	case "":
		if message == "" {
			base = fmt.Errorf("status %d", status)
		}
	}
	if status == 401 {
		base = rerrors.ErrAuthRevoked
	}
	return rerrors.NewTransportError(op, status, base)
}
