package session

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/transport"
)

func newConnectedSession(conn *transport.FakeConn) *Session {
	return New("A123", conn, transport.Identity{UserID: 42, Username: "away_bot"})
}

func nopHandler(context.Context, *transport.Message) {}

func TestPersistent_AttachSubscribesAndGoesOffline(t *testing.T) {
	conn := transport.NewFakeConn(transport.Identity{UserID: 42})
	s := newConnectedSession(conn)
	p := NewPersistentPolicy(zerolog.Nop())

	require.NoError(t, p.Attach(context.Background(), s, nopHandler))
	assert.True(t, conn.Subscribed())
	assert.Equal(t, 1, conn.OfflineCalls)
}

func TestPersistent_MaintainHealthy(t *testing.T) {
	conn := transport.NewFakeConn(transport.Identity{UserID: 42})
	s := newConnectedSession(conn)
	p := NewPersistentPolicy(zerolog.Nop())
	require.NoError(t, p.Attach(context.Background(), s, nopHandler))

	out, err := p.Maintain(context.Background(), s, nopHandler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealthy, out)
	assert.Equal(t, StateConnected, s.State())
}

func TestPersistent_MaintainReattachesLostHandler(t *testing.T) {
	conn := transport.NewFakeConn(transport.Identity{UserID: 42})
	s := newConnectedSession(conn)
	p := NewPersistentPolicy(zerolog.Nop())
	require.NoError(t, p.Attach(context.Background(), s, nopHandler))

	conn.DropSubscription()

	out, err := p.Maintain(context.Background(), s, nopHandler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReattached, out)
	assert.True(t, conn.Subscribed())
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 2, conn.OfflineCalls, "presence re-applied after re-attach")
}

func TestPersistent_MaintainEscalatesWhenReattachFails(t *testing.T) {
	conn := transport.NewFakeConn(transport.Identity{UserID: 42})
	s := newConnectedSession(conn)
	p := NewPersistentPolicy(zerolog.Nop())
	require.NoError(t, p.Attach(context.Background(), s, nopHandler))

	conn.DropSubscription()
	conn.SubscribeErr = rerrors.ErrSubscribeFailed

	_, err := p.Maintain(context.Background(), s, nopHandler)
	require.Error(t, err)
	assert.ErrorIs(t, err, rerrors.ErrSubscribeFailed)
	assert.Equal(t, StateDegraded, s.State(), "session stays degraded until reconnect")
}

func TestPolling_MaintainDrainsThroughHandler(t *testing.T) {
	conn := transport.NewFakeConn(transport.Identity{UserID: 42})
	conn.Pending = []*transport.Message{
		{ID: 1, ChatID: 555, SenderID: 7, Text: "hi"},
		{ID: 2, ChatID: 555, SenderID: 7, Text: "there"},
	}
	s := newConnectedSession(conn)
	p := NewPollingPolicy(zerolog.Nop())
	require.NoError(t, p.Attach(context.Background(), s, nopHandler))

	var got []int64
	out, err := p.Maintain(context.Background(), s, func(_ context.Context, m *transport.Message) {
		got = append(got, m.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePolled, out)
	assert.Equal(t, []int64{1, 2}, got)
	assert.False(t, conn.Subscribed(), "polling never holds a standing subscription")
	assert.Equal(t, 2, conn.OfflineCalls, "offline re-asserted after each drain")
}
