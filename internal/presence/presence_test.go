package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietline/replyd/internal/accounts"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

func newRegistry(t *testing.T) (*session.Registry, *transport.FakeTransport) {
	t.Helper()
	tr := transport.NewFakeTransport()
	reg := session.NewRegistry(tr, session.NewPersistentPolicy(zerolog.Nop()), metrics.New(), zerolog.Nop())
	reg.SetHandlerFactory(func(*session.Session) transport.Handler {
		return func(context.Context, *transport.Message) {}
	})
	return reg, tr
}

func connect(t *testing.T, reg *session.Registry, id string) *transport.FakeConn {
	t.Helper()
	s, err := reg.Connect(context.Background(), &accounts.Account{ID: id})
	require.NoError(t, err)
	return s.Conn().(*transport.FakeConn)
}

func TestWalk_PushesOfflineToConnectedSessions(t *testing.T) {
	reg, _ := newRegistry(t)
	c1 := connect(t, reg, "A1")
	c2 := connect(t, reg, "A2")

	c := NewCycler(reg, func(context.Context, string) error { return nil },
		8*time.Second, 12*time.Second, metrics.New(), zerolog.Nop())
	c.Walk(context.Background())

	// One push from Attach, one from the walk.
	assert.Equal(t, 2, c1.OfflineCalls)
	assert.Equal(t, 2, c2.OfflineCalls)
}

func TestWalk_ReconnectsDeadSessions(t *testing.T) {
	reg, _ := newRegistry(t)
	c1 := connect(t, reg, "A1")
	c1.SetConnected(false)

	var asked []string
	c := NewCycler(reg, func(_ context.Context, id string) error {
		asked = append(asked, id)
		return nil
	}, 8*time.Second, 12*time.Second, metrics.New(), zerolog.Nop())
	c.Walk(context.Background())

	assert.Equal(t, []string{"A1"}, asked)
	assert.Equal(t, 1, c1.OfflineCalls, "no offline push on a dead connection")
}

func TestWalk_ErrorsAreIsolatedPerAccount(t *testing.T) {
	reg, _ := newRegistry(t)
	bad := connect(t, reg, "A1")
	good := connect(t, reg, "A2")
	bad.OfflineErr = rerrors.NewTransportError("setPresence", 503, rerrors.ErrTimeout)

	c := NewCycler(reg, func(context.Context, string) error { return nil },
		8*time.Second, 12*time.Second, metrics.New(), zerolog.Nop())
	c.Walk(context.Background())

	assert.Equal(t, 2, good.OfflineCalls, "failure on one account never skips the rest")
}

func TestNextInterval_StaysInsideBounds(t *testing.T) {
	reg, _ := newRegistry(t)
	c := NewCycler(reg, func(context.Context, string) error { return nil },
		8*time.Second, 12*time.Second, metrics.New(), zerolog.Nop())

	for i := 0; i < 200; i++ {
		d := c.nextInterval()
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.Less(t, d, 12*time.Second)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	reg, _ := newRegistry(t)
	c := NewCycler(reg, func(context.Context, string) error { return nil },
		time.Millisecond, 2*time.Millisecond, metrics.New(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cycler did not stop on cancel")
	}
}
