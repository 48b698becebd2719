package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietline/replyd/internal/accounts"
	rerrors "github.com/quietline/replyd/internal/errors"
	"github.com/quietline/replyd/internal/metrics"
	"github.com/quietline/replyd/internal/notify"
	"github.com/quietline/replyd/internal/session"
	"github.com/quietline/replyd/internal/transport"
)

type memDirectory struct {
	mu      sync.Mutex
	enabled []*accounts.Account
	listErr error
}

func (d *memDirectory) ListEnabled(context.Context) ([]*accounts.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]*accounts.Account, len(d.enabled))
	copy(out, d.enabled)
	return out, nil
}

func (d *memDirectory) OwnerOf(context.Context, string) (string, error) { return "", accounts.ErrNotFound }

func (d *memDirectory) set(accts ...*accounts.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = accts
}

type memNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *memNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func acct(id string) *accounts.Account {
	return &accounts.Account{ID: id, AutoReplyDMEnabled: true, AutoReplyDMMessage: "away"}
}

type harness struct {
	monitor  *Monitor
	registry *session.Registry
	tr       *transport.FakeTransport
	dir      *memDirectory
	notifier *memNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tr:       transport.NewFakeTransport(),
		dir:      &memDirectory{},
		notifier: &memNotifier{},
	}
	h.registry = session.NewRegistry(h.tr, session.NewPersistentPolicy(zerolog.Nop()), metrics.New(), zerolog.Nop())
	h.registry.SetHandlerFactory(func(*session.Session) transport.Handler {
		return func(context.Context, *transport.Message) {}
	})
	h.monitor = NewMonitor(h.registry, h.dir, DefaultInterval, metrics.New(), h.notifier, zerolog.Nop())
	return h
}

func TestPass_ConnectsNewlyEnabledAccounts(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"), acct("A2"))

	h.monitor.Pass(context.Background())

	assert.Equal(t, 2, h.registry.Len())
	_, ok := h.registry.Get("A1")
	assert.True(t, ok)
}

func TestPass_ReleasesDisabledAccounts(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"), acct("A2"))
	h.monitor.Pass(context.Background())
	require.Equal(t, 2, h.registry.Len())

	h.dir.set(acct("A1"))
	h.monitor.Pass(context.Background())

	assert.Equal(t, 1, h.registry.Len())
	_, ok := h.registry.Get("A2")
	assert.False(t, ok, "disabled account keeps no session")
}

func TestPass_ReattachesLostSubscriptionWithoutReconnect(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.monitor.Pass(context.Background())
	require.Equal(t, 1, h.tr.ConnectCount)

	s, ok := h.registry.Get("A1")
	require.True(t, ok)
	conn := s.Conn().(*transport.FakeConn)
	conn.DropSubscription()

	h.monitor.Pass(context.Background())

	assert.True(t, conn.Subscribed(), "subscription repaired in place")
	assert.Equal(t, 1, h.tr.ConnectCount, "repair must not dial a new session")
	assert.Equal(t, session.StateConnected, s.State())
}

func TestPass_EscalatesToReconnectWhenReattachFails(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.monitor.Pass(context.Background())

	s, _ := h.registry.Get("A1")
	conn := s.Conn().(*transport.FakeConn)
	conn.DropSubscription()
	conn.SubscribeErr = rerrors.ErrSubscribeFailed

	h.monitor.Pass(context.Background())

	assert.Equal(t, 2, h.tr.ConnectCount, "failed re-attach escalates to a fresh dial")
	fresh, ok := h.registry.Get("A1")
	require.True(t, ok)
	assert.NotSame(t, s, fresh)
	assert.True(t, fresh.Conn().Subscribed())
}

func TestPass_ReconnectsDeadConnection(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.monitor.Pass(context.Background())

	s, _ := h.registry.Get("A1")
	s.Conn().(*transport.FakeConn).SetConnected(false)

	h.monitor.Pass(context.Background())

	assert.Equal(t, 2, h.tr.ConnectCount)
	fresh, ok := h.registry.Get("A1")
	require.True(t, ok)
	assert.True(t, fresh.Conn().Connected())
}

func TestPass_AuthFailureNotifiesOperatorOnce(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.tr.ConnectErr = rerrors.NewTransportError("connect", 401, rerrors.ErrAuthRevoked)

	h.monitor.Pass(context.Background())
	h.monitor.Pass(context.Background())

	assert.Equal(t, 0, h.registry.Len(), "revoked account holds no session")
	assert.Equal(t, 1, h.notifier.count(), "operator notified exactly once")
	assert.Equal(t, notify.LevelCritical, h.notifier.events[0].Level)
}

func TestPass_TransientConnectFailureRetriesSilently(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.tr.ConnectErr = rerrors.NewTransportError("connect", 503, rerrors.ErrTimeout)

	h.monitor.Pass(context.Background())
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, 0, h.notifier.count(), "transient failures never page the operator")

	h.tr.ConnectErr = nil
	h.monitor.Pass(context.Background())
	assert.Equal(t, 1, h.registry.Len(), "account comes up on the next pass")
}

func TestPass_DirectoryErrorSkipsSweep(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.monitor.Pass(context.Background())
	require.Equal(t, 1, h.registry.Len())

	h.dir.listErr = assert.AnError
	h.monitor.Pass(context.Background())

	assert.Equal(t, 1, h.registry.Len(), "stale directory data must not tear sessions down")
}

func TestRun_ImmediatePassThenStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.dir.set(acct("A1"))
	h.monitor.interval = time.Hour // only the immediate pass can connect

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.monitor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.registry.Len() == 1 },
		time.Second, 5*time.Millisecond, "first pass runs without waiting an interval")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancel")
	}
}
