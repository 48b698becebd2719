package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	err := n.Notify(context.Background(), Event{
		Level: LevelCritical, Title: "authorization revoked", AccountID: "A123",
	})
	assert.NoError(t, err)
}

func TestMultiNotifier_FansOutAndKeepsFirstError(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingNotifier{err: boom}
	b := &recordingNotifier{}

	m := NewMultiNotifier(a, b)
	err := m.Notify(context.Background(), Event{Level: LevelWarning, Title: "t"})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1, "later notifiers still run after a failure")
}
