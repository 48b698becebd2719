// Package retry bounds transient gateway failures with exponential
// backoff driven by the transport error taxonomy: retryable errors back
// off and try again, rate-limit errors wait at least a flood floor, and
// everything else surfaces immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	rerrors "github.com/quietline/replyd/internal/errors"
)

// Policy controls the backoff schedule.
type Policy struct {
	Attempts     int           // total tries, including the first
	InitialDelay time.Duration // delay before the second try
	MaxDelay     time.Duration // cap on the doubled delay
	FloodFloor   time.Duration // minimum wait after a rate-limit error
}

// GatewayPolicy is the schedule used for gateway dials. Three tries keep
// a flapping gateway from stalling a health pass for long; the flood
// floor respects the network's own pacing signal.
func GatewayPolicy() Policy {
	return Policy{
		Attempts:     3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		FloodFloor:   2 * time.Second,
	}
}

// Do runs fn until it succeeds, the error stops being retryable, or the
// attempt budget is spent. Delays double each round and always carry
// jitter so many accounts failing together do not retry in lockstep.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !rerrors.IsRetryable(err) || attempt >= p.Attempts {
			return err
		}

		wait := delay
		if errors.Is(err, rerrors.ErrFloodWait) && wait < p.FloodFloor {
			wait = p.FloodFloor
		}
		wait = wait/2 + time.Duration(rand.Int63n(int64(wait/2)+1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
