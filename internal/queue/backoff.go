package queue

import (
	"context"
	"time"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// backoff doubles from initialBackoff up to maxBackoff.
type backoff struct {
	current time.Duration
}

func (b *backoff) next() time.Duration {
	switch {
	case b.current == 0:
		b.current = initialBackoff
	case b.current < maxBackoff:
		b.current = min(b.current*2, maxBackoff)
	}
	return b.current
}

func (b *backoff) reset() { b.current = 0 }

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
