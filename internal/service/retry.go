package service

import (
	"context"
	"time"
)

// RetryPolicy bounds a retried call. Before attempt n+1 the caller waits
// n*Delay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts with a one second linear step.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: time.Second}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn until it succeeds or the policy's attempts are used up and
// returns the last error.
func Retry(ctx context.Context, p RetryPolicy, sleep Sleeper, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}
		if serr := sleep(ctx, time.Duration(attempt)*p.Delay); serr != nil {
			return err
		}
	}
	return err
}
