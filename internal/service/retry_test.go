package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: 10 * time.Millisecond}

	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantErr   bool
		wantWaits []time.Duration
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "second try", failures: 1, wantCalls: 2, wantWaits: []time.Duration{10 * time.Millisecond}},
		{name: "third try", failures: 2, wantCalls: 3, wantWaits: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}},
		{name: "exhausted", failures: 5, wantCalls: 3, wantErr: true, wantWaits: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSleeper{}
			calls := 0
			err := Retry(context.Background(), policy, rec.sleep, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("attempt failed")
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantWaits, rec.waits)
			if tt.wantErr {
				require.EqualError(t, err, "attempt failed")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	rec := &recordingSleeper{}
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2}, rec.sleep, func(context.Context) error {
		calls++
		return errors.New([]string{"", "first", "second"}[calls])
	})
	require.EqualError(t, err, "second")
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 3, Delay: time.Hour}, nil, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
