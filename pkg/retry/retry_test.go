package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func TestPolicy_Do(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantAttempts int
		wantErr      bool
		wantSleeps   int
	}{
		{name: "first attempt succeeds", failures: 0, wantAttempts: 1, wantSleeps: 0},
		{name: "succeeds on second attempt", failures: 1, wantAttempts: 2, wantSleeps: 1},
		{name: "succeeds on last attempt", failures: 2, wantAttempts: 3, wantSleeps: 2},
		{name: "all attempts fail", failures: 5, wantAttempts: 3, wantErr: true, wantSleeps: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewFakeClock(time.Unix(0, 0))
			policy := DefaultPolicy()
			policy.Clock = clock

			calls := 0
			res := policy.Do(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			}, nil)

			assert.Equal(t, tt.wantAttempts, res.Attempts)
			assert.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr {
				assert.ErrorIs(t, res.Err, errTransient)
			} else {
				assert.NoError(t, res.Err)
			}
			sleeps := clock.Sleeps()
			require.Len(t, sleeps, tt.wantSleeps)
			for _, d := range sleeps {
				assert.Equal(t, 2*time.Second, d)
			}
		})
	}
}

func TestPolicy_ObserverSeesEveryAttempt(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Delay: time.Second, Clock: NewFakeClock(time.Unix(0, 0))}

	var seen []Attempt
	policy.Do(context.Background(), func(context.Context, int) error {
		return errTransient
	}, func(a Attempt) {
		seen = append(seen, a)
	})

	require.Len(t, seen, 3)
	assert.False(t, seen[0].Last)
	assert.False(t, seen[1].Last)
	assert.True(t, seen[2].Last)
	assert.Equal(t, 3, seen[2].Number)
}

func TestPolicy_Backoff(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	policy := Policy{MaxAttempts: 4, Delay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second, Clock: clock}

	policy.Do(context.Background(), func(context.Context, int) error { return errTransient }, nil)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, clock.Sleeps())
}

func TestPolicy_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 3, Delay: time.Second, Clock: NewFakeClock(time.Unix(0, 0))}

	calls := 0
	res := policy.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errTransient
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, errTransient)
}

func TestPolicy_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	res := Policy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return nil
	}, nil)
	assert.Equal(t, 1, calls)
	assert.NoError(t, res.Err)
}
