package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fundingwatch/internal/domain"
)

// countingTimer fires immediately and records every requested delay.
type countingTimer struct {
	c      chan time.Time
	delays []time.Duration
}

func newCountingTimer() *countingTimer {
	return &countingTimer{c: make(chan time.Time, 1)}
}

func (t *countingTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c <- time.Now()
}

func (t *countingTimer) Stop() {}

func (t *countingTimer) C() <-chan time.Time { return t.c }

func TestDoRecoversAfterFailures(t *testing.T) {
	timer := newCountingTimer()
	policy := Policy{MaxAttempts: 5, Delay: 5 * time.Second, timer: timer}

	calls := 0
	res, recovered, err := Do(context.Background(), policy, zerolog.Nop(), func(ctx context.Context) (string, error) {
		calls++
		if calls <= 4 {
			return "", errors.New("boom")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", res)
	require.Equal(t, 4, recovered)
	require.Equal(t, 5, calls)
	require.Len(t, timer.delays, 4)
}

func TestDoExhaustsAfterMaxAttempts(t *testing.T) {
	timer := newCountingTimer()
	policy := Policy{MaxAttempts: 5, Delay: 5 * time.Second, timer: timer}

	calls := 0
	lastErr := errors.New("still down")
	_, attempts, err := Do(context.Background(), policy, zerolog.Nop(), func(ctx context.Context) (int, error) {
		calls++
		return 0, lastErr
	})

	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrFetchExhausted))
	require.True(t, errors.Is(err, lastErr))
	require.Equal(t, 5, calls)
	require.Equal(t, 5, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 5, exhausted.Attempts)

	require.Len(t, timer.delays, 4)
	for _, d := range timer.delays {
		require.Equal(t, 5*time.Second, d)
	}
}

func TestDoFirstTrySuccessReportsZeroRecovered(t *testing.T) {
	timer := newCountingTimer()
	_, recovered, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Second, timer: timer}, zerolog.Nop(),
		func(ctx context.Context) (int, error) { return 1, nil })

	require.NoError(t, err)
	require.Zero(t, recovered)
	require.Empty(t, timer.delays)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, _, err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Hour}, zerolog.Nop(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("unreachable")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, domain.ErrFetchExhausted))
	require.Zero(t, calls)
}

func TestDoCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, _, err := Do(ctx, Policy{MaxAttempts: 5, Delay: time.Hour}, zerolog.Nop(), func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("down")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	require.Equal(t, 1, calls)
}
