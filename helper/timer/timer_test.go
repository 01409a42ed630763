package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestNextStaysWithinJitter(t *testing.T) {
	iv := &Interval{Duration: 10 * time.Second, Jitter: 2 * time.Second}
	for i := 0; i < 1000; i++ {
		d := iv.Next()
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.Less(t, d, 12*time.Second)
	}

	assert.Equal(t, time.Second, (&Interval{Duration: time.Second}).Next())

	// jitter is capped at half the period
	wide := &Interval{Duration: time.Second, Jitter: time.Hour}
	for i := 0; i < 100; i++ {
		assert.Greater(t, wide.Next(), time.Duration(0))
	}

	// too short to jitter at all
	tiny := &Interval{Duration: time.Nanosecond, Jitter: time.Second}
	assert.NotPanics(t, func() { assert.Equal(t, time.Nanosecond, tiny.Next()) })
	assert.Equal(t, time.Duration(0), (&Interval{Jitter: time.Second}).Next())
}

func TestRunWithTicker(t *testing.T) {
	clk := clock.NewMock()
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunWithTicker(ctx, clk, &Interval{Duration: time.Second}, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		clk.Add(time.Second)
		return calls.Load() >= 3
	}, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWithTickerStopsOnError(t *testing.T) {
	clk := clock.NewMock()
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- RunWithTicker(context.Background(), clk, &Interval{Duration: time.Second}, func(context.Context) error {
			return boom
		})
	}()

	assert.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case err := <-done:
			return errors.Is(err, boom)
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
}
