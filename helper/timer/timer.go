package timer

import (
	"context"
	"math/rand/v2"
	"reflect"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

// Next returns the delay until the next tick, uniformly spread over Duration +/- Jitter.
func (i *Interval) Next() time.Duration {
	if i.Jitter <= 0 {
		return i.Duration
	}
	j := min(i.Jitter, i.Duration/2)
	if j <= 0 {
		return i.Duration
	}
	return i.Duration + time.Duration(rand.Int64N(int64(2*j))) - j
}

// RunWithTicker runs f periodically on clk. It exits when ctx is cancelled or when f returns an error.
func RunWithTicker(ctx context.Context, clk clock.Clock, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	t := clk.Timer(interval.Next())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-t.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
			t.Reset(interval.Next())
		}
	}
}
