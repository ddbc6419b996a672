package checks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// waitUntil sleeps delay, then evaluates cond every interval until it
// returns true or timeout has elapsed since the first evaluation. It
// always evaluates cond at least once.
func waitUntil(ctx context.Context, clock Clock, timeout, interval, delay time.Duration, cond func() bool) bool {
	if delay > 0 {
		clock.Sleep(delay)
	}
	start := clock.Now()
	for {
		if cond() {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		clock.Sleep(interval)
		if clock.Now().Sub(start) >= timeout {
			return false
		}
	}
}

// Memory leak poll defaults.
const (
	LeakCheckDelay    = 10 * time.Second
	LeakCheckTimeout  = 15 * time.Second
	LeakCheckInterval = 5 * time.Second
)

// CheckMemoryLeak polls sample until it reads at or below target. It
// returns true, a leak, when every sample within the bounded poll stayed
// above target. A failed sample counts as above target.
func CheckMemoryLeak(ctx context.Context, clock Clock, log *logrus.Entry, sample func() (float64, error), target float64, delay, timeout, interval time.Duration) bool {
	ok := waitUntil(ctx, clock, timeout, interval, delay, func() bool {
		mem, err := sample()
		if err != nil {
			log.Errorf("Failed to sample memory usage: %v", err)
			return false
		}
		if mem > target {
			log.Errorf("MEM usage exceeds the threshold. current usage: %.2f MB, target usage: %.2f MB", mem, target)
			return false
		}
		log.Infof("MEM usage is in expected range. current usage: %.2f MB, target usage: %.2f MB", mem, target)
		return true
	})
	return !ok
}
