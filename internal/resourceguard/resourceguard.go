// Package resourceguard blocks worker tasks until free memory clears a
// threshold, protecting the OS from the out-of-memory conditions heavy
// parse/summarize/index workloads can trigger.
package resourceguard

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// thresholdBytes is the minimum free memory a document may start
	// processing under (2 GiB).
	thresholdBytes = 2 * 1024 * 1024 * 1024

	// totalWait is the grace deadline before the guard gives up and
	// reports an in-band error rather than blocking forever.
	totalWait = 600 * time.Second
)

// Guard polls available system memory and blocks task dispatch until it
// clears thresholdBytes, or totalWait elapses.
type Guard struct {
	// ThresholdBytes overrides the default 2 GiB threshold; zero means
	// use the default.
	ThresholdBytes uint64

	// TotalWait overrides the default 600s grace deadline; zero means use
	// the default.
	TotalWait time.Duration

	// now and sleep are overridden in tests to avoid a real clock.
	now   func() time.Time
	sleep func(time.Duration)

	// availableMemory is overridden in tests; defaults to
	// mem.VirtualMemory().Available.
	availableMemory func() (uint64, error)
}

// Wait blocks until free memory exceeds the threshold. When totalWait
// elapses first it returns an error with the message
// "OOM Protection: Timeout waiting for memory" — the exact text the fault
// supervisor and stage machine surface as an in-band stage error rather
// than a worker crash. It also returns an error when memory stats cannot be
// read, and ctx's error when ctx is cancelled while memory is still short.
func (g *Guard) Wait(ctx context.Context) error {
	threshold := g.ThresholdBytes
	if threshold == 0 {
		threshold = thresholdBytes
	}
	deadline := g.TotalWait
	if deadline == 0 {
		deadline = totalWait
	}

	nowFn := g.now
	if nowFn == nil {
		nowFn = time.Now
	}
	sleepFn := g.sleep
	if sleepFn == nil {
		sleepFn = sleepWithContext(ctx)
	}
	availFn := g.availableMemory
	if availFn == nil {
		availFn = defaultAvailableMemory
	}

	start := nowFn()
	for {
		available, err := availFn()
		if err != nil {
			return fmt.Errorf("resourceguard.Wait: read memory stats: %w", err)
		}
		if available > threshold {
			return nil
		}

		if nowFn().Sub(start) > deadline {
			return fmt.Errorf("OOM Protection: Timeout waiting for memory")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sleepFn(jitteredInterval())
	}
}

// jitteredInterval returns a random duration in [5, 15] seconds, matching
// the source's random.uniform(5, 15) retry backoff.
func jitteredInterval() time.Duration {
	seconds := 5 + rand.Float64()*10
	return time.Duration(seconds * float64(time.Second))
}

func sleepWithContext(ctx context.Context) func(time.Duration) {
	return func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

func defaultAvailableMemory() (uint64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return stat.Available, nil
}
