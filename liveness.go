package rudp

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"
)

// livenessLoop is component F: fires every PingInterval, trips the
// session if no PONG has arrived in LivenessTimeout, and probes the
// peer with a PING on every tick. Grounded on
// original_source/include/timer.h's callback-on-timeout Timeout
// helper, translated to Go's time.Ticker idiom the way session.go's
// readWorker uses a time.Timer for its own read timeout.
func (e *Endpoint) livenessLoop(ctx context.Context) error {
	dlog.Debug(ctx, "rudp: liveness: starting")
	defer dlog.Debug(ctx, "rudp: liveness: stopped")

	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	lastPong := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if e.ponged.CompareAndSwap(true, false) {
				lastPong = now
			} else if now.Sub(lastPong) > LivenessTimeout {
				dlog.Warnf(ctx, "rudp: liveness: no PONG in %s, tripping disconnect", LivenessTimeout)
				e.tripDisconnect(ctx)
				return nil
			}
			e.queuePing()
		}
	}
}

// tripDisconnect is the liveness timeout's shutdown path: spec §4.F
// says it sets connected=false and releases any blocked receivers.
// Observationally, a caller in Send/Receive cannot tell this apart
// from a destructor-initiated Close (spec §4.F's failure semantics),
// so it reuses Close's teardown rather than duplicating it. Close runs
// in its own goroutine since livenessLoop is itself one of the tasks
// Close's group.Wait() joins; calling Close synchronously here would
// deadlock waiting on its own completion.
func (e *Endpoint) tripDisconnect(ctx context.Context) {
	go func() {
		if err := e.Close(); err != nil {
			dlog.Warnf(ctx, "rudp: liveness: error during trip-triggered close: %v", err)
		}
	}()
}
