package xflow

import (
	"context"
	"time"
)

// run is the per-node worker. It waits on the mailbox with an adaptive
// timeout and exits once stop is closed and no message is in flight.
func (n *Node) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	wait := n.activeWait
	lastActive := n.clock.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		// stop wins over a ready mailbox
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case d := <-n.mailbox:
			n.idle.Store(false)
			n.process(ctx, d)
			lastActive = n.clock.Now()
			wait = n.activeWait
		case <-timer.C:
			if n.clock.Since(lastActive) >= n.idleAfter {
				wait = n.idleWait
				n.idle.Store(true)
			}
		}
		timer.Reset(wait)
	}
}

// process runs one mailbox entry: Queued -> Processing -> Completed|Failed.
// Failures are reported, never retried.
func (n *Node) process(ctx context.Context, d delivery) {
	n.processing.Store(true)
	start := n.clock.Now()

	err := n.input(ctx, n, d.env, d.port)

	n.recordProcessingTime(n.clock.Since(start).Nanoseconds())
	if err != nil {
		n.metrics.failed.Add(1)
		n.logger.Warn().Err(err).Str("message_id", d.env.ID).Msg("input failed")
		n.reportError(err, d.env)
	} else {
		n.metrics.processed.Add(1)
	}

	n.processing.Store(false)
	n.pending.Add(-1)
}
