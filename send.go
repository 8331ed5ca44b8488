package xflow

import (
	"context"
	"fmt"
)

// Send publishes env on one of the node's output ports. Every enabled
// recipient gets its own stamped deep copy. Send never blocks on
// downstream speed: busy targets with drop-while-busy are skipped and
// counted on the sender, full mailboxes are reported on the target, and so
// are envelopes that cannot be deep copied.
//
// Sinks (zero outputs) implementing DirectProcessor are invoked
// synchronously on the caller's goroutine instead of being queued.
func (n *Node) Send(ctx context.Context, env *Envelope, output int) {
	if env == nil || !n.Enabled() {
		return
	}
	routes := n.routes.Targets(output)
	if len(routes) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, rt := range routes {
		t := rt.Target
		if t == nil || !t.Enabled() {
			continue
		}

		dp, direct := t.handler.(DirectProcessor)
		direct = direct && t.Outputs() == 0

		if !direct && t.DropWhileBusy() && t.Busy() {
			n.metrics.dropped.Add(1)
			continue
		}

		out, err := n.prepare(env)
		if err != nil {
			// reported without the envelope so catch nodes cannot re-emit it
			err = fmt.Errorf("%s from %s: %w", env.ID, n.id, err)
			t.logger.Warn().Err(err).Msg("envelope not delivered")
			t.reportError(err, nil)
			continue
		}

		if direct {
			t.bypass(ctx, dp, out, rt.Input)
			continue
		}
		t.deliver(out, rt.Input)
	}
}

// prepare produces the per-recipient copy.
func (n *Node) prepare(env *Envelope) (*Envelope, error) {
	out, err := env.Stamp(n.clock.Now()).Clone()
	if err != nil {
		return nil, err
	}
	out.SenderDropCount = n.metrics.dropped.Load()
	return out, nil
}

// deliver attempts a non-blocking enqueue. On overflow the message is
// dropped and the error reported through this (the target) node.
func (n *Node) deliver(env *Envelope, port int) bool {
	n.pending.Add(1)
	select {
	case n.mailbox <- delivery{env: env, port: port}:
		n.metrics.received.Add(1)
		return true
	default:
		n.pending.Add(-1)
		n.metrics.overflowed.Add(1)
		err := fmt.Errorf("%w: %s (capacity %d)", ErrQueueOverflow, n.id, cap(n.mailbox))
		n.logger.Warn().Err(err).Str("message_id", env.ID).Msg("mailbox overflow")
		n.reportError(err, env)
		return false
	}
}

func (n *Node) bypass(ctx context.Context, dp DirectProcessor, env *Envelope, port int) {
	n.metrics.bypassed.Add(1)
	err := callHook(func() error { return dp.DirectProcess(ctx, n, env, port) })
	if err != nil {
		n.metrics.failed.Add(1)
		n.reportError(err, env)
		return
	}
	n.metrics.processed.Add(1)
}
