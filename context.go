package xflow

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type ctxKey int

const (
	nodeCtxKey ctxKey = iota
	loggerCtxKey
	clockCtxKey
)

// nodeContext derives the context a node's worker and hooks run under. It
// outlives the caller of Start and is cancelled by Stop.
func nodeContext(parent context.Context, n *Node) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	ctx = context.WithValue(ctx, nodeCtxKey, n)
	ctx = context.WithValue(ctx, loggerCtxKey, n.logger)
	ctx = context.WithValue(ctx, clockCtxKey, n.clock)
	return context.WithCancel(ctx)
}

// NodeFromContext returns the node whose worker or hook is running.
func NodeFromContext(ctx context.Context) (*Node, bool) {
	n, ok := ctx.Value(nodeCtxKey).(*Node)
	return n, ok && n != nil
}

// LoggerFromContext returns the node-scoped logger, or xlog.Default()
// outside a node.
func LoggerFromContext(ctx context.Context) *xlog.Logger {
	if l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger); ok && l != nil {
		return l
	}
	return xlog.Default()
}

// ClockFromContext returns the node clock, or xclock.Default() outside a
// node.
func ClockFromContext(ctx context.Context) xclock.Clock {
	if c, ok := ctx.Value(clockCtxKey).(xclock.Clock); ok && c != nil {
		return c
	}
	return xclock.Default()
}
