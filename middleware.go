package xflow

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"
)

// RecoveryMiddleware prevents handler panics from killing the worker and
// converts them into errors.
func RecoveryMiddleware() Middleware {
	return func(next InputFunc) InputFunc {
		return func(ctx context.Context, n *Node, env *Envelope, port int) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, n, env, port)
		}
	}
}

// LoggingMiddleware logs every input at debug level with its duration.
func LoggingMiddleware(l *xlog.Logger) Middleware {
	return func(next InputFunc) InputFunc {
		return func(ctx context.Context, n *Node, env *Envelope, port int) error {
			lg := l
			if lg == nil {
				lg = n.Logger()
			}
			start := n.Clock().Now()
			lg.Debug().
				Str("node_id", n.ID()).
				Str("message_id", env.ID).
				Msg("input start")

			err := next(ctx, n, env, port)

			lg.Debug().
				Str("node_id", n.ID()).
				Str("message_id", env.ID).
				Dur("dur", n.Clock().Since(start)).
				Err(err).
				Msg("input done")
			return err
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h InputFunc, mws ...Middleware) InputFunc {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
