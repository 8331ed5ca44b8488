package xflow

import (
	"context"
)

// InputFunc processes one envelope arriving on an input port.
type InputFunc func(ctx context.Context, n *Node, env *Envelope, port int) error

// Middleware composes processing concerns around an InputFunc.
type Middleware func(next InputFunc) InputFunc

// Handler is the logic plugged into a Node. OnInput runs on the node's
// worker, one envelope at a time.
type Handler interface {
	OnInput(ctx context.Context, n *Node, env *Envelope, port int) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, n *Node, env *Envelope, port int) error

func (f HandlerFunc) OnInput(ctx context.Context, n *Node, env *Envelope, port int) error {
	return f(ctx, n, env, port)
}

// Starter is called after the worker is running.
type Starter interface {
	OnStart(ctx context.Context, n *Node) error
}

// Stopper is called before the worker is signalled to exit.
type Stopper interface {
	OnStop(ctx context.Context, n *Node) error
}

// Configurer recomputes derived handler state (port counts, rules) after
// the node config has been merged. It runs synchronously inside Configure.
type Configurer interface {
	OnConfigure(n *Node, cfg Config) error
}

// DirectProcessor marks a sink that may be invoked synchronously on the
// sender's goroutine, bypassing its mailbox. Only consulted when the node
// has zero outputs.
type DirectProcessor interface {
	DirectProcess(ctx context.Context, n *Node, env *Envelope, port int) error
}

// ErrorListener handles reports fanned out by the error broadcaster.
// Implementations should return quickly.
type ErrorListener interface {
	OnError(r ErrorReport)
}

// NodeErrorListener is implemented by handlers that want to receive
// broadcast errors (catch nodes).
type NodeErrorListener interface {
	OnError(ctx context.Context, n *Node, r ErrorReport)
}

// ErrorSink receives node error reports. A Graph is the usual sink.
type ErrorSink interface {
	BroadcastError(r ErrorReport)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// passThrough re-sends every input on output 0.
type passThrough struct{}

func (passThrough) OnInput(ctx context.Context, n *Node, env *Envelope, _ int) error {
	n.Send(ctx, env, 0)
	return nil
}

// PassThrough returns the default handler.
func PassThrough() Handler { return passThrough{} }
