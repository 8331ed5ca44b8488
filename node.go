package xflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	DefaultMailboxSize = 1024
	DefaultStopTimeout = 5 * time.Second
	DefaultActiveWait  = 10 * time.Millisecond
	DefaultIdleWait    = 250 * time.Millisecond
	DefaultIdleAfter   = time.Second
)

// Node is the runtime actor wrapping one Handler: a bounded mailbox, a
// dedicated worker goroutine and a Stopped/Running lifecycle.
type Node struct {
	id  string
	nm  string
	typ string

	handler Handler
	input   InputFunc

	logger *xlog.Logger
	clock  xclock.Clock
	routes *Routes

	middlewares []Middleware
	stopTimeout time.Duration
	activeWait  time.Duration
	idleWait    time.Duration
	idleAfter   time.Duration

	enabled       atomic.Bool
	inputs        atomic.Int32
	outputs       atomic.Int32
	dropWhileBusy atomic.Bool

	confMu sync.Mutex // serialises Configure
	cfgMu  sync.RWMutex
	cfg    Config

	mailbox    chan delivery
	pending    atomic.Int64 // queued + in flight
	processing atomic.Bool
	idle       atomic.Bool

	lifeMu sync.Mutex
	state  atomic.Int32
	stopCh chan struct{}
	done   chan struct{}
	runCtx context.Context
	cancel context.CancelFunc

	sinkMu sync.RWMutex
	sink   ErrorSink

	metrics nodeMetrics
}

type nodeMetrics struct {
	received     atomic.Uint64
	processed    atomic.Uint64
	failed       atomic.Uint64
	dropped      atomic.Uint64
	overflowed   atomic.Uint64
	bypassed     atomic.Uint64
	processingNs atomic.Int64
}

type delivery struct {
	env  *Envelope
	port int
}

// NodeOption configures a Node at construction.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	inputs      int
	outputs     int
	mailboxSize int
	stopTimeout time.Duration
	activeWait  time.Duration
	idleWait    time.Duration
	idleAfter   time.Duration
	logger      *xlog.Logger
	clock       xclock.Clock
	middlewares []Middleware
	cfg         Config
	sink        ErrorSink
	disabled    bool
}

// WithInputs sets the input arity (default 1).
func WithInputs(n int) NodeOption {
	return func(o *nodeOptions) { o.inputs = n }
}

// WithOutputs sets the output arity (default 1). Zero marks a sink.
func WithOutputs(n int) NodeOption {
	return func(o *nodeOptions) { o.outputs = n }
}

// WithMailboxSize sets the fixed mailbox capacity.
func WithMailboxSize(n int) NodeOption {
	return func(o *nodeOptions) {
		if n > 0 {
			o.mailboxSize = n
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the worker.
func WithStopTimeout(d time.Duration) NodeOption {
	return func(o *nodeOptions) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithAdaptiveWait tunes the worker's mailbox wait: active while traffic is
// recent, idle once nothing arrived for idleAfter.
func WithAdaptiveWait(active, idle, idleAfter time.Duration) NodeOption {
	return func(o *nodeOptions) {
		if active > 0 {
			o.activeWait = active
		}
		if idle > 0 {
			o.idleWait = idle
		}
		if idleAfter > 0 {
			o.idleAfter = idleAfter
		}
	}
}

// WithNodeLogger injects a custom xlog logger.
func WithNodeLogger(l *xlog.Logger) NodeOption {
	return func(o *nodeOptions) { o.logger = l }
}

// WithNodeClock injects a custom xclock clock.
func WithNodeClock(c xclock.Clock) NodeOption {
	return func(o *nodeOptions) { o.clock = c }
}

// WithNodeMiddleware adds input middlewares.
func WithNodeMiddleware(mw ...Middleware) NodeOption {
	return func(o *nodeOptions) { o.middlewares = append(o.middlewares, mw...) }
}

// WithConfig sets the initial configuration.
func WithConfig(cfg Config) NodeOption {
	return func(o *nodeOptions) { o.cfg = o.cfg.Merge(cfg) }
}

// WithErrorSink sets the error sink up front.
func WithErrorSink(s ErrorSink) NodeOption {
	return func(o *nodeOptions) { o.sink = s }
}

// WithDisabled creates the node disabled.
func WithDisabled() NodeOption {
	return func(o *nodeOptions) { o.disabled = true }
}

// NewNode builds a stopped node around h. A nil handler passes every
// input through to output 0.
func NewNode(id, name, typ string, h Handler, opts ...NodeOption) (*Node, error) {
	o := nodeOptions{
		inputs:      1,
		outputs:     1,
		mailboxSize: DefaultMailboxSize,
		stopTimeout: DefaultStopTimeout,
		activeWait:  DefaultActiveWait,
		idleWait:    DefaultIdleWait,
		idleAfter:   DefaultIdleAfter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if h == nil {
		h = PassThrough()
	}
	if o.clock == nil {
		o.clock = xclock.Default()
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}

	n := &Node{
		id:          id,
		nm:          name,
		typ:         typ,
		handler:     h,
		clock:       o.clock,
		routes:      newRoutes(),
		middlewares: o.middlewares,
		stopTimeout: o.stopTimeout,
		activeWait:  o.activeWait,
		idleWait:    o.idleWait,
		idleAfter:   o.idleAfter,
		cfg:         Config{},
		mailbox:     make(chan delivery, o.mailboxSize),
		sink:        o.sink,
	}
	n.logger = o.logger.With(
		xlog.Str("node_id", id),
		xlog.Str("node_name", name),
		xlog.Str("node_type", typ),
	)
	n.input = RecoveryMiddleware()(Chain(h.OnInput, o.middlewares...))
	n.enabled.Store(!o.disabled)
	n.inputs.Store(int32(o.inputs))
	n.outputs.Store(int32(o.outputs))

	if err := n.Configure(o.cfg); err != nil {
		return nil, fmt.Errorf("xflow: configure %s: %w", id, err)
	}
	return n, nil
}

func (n *Node) ID() string           { return n.id }
func (n *Node) Name() string         { return n.nm }
func (n *Node) Type() string         { return n.typ }
func (n *Node) Handler() Handler     { return n.handler }
func (n *Node) Logger() *xlog.Logger { return n.logger }
func (n *Node) Clock() xclock.Clock  { return n.clock }
func (n *Node) Routes() *Routes      { return n.routes }

func (n *Node) Enabled() bool     { return n.enabled.Load() }
func (n *Node) SetEnabled(v bool) { n.enabled.Store(v) }

func (n *Node) Inputs() int      { return int(n.inputs.Load()) }
func (n *Node) Outputs() int     { return int(n.outputs.Load()) }
func (n *Node) SetInputs(c int)  { n.inputs.Store(int32(c)) }
func (n *Node) SetOutputs(c int) { n.outputs.Store(int32(c)) }

func (n *Node) State() State        { return State(n.state.Load()) }
func (n *Node) Processing() bool    { return n.processing.Load() }
func (n *Node) DropCount() uint64   { return n.metrics.dropped.Load() }
func (n *Node) DropWhileBusy() bool { return n.dropWhileBusy.Load() }
func (n *Node) QueueLen() int       { return len(n.mailbox) }

// Busy reports whether the node is processing or has queued work.
func (n *Node) Busy() bool {
	return n.processing.Load() || n.pending.Load() > 0
}

// Config returns a copy of the current configuration.
func (n *Node) Config() Config {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.cfg.Clone()
}

// Configure merges cfg into the node config, re-derives drop-while-busy
// and runs the handler's OnConfigure hook, all before returning.
func (n *Node) Configure(cfg Config) error {
	n.confMu.Lock()
	defer n.confMu.Unlock()

	n.cfgMu.Lock()
	n.cfg = n.cfg.Merge(cfg)
	n.dropWhileBusy.Store(n.cfg.Bool(KeyDropWhileBusy, false))
	snapshot := n.cfg.Clone()
	n.cfgMu.Unlock()

	if c, ok := n.handler.(Configurer); ok {
		return c.OnConfigure(n, snapshot)
	}
	return nil
}

// Connect appends a route from output to target's input.
func (n *Node) Connect(output int, target *Node, input int) {
	n.routes.Connect(output, target, input)
}

// Disconnect removes every route from output to target.
func (n *Node) Disconnect(target *Node, output int) {
	n.routes.Disconnect(target, output)
}

// SetErrorSink wires the node to its host's error broadcaster.
func (n *Node) SetErrorSink(s ErrorSink) {
	n.sinkMu.Lock()
	n.sink = s
	n.sinkMu.Unlock()
}

// NewEnvelope creates an envelope stamped with the node clock.
func (n *Node) NewEnvelope(payload any, opts ...EnvelopeOption) *Envelope {
	opts = append([]EnvelopeOption{WithCreatedAt(n.clock.Now())}, opts...)
	return NewEnvelope(payload, opts...)
}

// Start runs the handler's OnStart hook and then spawns the worker. If the
// hook fails no worker is spawned, queued deliveries are kept and the error
// returned. Start fails with ErrWorkerRunning while a worker left behind by
// a timed-out Stop is still processing.
func (n *Node) Start(ctx context.Context) error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()

	if n.State() == Running {
		return nil
	}
	// a worker abandoned by a timed-out Stop must exit before another starts
	if n.done != nil {
		select {
		case <-n.done:
		default:
			return fmt.Errorf("%w: %s", ErrWorkerRunning, n.id)
		}
	}

	runCtx, cancel := nodeContext(ctx, n)
	if s, ok := n.handler.(Starter); ok {
		if err := callHook(func() error { return s.OnStart(runCtx, n) }); err != nil {
			cancel()
			n.reportError(err, nil)
			return fmt.Errorf("xflow: start %s: %w", n.id, err)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	n.runCtx, n.cancel = runCtx, cancel
	n.stopCh, n.done = stop, done
	n.idle.Store(false)
	n.state.Store(int32(Running))

	go n.run(runCtx, stop, done)

	n.logger.Debug().Msg("node started")
	return nil
}

// Stop runs the OnStop hook, signals the worker and waits for it up to the
// stop timeout. A worker stuck in OnInput is left behind and ErrStopTimeout
// returned; the node is Stopped either way.
func (n *Node) Stop(ctx context.Context) error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()

	if n.State() == Stopped {
		return nil
	}

	var hookErr error
	if s, ok := n.handler.(Stopper); ok {
		if err := callHook(func() error { return s.OnStop(n.runCtx, n) }); err != nil {
			hookErr = fmt.Errorf("xflow: stop %s: %w", n.id, err)
			n.reportError(err, nil)
		}
	}

	err := n.stopWorkerLocked(ctx)
	if err == nil {
		n.logger.Debug().Msg("node stopped")
	}
	return errors.Join(hookErr, err)
}

func (n *Node) stopWorkerLocked(ctx context.Context) error {
	close(n.stopCh)

	timer := time.NewTimer(n.stopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-n.done:
		n.discardMailbox()
	case <-timer.C:
		err = fmt.Errorf("%w: %s after %s", ErrStopTimeout, n.id, n.stopTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("%w: %s: %w", ErrStopTimeout, n.id, ctx.Err())
	}

	n.cancel()
	n.state.Store(int32(Stopped))

	if err != nil {
		n.logger.Warn().Err(err).Msg("worker did not exit in time")
		n.reportError(err, nil)
	}
	return err
}

// discardMailbox drops entries left after a clean stop. There is no replay
// on restart.
func (n *Node) discardMailbox() {
	for {
		select {
		case <-n.mailbox:
			n.pending.Add(-1)
		default:
			return
		}
	}
}

// ReportError forwards err to the error sink. Never panics; without a sink
// the error is only logged.
func (n *Node) ReportError(err error) {
	n.reportError(err, nil)
}

func (n *Node) reportError(err error, env *Envelope) {
	if err == nil {
		return
	}
	n.sinkMu.RLock()
	sink := n.sink
	n.sinkMu.RUnlock()
	if sink == nil {
		n.logger.Debug().Err(err).Msg("error discarded, no sink")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn().Str("panic", fmt.Sprint(r)).Msg("error sink panic (recovered)")
		}
	}()
	sink.BroadcastError(ErrorReport{
		NodeID:   n.id,
		NodeName: n.nm,
		NodeType: n.typ,
		Message:  err.Error(),
		Err:      err,
		Envelope: env,
		At:       n.clock.Now(),
	})
}

// Stats returns a snapshot of the node counters.
func (n *Node) Stats() NodeStats {
	return NodeStats{
		ID:              n.id,
		Name:            n.nm,
		Type:            n.typ,
		State:           n.State(),
		Enabled:         n.Enabled(),
		Processing:      n.processing.Load(),
		Idle:            n.idle.Load(),
		Queued:          len(n.mailbox),
		Capacity:        cap(n.mailbox),
		Received:        n.metrics.received.Load(),
		Processed:       n.metrics.processed.Load(),
		Failed:          n.metrics.failed.Load(),
		Dropped:         n.metrics.dropped.Load(),
		Overflowed:      n.metrics.overflowed.Load(),
		Bypassed:        n.metrics.bypassed.Load(),
		AvgProcessingMs: float64(n.metrics.processingNs.Load()) / 1e6,
	}
}

// recordProcessingTime records processing time using exponential moving average.
func (n *Node) recordProcessingTime(ns int64) {
	const alpha = 0.2
	current := n.metrics.processingNs.Load()
	if current == 0 {
		n.metrics.processingNs.Store(ns)
		return
	}
	n.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

// callHook runs a lifecycle hook, converting a panic into an error.
func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return fn()
}
