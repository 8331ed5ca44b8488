package xflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ ErrorSink = (*Graph)(nil)
var _ HealthChecker = (*Graph)(nil)

// Graph hosts a set of nodes: it wires routes, drives the lifecycle of
// every node and acts as their error broadcaster.
type Graph struct {
	logger      *xlog.Logger
	clock       xclock.Clock
	middlewares []Middleware
	mailboxSize int
	stopTimeout time.Duration
	pool        *DispatchPool

	mu    sync.RWMutex
	nodes map[string]*Node
	order []string

	listenersMu sync.RWMutex
	listeners   []ErrorListener

	errorCount atomic.Uint64
	closed     atomic.Bool
	closeOnce  sync.Once
}

// Logger returns the graph logger.
func (g *Graph) Logger() *xlog.Logger { return g.logger }

// Add registers n and makes the graph its error sink.
func (g *Graph) Add(n *Node) error {
	if g.closed.Load() {
		return ErrGraphClosed
	}
	if n == nil {
		return errors.New("xflow: nil node")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID())
	}
	g.nodes[n.ID()] = n
	g.order = append(g.order, n.ID())
	n.SetErrorSink(g)
	return nil
}

// Create builds a node of a registered type with the graph defaults and
// adds it.
func (g *Graph) Create(typ, id, name string, cfg Config) (*Node, error) {
	h, extra, err := NewHandler(typ, cfg)
	if err != nil {
		return nil, err
	}
	opts := []NodeOption{
		WithNodeLogger(g.logger),
		WithNodeClock(g.clock),
		WithMailboxSize(g.mailboxSize),
		WithStopTimeout(g.stopTimeout),
		WithNodeMiddleware(g.middlewares...),
		WithErrorSink(g),
	}
	opts = append(opts, extra...)
	opts = append(opts, WithConfig(cfg))

	n, err := NewNode(id, name, typ, h, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// Node looks a node up by id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Connect routes srcID's output to dstID's input.
func (g *Graph) Connect(srcID string, output int, dstID string, input int) error {
	src, dst, err := g.pair(srcID, dstID)
	if err != nil {
		return err
	}
	src.Connect(output, dst, input)
	return nil
}

// Disconnect removes every route from srcID's output to dstID.
func (g *Graph) Disconnect(srcID string, output int, dstID string) error {
	src, dst, err := g.pair(srcID, dstID)
	if err != nil {
		return err
	}
	src.Disconnect(dst, output)
	return nil
}

func (g *Graph) pair(srcID, dstID string) (*Node, *Node, error) {
	src, ok := g.Node(srcID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, srcID)
	}
	dst, ok := g.Node(dstID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownNode, dstID)
	}
	return src, dst, nil
}

// Remove stops the node, drops every route pointing at it and forgets it.
func (g *Graph) Remove(ctx context.Context, id string) error {
	n, ok := g.Node(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	stopErr := n.Stop(ctx)

	g.mu.Lock()
	delete(g.nodes, id)
	for i, oid := range g.order {
		if oid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	others := make([]*Node, 0, len(g.nodes))
	for _, o := range g.nodes {
		others = append(others, o)
	}
	g.mu.Unlock()

	for _, o := range others {
		o.Routes().DisconnectAll(n)
	}
	n.SetErrorSink(nil)
	return stopErr
}

// Start starts every node in insertion order. Failures do not prevent the
// remaining nodes from starting.
func (g *Graph) Start(ctx context.Context) error {
	if g.closed.Load() {
		return ErrGraphClosed
	}
	var errs []error
	for _, n := range g.Nodes() {
		if err := n.Start(ctx); err != nil {
			g.logger.Error().Err(err).Str("node_id", n.ID()).Msg("xflow: node start failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every node in reverse insertion order.
func (g *Graph) Stop(ctx context.Context) error {
	nodes := g.Nodes()
	var errs []error
	for i := len(nodes) - 1; i >= 0; i-- {
		if err := nodes[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops all nodes and drains the error dispatch pool.
// Idempotent.
func (g *Graph) Close(ctx context.Context) error {
	var closeErr error

	g.closeOnce.Do(func() {
		stopErr := g.Stop(ctx)
		g.closed.Store(true)

		var poolErr error
		if g.pool != nil {
			if poolErr = g.pool.Close(5 * time.Second); poolErr != nil {
				g.logger.Warn().Err(poolErr).Msg("xflow: error dispatch pool shutdown timeout")
			}
		}
		closeErr = errors.Join(stopErr, poolErr)
	})

	return closeErr
}

// BroadcastError fans r out to every registered listener and every
// running error-listener node. Never blocks the reporting node.
func (g *Graph) BroadcastError(r ErrorReport) {
	if g.closed.Load() || g.pool == nil {
		return
	}
	g.errorCount.Add(1)

	g.listenersMu.RLock()
	listeners := make([]ErrorListener, len(g.listeners), len(g.listeners)+4)
	copy(listeners, g.listeners)
	g.listenersMu.RUnlock()

	for _, n := range g.Nodes() {
		if h, ok := n.Handler().(NodeErrorListener); ok {
			listeners = append(listeners, nodeListener{node: n, h: h})
		}
	}

	g.pool.Notify(r, listeners)
}

// AddListener registers an error listener (thread-safe).
func (g *Graph) AddListener(l ErrorListener) {
	if l == nil {
		return
	}
	g.listenersMu.Lock()
	g.listeners = append(g.listeners, l)
	g.listenersMu.Unlock()
}

// RemoveListener removes a listener. Non-comparable listeners (funcs)
// cannot be removed.
func (g *Graph) RemoveListener(l ErrorListener) {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()

	for i, o := range g.listeners {
		if reflect.TypeOf(o).Comparable() && o == l {
			g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
			break
		}
	}
}

// Metrics returns aggregate graph telemetry.
func (g *Graph) Metrics() Metrics {
	m := Metrics{Errors: g.errorCount.Load()}
	if g.pool != nil {
		m.ErrorsDropped = g.pool.Stats().Dropped
	}
	var sumMs float64
	for _, n := range g.Nodes() {
		s := n.Stats()
		m.Nodes++
		if s.State == Running {
			m.Running++
		}
		m.Received += s.Received
		m.Processed += s.Processed
		m.Failed += s.Failed
		m.Dropped += s.Dropped
		m.Overflowed += s.Overflowed
		m.Bypassed += s.Bypassed
		sumMs += s.AvgProcessingMs
	}
	if m.Nodes > 0 {
		m.AvgProcessingTimeMs = sumMs / float64(m.Nodes)
	}
	return m
}

// Health checks graph health for Kubernetes probes.
func (g *Graph) Health(_ context.Context) HealthStatus {
	if g.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: g.clock.Now(),
			Message:   "graph is closed",
		}
	}

	metrics := g.Metrics()
	status := "healthy"
	msg := ""

	// Degraded if failure rate > 5%
	handled := metrics.Processed + metrics.Failed
	if metrics.Failed > 0 && handled > 0 {
		if float64(metrics.Failed)/float64(handled) > 0.05 {
			status = "degraded"
			msg = "handler failure rate above 5%"
		}
	}
	if metrics.Overflowed > 0 && status == "healthy" {
		status = "degraded"
		msg = "mailbox overflow observed"
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: g.clock.Now(),
		Message:   msg,
	}
}
