package xflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureSink records every report it receives.
type captureSink struct {
	mu      sync.Mutex
	reports []ErrorReport
}

func (s *captureSink) BroadcastError(r ErrorReport) {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
}

func (s *captureSink) Reports() []ErrorReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ErrorReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// collector is a handler that forwards every envelope to a channel.
type collector struct {
	ch chan *Envelope
}

func newCollector(size int) *collector {
	return &collector{ch: make(chan *Envelope, size)}
}

func (c *collector) OnInput(_ context.Context, _ *Node, env *Envelope, _ int) error {
	c.ch <- env
	return nil
}

// gate blocks every input until released; entered is signalled on each
// input before blocking.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 64), release: make(chan struct{})}
}

func (g *gate) OnInput(ctx context.Context, _ *Node, _ *Envelope, _ int) error {
	g.entered <- struct{}{}
	<-g.release
	return nil
}

func (g *gate) Open() { g.once.Do(func() { close(g.release) }) }

// sinkHandler is a zero-output node with a direct-processing entry point.
type sinkHandler struct {
	mu     sync.Mutex
	direct []*Envelope
	queued []*Envelope
	err    error
}

func (s *sinkHandler) OnInput(_ context.Context, _ *Node, env *Envelope, _ int) error {
	s.mu.Lock()
	s.queued = append(s.queued, env)
	s.mu.Unlock()
	return nil
}

func (s *sinkHandler) DirectProcess(_ context.Context, _ *Node, env *Envelope, _ int) error {
	s.mu.Lock()
	s.direct = append(s.direct, env)
	s.mu.Unlock()
	return s.err
}

func (s *sinkHandler) Direct() []*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Envelope(nil), s.direct...)
}

func mustNode(t testing.TB, id string, h Handler, opts ...NodeOption) *Node {
	t.Helper()
	n, err := NewNode(id, id, "test", h, opts...)
	require.NoError(t, err)
	return n
}

func startNode(t testing.TB, n *Node) {
	t.Helper()
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
}
