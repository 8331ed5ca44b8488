package xflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, listeners ...ErrorListener) *Graph {
	t.Helper()
	g, err := NewGraphBuilder().
		WithoutErrorLogging().
		WithListener(listeners...).
		WithErrorPool(2, 64).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })
	return g
}

// reportLog is a thread-safe ErrorListener for assertions.
type reportLog struct {
	mu      sync.Mutex
	reports []ErrorReport
}

func (l *reportLog) OnError(r ErrorReport) {
	l.mu.Lock()
	l.reports = append(l.reports, r)
	l.mu.Unlock()
}

func (l *reportLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reports)
}

func (l *reportLog) At(i int) ErrorReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reports[i]
}

func TestGraph_AddDuplicate(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.Add(mustNode(t, "a", nil)))

	err := g.Add(mustNode(t, "a", nil))
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestGraph_CreateUnknownType(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.Create("no-such-type", "x", "x", nil)

	var unknown ErrUnknownNodeType
	require.ErrorAs(t, err, &unknown)
	assert.Contains(t, err.Error(), "no-such-type")
}

func TestGraph_CreateAppliesDefaults(t *testing.T) {
	g, err := NewGraphBuilder().WithoutErrorLogging().WithMailboxSize(8).Build()
	require.NoError(t, err)
	defer g.Close(context.Background())

	n, err := g.Create("passthrough", "p", "relay", Config{KeyDropWhileBusy: true})
	require.NoError(t, err)
	assert.Equal(t, 8, n.Stats().Capacity)
	assert.True(t, n.DropWhileBusy())
	assert.Equal(t, "relay", n.Name())
	assert.Equal(t, "passthrough", n.Type())

	got, ok := g.Node("p")
	require.True(t, ok)
	assert.Same(t, n, got)
}

func TestGraph_ConnectUnknownNode(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.Add(mustNode(t, "a", nil)))

	assert.ErrorIs(t, g.Connect("a", 0, "missing", 0), ErrUnknownNode)
	assert.ErrorIs(t, g.Connect("missing", 0, "a", 0), ErrUnknownNode)
	assert.ErrorIs(t, g.Disconnect("a", 0, "missing"), ErrUnknownNode)
}

type orderHook struct {
	id  string
	log *[]string
	mu  *sync.Mutex
}

func (h orderHook) OnInput(context.Context, *Node, *Envelope, int) error { return nil }

func (h orderHook) OnStart(context.Context, *Node) error {
	h.mu.Lock()
	*h.log = append(*h.log, "start:"+h.id)
	h.mu.Unlock()
	return nil
}

func (h orderHook) OnStop(context.Context, *Node) error {
	h.mu.Lock()
	*h.log = append(*h.log, "stop:"+h.id)
	h.mu.Unlock()
	return nil
}

func TestGraph_StartStopOrder(t *testing.T) {
	g := newTestGraph(t)
	var (
		mu  sync.Mutex
		log []string
	)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.Add(mustNode(t, id, orderHook{id: id, log: &log, mu: &mu})))
	}

	require.NoError(t, g.Start(context.Background()))
	for _, n := range g.Nodes() {
		assert.Equal(t, Running, n.State())
	}
	require.NoError(t, g.Stop(context.Background()))

	assert.Equal(t, []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}, log)
}

func TestGraph_BroadcastToListeners(t *testing.T) {
	log := &reportLog{}
	var fnCalls atomic.Int32
	g := newTestGraph(t, log, ErrorListenerFunc(func(ErrorReport) { fnCalls.Add(1) }))

	failing := mustNode(t, "f", HandlerFunc(func(context.Context, *Node, *Envelope, int) error {
		return errors.New("boom")
	}))
	src := mustNode(t, "src", nil)
	require.NoError(t, g.Add(failing))
	require.NoError(t, g.Add(src))
	require.NoError(t, g.Connect("src", 0, "f", 0))
	require.NoError(t, g.Start(context.Background()))

	src.Send(context.Background(), NewEnvelope(1), 0)

	require.Eventually(t, func() bool { return log.Len() == 1 }, time.Second, 5*time.Millisecond)
	r := log.At(0)
	assert.Equal(t, "f", r.NodeID)
	assert.Equal(t, "boom", r.Message)
	assert.Eventually(t, func() bool { return fnCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), g.Metrics().Errors)
}

// catcher is a node-level error listener.
type catcher struct {
	got chan ErrorReport
}

func (c *catcher) OnInput(context.Context, *Node, *Envelope, int) error { return nil }

func (c *catcher) OnError(_ context.Context, _ *Node, r ErrorReport) { c.got <- r }

func TestGraph_NodeErrorListeners(t *testing.T) {
	g := newTestGraph(t)
	c := &catcher{got: make(chan ErrorReport, 4)}
	catchNode := mustNode(t, "catch", c, WithInputs(0))
	other := mustNode(t, "other", nil)
	require.NoError(t, g.Add(catchNode))
	require.NoError(t, g.Add(other))

	// stopped listeners hear nothing
	nodeListener{node: catchNode, h: c}.OnError(ErrorReport{NodeID: "other", Message: "early"})
	require.Empty(t, c.got)
	require.NoError(t, g.Start(context.Background()))

	// a listener never hears about itself
	catchNode.ReportError(errors.New("self"))
	other.ReportError(errors.New("from other"))

	select {
	case r := <-c.got:
		assert.Equal(t, "other", r.NodeID)
		assert.Equal(t, "from other", r.Message)
	case <-time.After(time.Second):
		t.Fatal("catch node not notified")
	}
	select {
	case r := <-c.got:
		t.Fatalf("unexpected report %q", r.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGraph_RemoveDropsRoutes(t *testing.T) {
	g := newTestGraph(t)
	a := mustNode(t, "a", nil)
	b := mustNode(t, "b", nil)
	require.NoError(t, g.Add(a))
	require.NoError(t, g.Add(b))
	require.NoError(t, g.Connect("a", 0, "b", 0))
	require.NoError(t, g.Start(context.Background()))

	require.NoError(t, g.Remove(context.Background(), "b"))

	_, ok := g.Node("b")
	assert.False(t, ok)
	assert.Equal(t, Stopped, b.State())
	assert.Zero(t, a.Routes().Len())
	assert.Len(t, g.Nodes(), 1)
	assert.ErrorIs(t, g.Remove(context.Background(), "b"), ErrUnknownNode)
}

func TestGraph_RemoveListener(t *testing.T) {
	log := &reportLog{}
	g := newTestGraph(t, log)
	g.RemoveListener(log)
	// func listeners are not comparable and are ignored
	assert.NotPanics(t, func() { g.RemoveListener(ErrorListenerFunc(func(ErrorReport) {})) })

	g.BroadcastError(ErrorReport{NodeID: "x"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, log.Len())
}

func TestGraph_MetricsAndHealth(t *testing.T) {
	g := newTestGraph(t)
	ok := mustNode(t, "ok", nil, WithOutputs(0))
	bad := mustNode(t, "bad", HandlerFunc(func(context.Context, *Node, *Envelope, int) error {
		return errors.New("nope")
	}))
	src := mustNode(t, "src", nil)
	require.NoError(t, g.Add(src))
	require.NoError(t, g.Add(ok))
	require.NoError(t, g.Add(bad))
	require.NoError(t, g.Connect("src", 0, "ok", 0))
	require.NoError(t, g.Connect("src", 0, "bad", 0))
	require.NoError(t, g.Start(context.Background()))

	assert.Equal(t, "healthy", g.Health(context.Background()).Status)

	src.Send(context.Background(), NewEnvelope(1), 0)
	require.Eventually(t, func() bool {
		m := g.Metrics()
		return m.Processed == 1 && m.Failed == 1
	}, time.Second, 5*time.Millisecond)

	m := g.Metrics()
	assert.Equal(t, 3, m.Nodes)
	assert.Equal(t, 3, m.Running)
	assert.Equal(t, uint64(2), m.Received)

	h := g.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.NotEmpty(t, h.Message)
}

func TestGraph_Close(t *testing.T) {
	g, closeFn, err := New(func(b *GraphBuilder) { b.WithoutErrorLogging() })
	require.NoError(t, err)
	n := mustNode(t, "a", nil)
	require.NoError(t, g.Add(n))
	require.NoError(t, g.Start(context.Background()))

	require.NoError(t, closeFn())
	require.NoError(t, closeFn())

	assert.Equal(t, Stopped, n.State())
	assert.ErrorIs(t, g.Add(mustNode(t, "b", nil)), ErrGraphClosed)
	assert.ErrorIs(t, g.Start(context.Background()), ErrGraphClosed)
	assert.Equal(t, "unhealthy", g.Health(context.Background()).Status)
	assert.NotPanics(t, func() { g.BroadcastError(ErrorReport{}) })
}

func TestMatchNames(t *testing.T) {
	r := ErrorReport{NodeID: "id-1", NodeName: "Camera"}

	assert.True(t, MatchNames(r, nil))
	assert.True(t, MatchNames(r, []string{"camera"}))
	assert.True(t, MatchNames(r, []string{"other", "id-1"}))
	assert.False(t, MatchNames(r, []string{"ID-1"}))
	assert.False(t, MatchNames(r, []string{"inference"}))
}
