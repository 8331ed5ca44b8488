package xflow

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// GraphBuilder constructs Graph instances (Builder pattern).
type GraphBuilder struct {
	logger      *xlog.Logger
	clock       xclock.Clock
	middlewares []Middleware
	listeners   []ErrorListener
	mailboxSize int
	stopTimeout time.Duration
	poolWorkers int
	poolBuffer  int
	noLogging   bool
}

// NewGraphBuilder returns a new builder with sensible defaults.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		mailboxSize: DefaultMailboxSize,
		stopTimeout: DefaultStopTimeout,
		poolWorkers: 4,
		poolBuffer:  1024,
	}
}

func (gb *GraphBuilder) WithLogger(l *xlog.Logger) *GraphBuilder {
	gb.logger = l
	return gb
}

func (gb *GraphBuilder) WithClock(c xclock.Clock) *GraphBuilder {
	gb.clock = c
	return gb
}

// WithMiddleware adds input middlewares applied to every node built by
// Graph.Create.
func (gb *GraphBuilder) WithMiddleware(mw ...Middleware) *GraphBuilder {
	if len(mw) == 0 {
		return gb
	}
	gb.middlewares = append(gb.middlewares, mw...)
	return gb
}

func (gb *GraphBuilder) WithListener(l ...ErrorListener) *GraphBuilder {
	for _, o := range l {
		if o != nil {
			gb.listeners = append(gb.listeners, o)
		}
	}
	return gb
}

func (gb *GraphBuilder) WithMailboxSize(n int) *GraphBuilder {
	if n > 0 {
		gb.mailboxSize = n
	}
	return gb
}

func (gb *GraphBuilder) WithStopTimeout(d time.Duration) *GraphBuilder {
	if d > 0 {
		gb.stopTimeout = d
	}
	return gb
}

// WithErrorPool sizes the asynchronous error dispatch pool.
func (gb *GraphBuilder) WithErrorPool(workers, bufferSize int) *GraphBuilder {
	gb.poolWorkers = workers
	gb.poolBuffer = bufferSize
	return gb
}

// WithoutErrorLogging skips the default LoggingListener.
func (gb *GraphBuilder) WithoutErrorLogging() *GraphBuilder {
	gb.noLogging = true
	return gb
}

func (gb *GraphBuilder) Build() (*Graph, error) {
	clk := gb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := gb.logger
	if lg == nil {
		// Default to xlog default logger; Adapter pattern to platform logging.
		lg = xlog.Default()
	}

	g := &Graph{
		logger:      lg,
		clock:       clk,
		middlewares: gb.middlewares,
		mailboxSize: gb.mailboxSize,
		stopTimeout: gb.stopTimeout,
		nodes:       make(map[string]*Node),
		pool:        NewDispatchPool(context.Background(), gb.poolWorkers, gb.poolBuffer, lg),
	}

	// Attach logging listener first for dependable telemetry unless already supplied externally.
	hasLogging := gb.noLogging
	for _, l := range gb.listeners {
		if _, ok := l.(LoggingListener); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging {
		g.AddListener(LoggingListener{Logger: lg})
	}
	for _, l := range gb.listeners {
		g.AddListener(l)
	}

	return g, nil
}

// New constructs a Graph via Builder and returns a close func for convenience.
func New(init func(b *GraphBuilder)) (*Graph, func() error, error) {
	b := NewGraphBuilder()
	if init != nil {
		init(b)
	}
	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return g.Close(context.Background()) }
	return g, closeFn, nil
}
