package xflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// DispatchPool fans error reports out to listeners asynchronously so a slow
// listener never blocks the node that reported. Non-blocking: reports are
// dropped when the buffer is full.
type DispatchPool struct {
	reportCh  chan *dispatch
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *xlog.Logger
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

type dispatch struct {
	report    ErrorReport
	listeners []ErrorListener
}

// NewDispatchPool creates a pool with the given workers and buffer size.
func NewDispatchPool(ctx context.Context, workers, bufferSize int, logger *xlog.Logger) *DispatchPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = xlog.Default()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	dp := &DispatchPool{
		reportCh: make(chan *dispatch, bufferSize),
		workers:  workers,
		ctx:      poolCtx,
		cancel:   cancel,
		logger:   logger,
	}

	for i := 0; i < workers; i++ {
		dp.wg.Add(1)
		go dp.worker()
	}

	return dp
}

// Notify queues r for the listeners captured at call time.
func (dp *DispatchPool) Notify(r ErrorReport, listeners []ErrorListener) {
	if len(listeners) == 0 || dp.closed.Load() {
		return
	}

	d := &dispatch{report: r, listeners: make([]ErrorListener, len(listeners))}
	copy(d.listeners, listeners)

	select {
	case dp.reportCh <- d:
	default:
		dp.dropped.Add(1)
	}
}

func (dp *DispatchPool) worker() {
	defer dp.wg.Done()
	for {
		select {
		case <-dp.ctx.Done():
			// Drain remaining reports before exiting
			for {
				select {
				case d := <-dp.reportCh:
					if d != nil {
						dp.dispatch(d)
					}
				default:
					return
				}
			}
		case d := <-dp.reportCh:
			if d != nil {
				dp.dispatch(d)
			}
		}
	}
}

// dispatch tolerates listener panics to keep the worker alive.
func (dp *DispatchPool) dispatch(d *dispatch) {
	for _, l := range d.listeners {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					dp.logger.Warn().Str("panic", fmt.Sprint(r)).Msg("xflow: error listener panic (recovered)")
				}
			}()
			l.OnError(d.report)
		}()
	}
	dp.processed.Add(1)
}

// Close stops accepting reports and waits up to timeout for queued ones
// to be dispatched.
func (dp *DispatchPool) Close(timeout time.Duration) error {
	if dp.closed.Swap(true) {
		return nil
	}

	dp.cancel()

	done := make(chan struct{})
	go func() {
		dp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrDispatchPoolClosed
	}
}

// Stats returns current pool statistics.
func (dp *DispatchPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      dp.dropped.Load(),
		Processed:    dp.processed.Load(),
		ActiveEvents: len(dp.reportCh),
		Workers:      dp.workers,
		BufferSize:   cap(dp.reportCh),
	}
}
