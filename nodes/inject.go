package nodes

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xflow"
)

const TypeInject = "inject"

func init() {
	mustRegister(TypeInject, func(cfg xflow.Config) (xflow.Handler, []xflow.NodeOption, error) {
		return &Inject{}, []xflow.NodeOption{xflow.WithInputs(0), xflow.WithOutputs(1)}, nil
	})
}

// Inject emits its configured payload on output 0: once at start when
// "once" is set, then every "interval" if positive, at most "repeat" times
// when that is positive. Any input also triggers an emission.
type Inject struct {
	mu       sync.Mutex
	payload  any
	topic    string
	once     bool
	interval time.Duration
	repeat   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (i *Inject) OnConfigure(_ *xflow.Node, cfg xflow.Config) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payload = cfg["payload"]
	i.topic = cfg.Str("topic", "")
	i.once = cfg.Bool("once", false)
	i.interval = cfg.Duration("interval", 0)
	i.repeat = cfg.Int("repeat", 0)
	return nil
}

func (i *Inject) OnStart(ctx context.Context, n *xflow.Node) error {
	i.mu.Lock()
	once, interval, repeat := i.once, i.interval, i.repeat
	tctx, cancel := context.WithCancel(ctx)
	i.cancel = cancel
	i.mu.Unlock()

	if once {
		i.emit(tctx, n)
	}
	if interval <= 0 {
		return nil
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for sent := 0; repeat <= 0 || sent < repeat; sent++ {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				i.emit(tctx, n)
			}
		}
	}()
	return nil
}

func (i *Inject) OnStop(_ context.Context, _ *xflow.Node) error {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	i.wg.Wait()
	return nil
}

func (i *Inject) OnInput(ctx context.Context, n *xflow.Node, _ *xflow.Envelope, _ int) error {
	i.emit(ctx, n)
	return nil
}

func (i *Inject) emit(ctx context.Context, n *xflow.Node) {
	i.mu.Lock()
	payload, topic := i.payload, i.topic
	i.mu.Unlock()

	var opts []xflow.EnvelopeOption
	if topic != "" {
		opts = append(opts, xflow.WithTopic(topic))
	}
	n.Send(ctx, n.NewEnvelope(payload, opts...), 0)
}
