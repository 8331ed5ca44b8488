package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/trickstertwo/xflow"
)

const TypeDebug = "debug"

func init() {
	mustRegister(TypeDebug, func(cfg xflow.Config) (xflow.Handler, []xflow.NodeOption, error) {
		return &Debug{}, []xflow.NodeOption{xflow.WithOutputs(0)}, nil
	})
}

// Debug is a terminal node that logs what it receives and keeps the last
// "keep" envelopes (default 100) for inspection. With zero outputs it is
// processed directly on the sender's goroutine.
type Debug struct {
	mu       sync.Mutex
	keep     int
	property string
	silent   bool
	codec    xflow.Codec
	recent   []*xflow.Envelope
}

func (d *Debug) OnConfigure(_ *xflow.Node, cfg xflow.Config) error {
	codec, err := xflow.NewCodec(cfg.Str("codec", "json"))
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keep = cfg.Int("keep", 100)
	d.property = cfg.Str("property", "")
	d.silent = cfg.Bool("silent", false)
	d.codec = codec
	if len(d.recent) > d.keep {
		d.recent = d.recent[len(d.recent)-d.keep:]
	}
	return nil
}

func (d *Debug) OnInput(ctx context.Context, n *xflow.Node, env *xflow.Envelope, port int) error {
	return d.record(n, env)
}

func (d *Debug) DirectProcess(ctx context.Context, n *xflow.Node, env *xflow.Envelope, port int) error {
	return d.record(n, env)
}

// Messages returns the retained envelopes, oldest first.
func (d *Debug) Messages() []*xflow.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*xflow.Envelope, len(d.recent))
	copy(out, d.recent)
	return out
}

// Reset forgets retained envelopes.
func (d *Debug) Reset() {
	d.mu.Lock()
	d.recent = nil
	d.mu.Unlock()
}

func (d *Debug) record(n *xflow.Node, env *xflow.Envelope) error {
	d.mu.Lock()
	if d.keep > 0 {
		d.recent = append(d.recent, env)
		if len(d.recent) > d.keep {
			d.recent = d.recent[1:]
		}
	}
	property, silent, codec := d.property, d.silent, d.codec
	d.mu.Unlock()

	if silent {
		return nil
	}
	data, err := xflow.EncodePayload(codec, env)
	if err != nil {
		return fmt.Errorf("debug: encode payload: %w", err)
	}
	out := string(data)
	if property != "" {
		out = gjson.GetBytes(data, property).String()
	}
	n.Logger().Info().
		Str("message_id", env.ID).
		Str("topic", env.Topic).
		Dur("age", env.Age).
		Str("payload", out).
		Msg("debug")
	return nil
}
