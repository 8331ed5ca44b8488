package nodes

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xflow"
)

const TypeFunction = "function"

// Func computes results for one input. Result i is sent on output i; nil
// entries are skipped.
type Func func(ctx context.Context, n *xflow.Node, env *xflow.Envelope) ([]*xflow.Envelope, error)

func init() {
	mustRegister(TypeFunction, func(cfg xflow.Config) (xflow.Handler, []xflow.NodeOption, error) {
		fn, ok := cfg["func"].(Func)
		if !ok {
			raw, rawOK := cfg["func"].(func(context.Context, *xflow.Node, *xflow.Envelope) ([]*xflow.Envelope, error))
			if !rawOK {
				return nil, nil, fmt.Errorf("function: config key %q must hold a nodes.Func", "func")
			}
			fn = raw
		}
		return NewFunction(fn), []xflow.NodeOption{xflow.WithOutputs(cfg.Int("outputs", 1))}, nil
	})
}

// Function runs a user func for every input.
type Function struct {
	fn Func
}

func NewFunction(fn Func) *Function { return &Function{fn: fn} }

func (f *Function) OnConfigure(n *xflow.Node, cfg xflow.Config) error {
	if _, ok := cfg["outputs"]; ok {
		n.SetOutputs(cfg.Int("outputs", 1))
	}
	return nil
}

func (f *Function) OnInput(ctx context.Context, n *xflow.Node, env *xflow.Envelope, _ int) error {
	out, err := f.fn(ctx, n, env)
	if err != nil {
		return err
	}
	for i, e := range out {
		if e != nil {
			n.Send(ctx, e, i)
		}
	}
	return nil
}
