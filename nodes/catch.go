package nodes

import (
	"context"
	"sync"

	"github.com/trickstertwo/xflow"
)

const TypeCatch = "catch"

func init() {
	mustRegister(TypeCatch, func(cfg xflow.Config) (xflow.Handler, []xflow.NodeOption, error) {
		return &Catch{}, []xflow.NodeOption{xflow.WithInputs(0), xflow.WithOutputs(1)}, nil
	})
}

// Catch listens to the graph's error broadcast and emits every report whose
// source matches "scope" (node names or ids; empty = all) on output 0.
//
// When the failing node was processing a message, that message is
// re-emitted with an "error" field; otherwise a fresh envelope carries the
// error as its payload.
type Catch struct {
	mu    sync.RWMutex
	scope []string
}

func (c *Catch) OnConfigure(_ *xflow.Node, cfg xflow.Config) error {
	c.mu.Lock()
	c.scope = cfg.Strings("scope")
	c.mu.Unlock()
	return nil
}

func (c *Catch) OnInput(ctx context.Context, n *xflow.Node, env *xflow.Envelope, _ int) error {
	n.Send(ctx, env, 0)
	return nil
}

func (c *Catch) OnError(ctx context.Context, n *xflow.Node, r xflow.ErrorReport) {
	c.mu.RLock()
	scope := c.scope
	c.mu.RUnlock()
	if !xflow.MatchNames(r, scope) {
		return
	}

	info := map[string]any{
		"message": r.Message,
		"source": map[string]any{
			"id":   r.NodeID,
			"name": r.NodeName,
			"type": r.NodeType,
		},
	}

	var env *xflow.Envelope
	if r.Envelope != nil {
		env = r.Envelope.Derive(r.Envelope.Payload, n.Clock().Now())
		env.Set("error", info)
	} else {
		env = n.NewEnvelope(info, xflow.WithField("error", info))
	}
	n.Send(ctx, env, 0)
}
