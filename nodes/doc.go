// Package nodes provides stock node kinds for xflow graphs.
//
// Types registered on import:
//   - "inject":   emits a configured payload on start and/or on an interval
//   - "function": runs a Go func and routes its results by output index
//   - "switch":   routes by rules evaluated against a payload property
//     (gjson path); output count equals rule count
//   - "debug":    terminal sink, processed directly on the sender goroutine
//   - "catch":    error listener, re-emits node errors as messages
//
// Example:
//
//	g, _ := xflow.NewGraphBuilder().WithLogger(logger).Build()
//	_, _ = g.Create(nodes.TypeInject, "in", "tick", xflow.Config{"interval": "1s", "payload": map[string]any{"n": 1}})
//	_, _ = g.Create(nodes.TypeDebug, "out", "log", nil)
//	_ = g.Connect("in", 0, "out", 0)
//	_ = g.Start(ctx)
package nodes

import (
	"fmt"

	"github.com/trickstertwo/xflow"
)

func mustRegister(name string, f xflow.HandlerFactory) {
	if err := xflow.RegisterType(name, f); err != nil {
		panic(fmt.Errorf("xflow/nodes: failed to register %q: %w", name, err))
	}
}
