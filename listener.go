package xflow

import (
	"context"
	"strings"

	"github.com/trickstertwo/xlog"
)

// ErrorListenerFunc is an Adapter that lets a plain function satisfy
// ErrorListener.
type ErrorListenerFunc func(r ErrorReport)

func (f ErrorListenerFunc) OnError(r ErrorReport) { f(r) }

// LoggingListener is an Adapter that emits error reports via xlog.
type LoggingListener struct {
	Logger *xlog.Logger
}

func (l LoggingListener) OnError(r ErrorReport) {
	if l.Logger == nil {
		return
	}
	lg := l.Logger.With(
		xlog.Str("node_id", r.NodeID),
		xlog.Str("node_name", r.NodeName),
		xlog.Str("node_type", r.NodeType),
	)
	if r.Envelope != nil {
		lg.Warn().Err(r.Err).Str("message_id", r.Envelope.ID).Msg("xflow node error")
		return
	}
	lg.Warn().Err(r.Err).Msg("xflow node error")
}

// nodeListener bridges the broadcaster to a catch-style node.
type nodeListener struct {
	node *Node
	h    NodeErrorListener
}

func (l nodeListener) OnError(r ErrorReport) {
	n := l.node
	if !n.Enabled() || n.State() != Running {
		return
	}
	// A listener never hears about itself; avoids report loops.
	if r.NodeID == n.ID() {
		return
	}
	ctx := context.Background()
	n.lifeMu.Lock()
	if n.runCtx != nil {
		ctx = n.runCtx
	}
	n.lifeMu.Unlock()
	l.h.OnError(ctx, n, r)
}

// MatchNames reports whether r originates from one of names (node name or
// id, case-insensitive). An empty filter matches everything.
func MatchNames(r ErrorReport, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, s := range names {
		if strings.EqualFold(s, r.NodeName) || s == r.NodeID {
			return true
		}
	}
	return false
}
