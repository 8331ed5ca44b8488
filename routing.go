package xflow

import "sync"

// Route is one connection from an output port to a target input port.
type Route struct {
	Target *Node
	Input  int
}

// Routes maps output index to an ordered list of targets. Duplicates are
// kept; order of Connect calls is delivery order within a single Send.
//
// Routes are read-mostly while the graph runs; mutation is the host's job
// and should happen while the source is not sending.
type Routes struct {
	mu      sync.RWMutex
	outputs map[int][]Route
}

func newRoutes() *Routes {
	return &Routes{outputs: make(map[int][]Route)}
}

// Connect appends target to the list for output.
func (r *Routes) Connect(output int, target *Node, input int) {
	if target == nil {
		return
	}
	r.mu.Lock()
	r.outputs[output] = append(r.outputs[output], Route{Target: target, Input: input})
	r.mu.Unlock()
}

// Disconnect removes every entry referencing target at output.
func (r *Routes) Disconnect(target *Node, output int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.outputs[output]
	if !ok {
		return
	}
	kept := list[:0:0]
	for _, rt := range list {
		if rt.Target != target {
			kept = append(kept, rt)
		}
	}
	if len(kept) == 0 {
		delete(r.outputs, output)
		return
	}
	r.outputs[output] = kept
}

// DisconnectAll removes target from every output.
func (r *Routes) DisconnectAll(target *Node) {
	r.mu.RLock()
	outs := make([]int, 0, len(r.outputs))
	for out := range r.outputs {
		outs = append(outs, out)
	}
	r.mu.RUnlock()
	for _, out := range outs {
		r.Disconnect(target, out)
	}
}

// Targets returns a copy of the routes for output.
func (r *Routes) Targets(output int) []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.outputs[output]
	if len(list) == 0 {
		return nil
	}
	out := make([]Route, len(list))
	copy(out, list)
	return out
}

// Len returns the total number of routes.
func (r *Routes) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.outputs {
		n += len(l)
	}
	return n
}
