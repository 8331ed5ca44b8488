package xflow

import (
	"errors"
	"sort"
	"sync"
)

// HandlerFactory constructs a handler for a node type from its config.
// Options returned alongside are applied to the node (port arity etc).
type HandlerFactory func(cfg Config) (Handler, []NodeOption, error)

var (
	typeRegistryMu sync.RWMutex
	typeRegistry   = map[string]HandlerFactory{
		"passthrough": func(Config) (Handler, []NodeOption, error) { return PassThrough(), nil, nil },
	}
)

// RegisterType registers a node type.
func RegisterType(name string, factory HandlerFactory) error {
	if name == "" {
		return errors.New("node type name must not be empty")
	}
	if factory == nil {
		return errors.New("node type factory must not be nil")
	}
	typeRegistryMu.Lock()
	typeRegistry[name] = factory
	typeRegistryMu.Unlock()
	return nil
}

// NewHandler constructs a handler by type name.
func NewHandler(name string, cfg Config) (Handler, []NodeOption, error) {
	typeRegistryMu.RLock()
	f, ok := typeRegistry[name]
	typeRegistryMu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownNodeType{name: name}
	}
	return f(cfg)
}

// Types lists registered node types.
func Types() []string {
	typeRegistryMu.RLock()
	defer typeRegistryMu.RUnlock()
	out := make([]string, 0, len(typeRegistry))
	for k := range typeRegistry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
