package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xflow"
)

// Use dials Redis and registers a Sink as an error listener on g.
func Use(g *xflow.Graph, cfg Config) (*Sink, error) {
	if g == nil {
		return nil, fmt.Errorf("redisstream.Use: nil graph")
	}
	s, err := NewSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("redisstream.Use: %w", err)
	}
	s.WithLogger(g.Logger())
	g.AddListener(s)
	return s, nil
}
