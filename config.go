package xflow

import (
	"strings"
	"time"
)

// Config is the open key/value configuration of a node.
type Config map[string]any

// KeyDropWhileBusy enables the drop-while-busy backpressure policy.
const KeyDropWhileBusy = "drop_while_busy"

// Clone returns a shallow copy of the config.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into c, returning c.
func (c Config) Merge(other Config) Config {
	if c == nil {
		c = make(Config, len(other))
	}
	for k, v := range other {
		c[k] = v
	}
	return c
}

func (c Config) Int(k string, d int) int {
	switch v := c[k].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return d
	}
}

func (c Config) Bool(k string, d bool) bool {
	switch v := c[k].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return d
}

func (c Config) Duration(k string, d time.Duration) time.Duration {
	switch v := c[k].(type) {
	case time.Duration:
		return v
	case string:
		if p, err := time.ParseDuration(v); err == nil {
			return p
		}
	case float64:
		return time.Duration(v)
	case int:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	}
	return d
}

func (c Config) Str(k, d string) string {
	if v, ok := c[k].(string); ok {
		return v
	}
	return d
}

// Strings accepts []string or []any of strings.
func (c Config) Strings(k string) []string {
	switch v := c[k].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Slice returns a list value as []any.
func (c Config) Slice(k string) []any {
	switch v := c[k].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}
