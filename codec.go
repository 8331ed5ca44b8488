package xflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Codec turns payloads into bytes where a node or sink needs a serialized
// view: switch property lookups, debug output, the Redis error stream.
// Payloads travel between nodes as Go values and are never encoded on the
// hot path.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory builds a codec instance.
type CodecFactory func() Codec

var (
	codecsMu sync.RWMutex
	codecs   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec makes a codec available to nodes by name ("codec" config
// key). Re-registering a name replaces it.
func RegisterCodec(name string, factory CodecFactory) error {
	switch {
	case name == "":
		return errors.New("xflow: codec name must not be empty")
	case factory == nil:
		return errors.New("xflow: codec factory must not be nil")
	}
	codecsMu.Lock()
	codecs[name] = factory
	codecsMu.Unlock()
	return nil
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	codecsMu.RLock()
	f, ok := codecs[name]
	codecsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("xflow: codec %q not registered", name)
	}
	return f(), nil
}

// Codecs lists registered codec names.
func Codecs() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	out := make([]string, 0, len(codecs))
	for k := range codecs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EncodePayload serializes env's payload with c (JSON when nil).
// json.RawMessage payloads are already encoded and returned unchanged.
func EncodePayload(c Codec, env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("xflow: nil envelope")
	}
	if raw, ok := env.Payload.(json.RawMessage); ok {
		return raw, nil
	}
	if c == nil {
		c = JSONCodec{}
	}
	return c.Marshal(env.Payload)
}

// DecodePayload converts env's payload into T. A payload already of type
// T is returned as is; anything else goes through EncodePayload and c.
func DecodePayload[T any](c Codec, env *Envelope) (T, error) {
	var v T
	if env == nil {
		return v, errors.New("xflow: nil envelope")
	}
	if t, ok := env.Payload.(T); ok {
		return t, nil
	}
	if c == nil {
		c = JSONCodec{}
	}
	data, err := EncodePayload(c, env)
	if err != nil {
		return v, err
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
