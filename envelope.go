package xflow

import (
	"fmt"
	"maps"
	"time"

	"github.com/brunoga/deep"
	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

// Envelope is the packet traveling between nodes.
//
// Envelopes are immutable by convention once sent: Send hands every
// recipient its own deep copy, so a handler may freely mutate what it
// receives without affecting siblings.
type Envelope struct {
	// ID is assigned at creation and never reused.
	ID string
	// Payload is the domain data. May be nil.
	Payload any
	// Topic is an optional classifier.
	Topic string
	// CreatedAt is set once at creation; downstream hops never touch it.
	CreatedAt time.Time
	// EmittedAt is re-stamped on every hand-off.
	EmittedAt time.Time
	// Age is EmittedAt - CreatedAt as of the most recent hop.
	Age time.Duration
	// SenderDropCount is the sender's cumulative drop counter at send time.
	SenderDropCount uint64
	// Fields holds open extension attributes (sequence/part metadata etc).
	Fields map[string]any
}

// Cloner lets a payload control its own deep copy. Graph-shaped or
// arena-backed payloads should return a fresh structure with no pointers
// into the receiver. It is honoured on the payload and on each field value;
// everything else is copied reflectively, unexported fields and pointer
// cycles included.
type Cloner interface {
	DeepCopy() any
}

// EnvelopeOption customises NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithTopic sets the envelope topic.
func WithTopic(topic string) EnvelopeOption {
	return func(e *Envelope) { e.Topic = topic }
}

// WithField attaches an extension field.
func WithField(key string, v any) EnvelopeOption {
	return func(e *Envelope) {
		if e.Fields == nil {
			e.Fields = make(map[string]any, 1)
		}
		e.Fields[key] = v
	}
}

// WithFields attaches several extension fields at once.
func WithFields(fields map[string]any) EnvelopeOption {
	return func(e *Envelope) {
		if len(fields) == 0 {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			e.Fields[k] = v
		}
	}
}

// WithCreatedAt overrides the creation timestamp (normally taken from the
// node clock).
func WithCreatedAt(t time.Time) EnvelopeOption {
	return func(e *Envelope) { e.CreatedAt = t }
}

// NewEnvelope creates an envelope with a fresh id.
func NewEnvelope(payload any, opts ...EnvelopeOption) *Envelope {
	e := &Envelope{
		ID:      uuid.NewString(),
		Payload: payload,
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = xclock.Now()
	}
	return e
}

// Stamp returns a shallow copy with EmittedAt set to now and Age
// recomputed. The receiver is left untouched.
func (e *Envelope) Stamp(now time.Time) *Envelope {
	cp := *e
	cp.EmittedAt = now
	cp.Age = now.Sub(cp.CreatedAt)
	return &cp
}

// Clone returns a deep copy sharing no mutable state with the receiver.
// Values that cannot be copied (channels, funcs) yield ErrUncloneable.
func (e *Envelope) Clone() (*Envelope, error) {
	if e == nil {
		return nil, nil
	}
	cp := *e
	p, err := copyValue(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", ErrUncloneable, err)
	}
	cp.Payload = p
	if e.Fields != nil {
		cp.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			fv, err := copyValue(v)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %w", ErrUncloneable, k, err)
			}
			cp.Fields[k] = fv
		}
	}
	return &cp, nil
}

func copyValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Cloner:
		return t.DeepCopy(), nil
	}
	return deep.Copy(v)
}

// Get returns an extension field.
func (e *Envelope) Get(key string) (any, bool) {
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

// Set attaches an extension field in place. Only call this on an envelope
// you own (one you created or received).
func (e *Envelope) Set(key string, v any) {
	if e.Fields == nil {
		e.Fields = make(map[string]any, 1)
	}
	e.Fields[key] = v
}

// Derive creates a new envelope carrying payload while inheriting topic and
// a shallow copy of the extension fields. The derived envelope gets a new id and
// creation time.
func (e *Envelope) Derive(payload any, now time.Time) *Envelope {
	d := &Envelope{
		ID:        uuid.NewString(),
		Payload:   payload,
		Topic:     e.Topic,
		CreatedAt: now,
	}
	if e.Fields != nil {
		d.Fields = maps.Clone(e.Fields)
	}
	return d
}
