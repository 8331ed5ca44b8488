package xflow

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xclock"
)

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope(map[string]any{"n": 1}, WithTopic("orders"), WithField("seq", 3))
	b := NewEnvelope(nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "orders", a.Topic)
	assert.False(t, a.CreatedAt.IsZero())
	v, ok := a.Get("seq")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Nil(t, b.Payload)

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestEnvelope_StampDoesNotMutate(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	env := NewEnvelope("x", WithCreatedAt(created))

	now := created.Add(1500 * time.Millisecond)
	stamped := env.Stamp(now)

	assert.Equal(t, now, stamped.EmittedAt)
	assert.Equal(t, 1500*time.Millisecond, stamped.Age)
	assert.Equal(t, env.ID, stamped.ID)
	assert.True(t, env.EmittedAt.IsZero())
	assert.Zero(t, env.Age)
}

func TestEnvelope_CloneIsolation(t *testing.T) {
	env := NewEnvelope(
		map[string]any{"list": []int{1, 2, 3}, "inner": map[string]any{"k": "v"}},
		WithField("meta", map[string]any{"part": 1}),
	)

	cp, err := env.Clone()
	require.NoError(t, err)
	cp.Payload.(map[string]any)["list"].([]int)[0] = 99
	cp.Payload.(map[string]any)["inner"].(map[string]any)["k"] = "changed"
	cp.Fields["meta"].(map[string]any)["part"] = 2

	orig := env.Payload.(map[string]any)
	assert.Equal(t, []int{1, 2, 3}, orig["list"])
	assert.Equal(t, "v", orig["inner"].(map[string]any)["k"])
	assert.Equal(t, 1, env.Fields["meta"].(map[string]any)["part"])
	assert.Equal(t, env.ID, cp.ID)
}

// arena is a graph-shaped payload that copies itself into fresh storage.
type arena struct {
	nodes  []int
	copied bool
}

func (a *arena) DeepCopy() any {
	return &arena{nodes: append([]int(nil), a.nodes...), copied: true}
}

func TestEnvelope_CloneHonoursCloner(t *testing.T) {
	env := NewEnvelope(&arena{nodes: []int{1, 2}})

	cp, err := env.Clone()
	require.NoError(t, err)
	a, ok := cp.Payload.(*arena)
	require.True(t, ok)
	assert.True(t, a.copied)
	a.nodes[0] = 7
	assert.Equal(t, []int{1, 2}, env.Payload.(*arena).nodes)
}

func TestEnvelope_CloneNil(t *testing.T) {
	var env *Envelope
	cp, err := env.Clone()
	require.NoError(t, err)
	assert.Nil(t, cp)

	cp, err = NewEnvelope(nil).Clone()
	require.NoError(t, err)
	assert.Nil(t, cp.Payload)
	assert.Nil(t, cp.Fields)
}

// reading keeps part of its state unexported.
type reading struct {
	Label string
	value int
}

func TestEnvelope_CloneKeepsUnexportedFields(t *testing.T) {
	env := NewEnvelope(reading{Label: "x", value: 7})

	cp, err := env.Clone()
	require.NoError(t, err)
	assert.Equal(t, reading{Label: "x", value: 7}, cp.Payload)
}

func TestEnvelope_CloneBigInt(t *testing.T) {
	n := big.NewInt(42)
	env := NewEnvelope(n)

	cp, err := env.Clone()
	require.NoError(t, err)
	got, ok := cp.Payload.(*big.Int)
	require.True(t, ok)
	assert.Equal(t, 0, got.Cmp(big.NewInt(42)))

	got.SetInt64(1)
	assert.Equal(t, int64(42), n.Int64())
}

// link is a self-referencing payload.
type link struct {
	ID   int
	next *link
}

func TestEnvelope_CloneCyclicGraph(t *testing.T) {
	a := &link{ID: 1}
	b := &link{ID: 2, next: a}
	a.next = b
	self := &link{ID: 3}
	self.next = self

	cp, err := NewEnvelope(map[string]any{"ring": a, "self": self}).Clone()
	require.NoError(t, err)

	m := cp.Payload.(map[string]any)
	ca := m["ring"].(*link)
	require.NotSame(t, a, ca)
	require.NotNil(t, ca.next)
	assert.Equal(t, 2, ca.next.ID)
	assert.Same(t, ca, ca.next.next)
	assert.NotSame(t, b, ca.next)

	cs := m["self"].(*link)
	assert.NotSame(t, self, cs)
	assert.Same(t, cs, cs.next)
}

func TestEnvelope_CloneUnsupported(t *testing.T) {
	_, err := NewEnvelope(make(chan int)).Clone()
	assert.ErrorIs(t, err, ErrUncloneable)

	_, err = NewEnvelope("ok", WithField("done", make(chan struct{}))).Clone()
	assert.ErrorIs(t, err, ErrUncloneable)
}

func TestNewEnvelope_UsesDefaultClock(t *testing.T) {
	orig := xclock.Default()
	t.Cleanup(func() { xclock.SetDefault(orig) })

	ft := time.Date(2033, 5, 6, 7, 8, 9, 0, time.UTC)
	xclock.SetDefault(xclock.NewFrozen(ft))

	assert.True(t, NewEnvelope("x").CreatedAt.Equal(ft))
}

func TestEnvelope_Derive(t *testing.T) {
	env := NewEnvelope("in", WithTopic("t"), WithField("trace", "abc"))
	now := time.Now()

	d := env.Derive("out", now)
	assert.NotEqual(t, env.ID, d.ID)
	assert.Equal(t, "out", d.Payload)
	assert.Equal(t, "t", d.Topic)
	assert.Equal(t, now, d.CreatedAt)

	d.Set("trace", "xyz")
	v, _ := env.Get("trace")
	assert.Equal(t, "abc", v)
}
