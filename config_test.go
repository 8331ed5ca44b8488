package xflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Getters(t *testing.T) {
	c := Config{
		"i":      3,
		"i64":    int64(4),
		"f":      5.0,
		"b":      true,
		"bs":     "yes",
		"d":      "150ms",
		"dn":     time.Second,
		"s":      "text",
		"list":   []any{"a", 1, "b"},
		"strs":   []string{"x"},
		"single": "only",
		"rules":  []map[string]any{{"t": "eq"}},
	}

	assert.Equal(t, 3, c.Int("i", 0))
	assert.Equal(t, 4, c.Int("i64", 0))
	assert.Equal(t, 5, c.Int("f", 0))
	assert.Equal(t, 9, c.Int("missing", 9))
	assert.Equal(t, 9, c.Int("s", 9))

	assert.True(t, c.Bool("b", false))
	assert.True(t, c.Bool("bs", false))
	assert.True(t, c.Bool("s", true))

	assert.Equal(t, 150*time.Millisecond, c.Duration("d", 0))
	assert.Equal(t, time.Second, c.Duration("dn", 0))
	assert.Equal(t, time.Minute, c.Duration("s", time.Minute))

	assert.Equal(t, "text", c.Str("s", ""))
	assert.Equal(t, "dflt", c.Str("i", "dflt"))

	assert.Equal(t, []string{"a", "b"}, c.Strings("list"))
	assert.Equal(t, []string{"x"}, c.Strings("strs"))
	assert.Equal(t, []string{"only"}, c.Strings("single"))
	assert.Nil(t, c.Strings("missing"))

	assert.Len(t, c.Slice("list"), 3)
	assert.Len(t, c.Slice("rules"), 1)
	assert.Nil(t, c.Slice("s"))
}

func TestConfig_MergeAndClone(t *testing.T) {
	var nilCfg Config
	merged := nilCfg.Merge(Config{"a": 1})
	assert.Equal(t, 1, merged.Int("a", 0))

	base := Config{"a": 1, "b": 2}
	base.Merge(Config{"b": 3, "c": 4})
	assert.Equal(t, Config{"a": 1, "b": 3, "c": 4}, base)

	cp := base.Clone()
	cp["a"] = 100
	assert.Equal(t, 1, base["a"])
}
