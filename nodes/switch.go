package nodes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/trickstertwo/xflow"
)

const TypeSwitch = "switch"

func init() {
	mustRegister(TypeSwitch, func(cfg xflow.Config) (xflow.Handler, []xflow.NodeOption, error) {
		return &Switch{}, []xflow.NodeOption{xflow.WithOutputs(len(cfg.Slice("rules")))}, nil
	})
}

// Operators understood by Switch rules.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpLt       = "lt"
	OpLte      = "lte"
	OpGt       = "gt"
	OpGte      = "gte"
	OpContains = "contains"
	OpRegex    = "regex"
	OpTrue     = "true"
	OpFalse    = "false"
	OpNull     = "null"
	OpNotNull  = "nnull"
	OpElse     = "else"
)

// Rule is one compiled switch rule; its index is its output port.
type Rule struct {
	Op    string
	Value any
	re    *regexp.Regexp
}

// Switch routes each input to the outputs whose rule matches the value at
// "property" (a gjson path into the JSON form of the payload; empty means
// the whole payload). With "checkall" false only the first match fires.
// Its output count follows the rule count.
type Switch struct {
	mu       sync.RWMutex
	property string
	checkAll bool
	rules    []Rule
	codec    xflow.Codec
}

func (s *Switch) OnConfigure(n *xflow.Node, cfg xflow.Config) error {
	raw := cfg.Slice("rules")
	rules := make([]Rule, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return fmt.Errorf("switch: rule %d is %T, want map", i, r)
		}
		op, _ := m["t"].(string)
		op = strings.ToLower(op)
		rule := Rule{Op: op, Value: m["v"]}
		switch op {
		case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpContains,
			OpTrue, OpFalse, OpNull, OpNotNull, OpElse:
		case OpRegex:
			pat, _ := rule.Value.(string)
			re, err := regexp.Compile(pat)
			if err != nil {
				return fmt.Errorf("switch: rule %d: %w", i, err)
			}
			rule.re = re
		default:
			return fmt.Errorf("switch: rule %d: unknown operator %q", i, op)
		}
		rules = append(rules, rule)
	}

	codec, err := xflow.NewCodec(cfg.Str("codec", "json"))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.property = cfg.Str("property", "")
	s.checkAll = cfg.Bool("checkall", true)
	s.rules = rules
	s.codec = codec
	s.mu.Unlock()

	n.SetOutputs(len(rules))
	return nil
}

func (s *Switch) OnInput(ctx context.Context, n *xflow.Node, env *xflow.Envelope, _ int) error {
	s.mu.RLock()
	property, checkAll, rules, codec := s.property, s.checkAll, s.rules, s.codec
	s.mu.RUnlock()

	data, err := xflow.EncodePayload(codec, env)
	if err != nil {
		return fmt.Errorf("switch: encode payload: %w", err)
	}
	var val gjson.Result
	if property == "" {
		val = gjson.ParseBytes(data)
	} else {
		val = gjson.GetBytes(data, property)
	}

	matched := false
	for i, r := range rules {
		var hit bool
		if r.Op == OpElse {
			hit = !matched
		} else {
			hit = r.match(val)
		}
		if !hit {
			continue
		}
		matched = true
		n.Send(ctx, env, i)
		if !checkAll {
			break
		}
	}
	return nil
}

func (r Rule) match(v gjson.Result) bool {
	switch r.Op {
	case OpEq:
		return compare(v, r.Value) == 0
	case OpNeq:
		return compare(v, r.Value) != 0
	case OpLt:
		c := compare(v, r.Value)
		return c != incomparable && c < 0
	case OpLte:
		c := compare(v, r.Value)
		return c != incomparable && c <= 0
	case OpGt:
		c := compare(v, r.Value)
		return c != incomparable && c > 0
	case OpGte:
		c := compare(v, r.Value)
		return c != incomparable && c >= 0
	case OpContains:
		return strings.Contains(v.String(), fmt.Sprint(r.Value))
	case OpRegex:
		return r.re.MatchString(v.String())
	case OpTrue:
		return v.Type == gjson.True
	case OpFalse:
		return v.Type == gjson.False
	case OpNull:
		return !v.Exists() || v.Type == gjson.Null
	case OpNotNull:
		return v.Exists() && v.Type != gjson.Null
	}
	return false
}

const incomparable = 2

// compare orders v against want: numbers numerically, everything else by
// string form. Returns incomparable for number vs non-number.
func compare(v gjson.Result, want any) int {
	if !v.Exists() {
		return incomparable
	}
	if f, ok := toFloat(want); ok {
		if v.Type != gjson.Number {
			return incomparable
		}
		switch {
		case v.Num < f:
			return -1
		case v.Num > f:
			return 1
		}
		return 0
	}
	if b, ok := want.(bool); ok {
		if v.Type != gjson.True && v.Type != gjson.False {
			return incomparable
		}
		if v.Bool() == b {
			return 0
		}
		return incomparable
	}
	return strings.Compare(v.String(), fmt.Sprint(want))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
