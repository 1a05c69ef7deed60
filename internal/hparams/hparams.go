// Package hparams holds loosely typed estimator parameters as they arrive from
// YAML configuration, and the hyperparameter grids searched by the trainer.
package hparams

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params maps a parameter name to a scalar value (int, float64, string, bool
// or nil).
type Params map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Has reports whether key is set to a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// Int returns p[key] as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("parameter %s: unexpected type %T", key, v)
}

// Float returns p[key] as a float64, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("parameter %s: unexpected type %T", key, v)
}

// String returns p[key] as a string, or def when absent.
func (p Params) String(key string, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: expected string, got %T", key, v)
	}
	return s, nil
}

// Bool returns p[key] as a bool, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, fmt.Errorf("parameter %s: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("parameter %s: expected bool, got %T", key, v)
}

// Strings renders every value with %v, keyed by name. Used when logging
// parameters to the experiment tracker.
func (p Params) Strings() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Grid maps a parameter name to its candidate values.
type Grid map[string][]any

// Keys returns the grid's parameter names in sorted order.
func (g Grid) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size is the number of combinations Combinations will return.
func (g Grid) Size() int {
	if len(g) == 0 {
		return 1
	}
	n := 1
	for _, vs := range g {
		n *= len(vs)
	}
	return n
}

// Combinations expands the Cartesian product of the grid. Keys are iterated
// in sorted order with the last key varying fastest, so the result order is
// stable. An empty grid yields a single empty combination.
func (g Grid) Combinations() []Params {
	keys := g.Keys()
	out := []Params{{}}
	for _, k := range keys {
		var next []Params
		for _, base := range out {
			for _, v := range g[k] {
				p := base.Clone()
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}

// Narrow returns a copy of g in which every key fixed in p is reduced to
// that single value.
func (g Grid) Narrow(p Params) Grid {
	out := make(Grid, len(g))
	for k, vs := range g {
		if v, ok := p[k]; ok && v != nil {
			out[k] = []any{v}
			continue
		}
		out[k] = append([]any(nil), vs...)
	}
	return out
}
