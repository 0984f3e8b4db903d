package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Params is a node's parameter bag. The engine only carries it to the node's
// capability; interpretation belongs to the capability.
type Params map[string]any

// Clone returns a shallow copy. A nil bag clones to an empty one.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value at key if it is a string.
func (p Params) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// StringOr returns the string at key or def.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok {
		return s
	}
	return def
}

// Float returns the value at key as float64, accepting any numeric form
// produced by JSON, YAML or Go literals.
func (p Params) Float(key string) (float64, bool) {
	return toFloat(p[key])
}

// FloatOr returns the number at key or def.
func (p Params) FloatOr(key string, def float64) float64 {
	if f, ok := p.Float(key); ok {
		return f
	}
	return def
}

// Int returns the value at key as int. Fractional numbers are rejected.
func (p Params) Int(key string) (int, bool) {
	f, ok := toFloat(p[key])
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// IntOr returns the integer at key or def.
func (p Params) IntOr(key string, def int) int {
	if i, ok := p.Int(key); ok {
		return i
	}
	return def
}

// Bool returns the value at key if it is a bool.
func (p Params) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Duration accepts either a Go duration string ("1m30s") or a number of
// milliseconds.
func (p Params) Duration(key string) (time.Duration, bool) {
	switch v := p[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	case time.Duration:
		return v, true
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0, false
		}
		return time.Duration(f * float64(time.Millisecond)), true
	}
}

// Map returns a nested object value.
func (p Params) Map(key string) (map[string]any, bool) {
	switch v := p[key].(type) {
	case map[string]any:
		return v, true
	case Params:
		return v, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParamError describes an invalid parameter. Capabilities return it from
// ValidateStaticConfig.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("param %q: %s", e.Param, e.Reason)
}
