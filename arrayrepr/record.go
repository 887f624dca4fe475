package arrayrepr

import (
	"encoding/json"
	"math"
)

// Record is one array-encoded object.  Fields[i] holds the value of
// attribute i of class Class (wire offset i+1).  Extra holds ad-hoc
// attributes that the class does not declare; it is nil when there are none.
type Record struct {
	Class  int
	Fields []any
	Extra  map[string]any
}

// MarshalJSON encodes r in the wire form [class, field1, ..., fieldN, extra?].
// Nested []*Record values are encoded recursively.
func (r *Record) MarshalJSON() ([]byte, error) {
	n := len(r.Fields) + 1
	if len(r.Extra) > 0 {
		n++
	}
	a := make([]any, 0, n)
	a = append(a, r.Class)
	a = append(a, r.Fields...)
	if len(r.Extra) > 0 {
		a = append(a, r.Extra)
	}
	return json.Marshal(a)
}

// Clone returns a shallow copy of r with its own Fields and Extra storage.
func (r *Record) Clone() *Record {
	c := &Record{Class: r.Class, Fields: append([]any(nil), r.Fields...)}
	if r.Extra != nil {
		c.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// Int converts a numeric attribute value to int64.  Floats are truncated.
// It returns false for nil and non-numeric values.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint32:
		return int64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case float32:
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
