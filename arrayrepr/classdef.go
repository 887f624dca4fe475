package arrayrepr

import (
	"encoding/json"
	"fmt"

	"github.com/grailbio/base/errors"
)

// ClassDef declares one record shape.
type ClassDef struct {
	// Attributes lists the attribute names in field order.
	Attributes []string
	// Proto holds default values for attributes, declared or not.
	Proto map[string]any
	// IsArrayAttr marks the attributes whose values are arrays (possibly of
	// nested records) rather than scalars.
	IsArrayAttr map[string]bool
}

type classDefJSON struct {
	Attributes  []string                   `json:"attributes"`
	Proto       map[string]any             `json:"proto,omitempty"`
	IsArrayAttr map[string]json.RawMessage `json:"isArrayAttr,omitempty"`
}

// MarshalJSON encodes the class in the {attributes, proto, isArrayAttr} form.
func (c ClassDef) MarshalJSON() ([]byte, error) {
	out := struct {
		Attributes  []string        `json:"attributes"`
		Proto       map[string]any  `json:"proto,omitempty"`
		IsArrayAttr map[string]bool `json:"isArrayAttr,omitempty"`
	}{c.Attributes, c.Proto, c.IsArrayAttr}
	if out.Attributes == nil {
		out.Attributes = []string{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the {attributes, proto, isArrayAttr} form.  The
// values of isArrayAttr may be booleans or numbers; any truthy value marks
// the attribute.
func (c *ClassDef) UnmarshalJSON(data []byte) error {
	var in classDefJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.E(errors.Integrity, "arrayrepr: malformed class definition", err)
	}
	c.Attributes = in.Attributes
	c.Proto = in.Proto
	c.IsArrayAttr = nil
	for name, raw := range in.IsArrayAttr {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return errors.E(errors.Integrity, "arrayrepr: malformed isArrayAttr", err)
		}
		if truthy(v) {
			if c.IsArrayAttr == nil {
				c.IsArrayAttr = map[string]bool{}
			}
			c.IsArrayAttr[name] = true
		}
	}
	return nil
}

// DecodeClasses converts generic JSON values (as produced by
// encoding/json into []any / map[string]any) into class definitions.
func DecodeClasses(v any) ([]ClassDef, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: classes must be an array, got %T", v))
	}
	classes := make([]ClassDef, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: class %d must be an object, got %T", i, item))
		}
		attrs, _ := m["attributes"].([]any)
		for _, a := range attrs {
			name, ok := a.(string)
			if !ok {
				return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: class %d has a non-string attribute %v", i, a))
			}
			classes[i].Attributes = append(classes[i].Attributes, name)
		}
		if proto, ok := m["proto"].(map[string]any); ok {
			classes[i].Proto = proto
		}
		if flags, ok := m["isArrayAttr"].(map[string]any); ok {
			for name, flag := range flags {
				if !truthy(flag) {
					continue
				}
				if classes[i].IsArrayAttr == nil {
					classes[i].IsArrayAttr = map[string]bool{}
				}
				classes[i].IsArrayAttr[name] = true
			}
		}
	}
	return classes, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if i, ok := Int(v); ok {
		return i != 0
	}
	return true
}
