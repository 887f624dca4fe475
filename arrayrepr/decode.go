package arrayrepr

import (
	"fmt"
	"maps"

	"github.com/grailbio/base/errors"
)

// Decode builds a Record from a generic JSON value of the form
// [class, field1, ..., fieldN, extra?].  Values of array attributes whose
// elements all look like records are decoded recursively into []*Record.
// Missing trailing fields are left nil.  Malformed input yields an
// errors.Integrity error.
func (c *Codec) Decode(v any) (*Record, error) {
	elems, ok := v.([]any)
	if !ok || len(elems) == 0 {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: record must be a non-empty array, got %T", v))
	}
	class, ok := Int(elems[0])
	if !ok || class < 0 || class >= int64(len(c.classes)) {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: bad record class %v (%d classes)", elems[0], len(c.classes)))
	}
	cl := c.classes[class]
	n := len(cl.Attributes)
	r := &Record{Class: int(class), Fields: make([]any, n)}
	vals := elems[1:]
	switch {
	case len(vals) > n+1:
		return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: record of class %d has %d values, expect at most %d", class, len(vals), n+1))
	case len(vals) == n+1:
		extra, ok := vals[n].(map[string]any)
		if !ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: trailing value of class %d record must be an object, got %T", class, vals[n]))
		}
		if len(extra) > 0 {
			r.Extra = maps.Clone(extra)
		}
		vals = vals[:n]
	}
	copy(r.Fields, vals)
	for off, name := range cl.Attributes {
		if !c.IsArrayAttr(r.Class, name) || r.Fields[off] == nil {
			continue
		}
		nested, err := c.decodeNested(r.Fields[off])
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("arrayrepr: attribute %s", name))
		}
		if nested != nil {
			r.Fields[off] = nested
		}
	}
	return r, nil
}

// decodeNested returns the records in v if v is an array of records, and nil
// if v is some other kind of array.
func (c *Codec) decodeNested(v any) ([]*Record, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	for _, item := range list {
		if !c.looksLikeRecord(item) {
			return nil, nil
		}
	}
	return c.DecodeList(list)
}

func (c *Codec) looksLikeRecord(v any) bool {
	elems, ok := v.([]any)
	if !ok || len(elems) == 0 {
		return false
	}
	class, ok := Int(elems[0])
	return ok && class >= 0 && class < int64(len(c.classes))
}

// DecodeList decodes a generic JSON array of records.  A nil value decodes
// as an empty list.
func (c *Codec) DecodeList(v any) ([]*Record, error) {
	if v == nil {
		return nil, nil
	}
	if recs, ok := v.([]*Record); ok {
		return recs, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("arrayrepr: record list must be an array, got %T", v))
	}
	recs := make([]*Record, len(list))
	for i, item := range list {
		r, err := c.Decode(item)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("arrayrepr: record %d", i))
		}
		recs[i] = r
	}
	return recs, nil
}
