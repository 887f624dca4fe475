package arrayrepr

import "strings"

// Accessors provides precompiled by-name access to records of any
// registered class, for use by code that exposes records as generic
// features.  Obtain it with Codec.Accessors.
type Accessors struct {
	// offsets maps attribute names, exact and lowercased, to per-class field
	// offsets; -1 marks classes that do not declare the attribute.
	offsets map[string][]int
	tags    [][]string
}

// Accessors returns the codec's Accessors, building them on first use.
func (c *Codec) Accessors() *Accessors {
	c.accessorsOnce.Do(func() { c.accessors = c.makeAccessors() })
	return c.accessors
}

func (c *Codec) makeAccessors() *Accessors {
	a := &Accessors{
		offsets: map[string][]int{},
		tags:    make([][]string, len(c.classes)),
	}
	add := func(name string, class, off int) {
		offs, ok := a.offsets[name]
		if !ok {
			offs = make([]int, len(c.classes))
			for i := range offs {
				offs[i] = -1
			}
			a.offsets[name] = offs
		}
		if offs[class] < 0 {
			offs[class] = off
		}
	}
	for ci, cl := range c.classes {
		a.tags[ci] = cl.Attributes
		for off, name := range cl.Attributes {
			add(name, ci, off)
			add(strings.ToLower(name), ci, off)
		}
	}
	return a
}

func (a *Accessors) offset(r *Record, name string) int {
	offs, ok := a.offsets[name]
	if !ok || r.Class < 0 || r.Class >= len(offs) {
		return -1
	}
	off := offs[r.Class]
	if off >= len(r.Fields) {
		return -1
	}
	return off
}

// Get returns the declared attribute field of r.  The name is matched
// case-insensitively.  Ad-hoc attributes and prototype values are not
// consulted.
func (a *Accessors) Get(r *Record, field string) (any, bool) {
	off := a.offset(r, strings.ToLower(field))
	if off < 0 {
		return nil, false
	}
	v := r.Fields[off]
	return v, v != nil
}

// Set stores v in the declared attribute field of r.  It returns false, and
// leaves r unchanged, when r's class does not declare field.
func (a *Accessors) Set(r *Record, field string, v any) bool {
	off := a.offset(r, field)
	if off < 0 {
		off = a.offset(r, strings.ToLower(field))
	}
	if off < 0 {
		return false
	}
	r.Fields[off] = v
	return true
}

// Tags returns the attribute names declared by r's class, or nil for an
// unregistered class.  The caller must not modify the result.
func (a *Accessors) Tags(r *Record) []string {
	if r.Class < 0 || r.Class >= len(a.tags) {
		return nil
	}
	return a.tags[r.Class]
}
