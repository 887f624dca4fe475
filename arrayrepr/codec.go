package arrayrepr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
)

// Getter reads one attribute of a record.  The second result is false when
// the attribute is absent.
type Getter func(r *Record) (any, bool)

// Setter writes one attribute of a record.
type Setter func(r *Record, v any) error

// classTable holds the name resolution tables of one class.  Offsets index
// Record.Fields.
type classTable struct {
	exact map[string]int
	lower map[string]int
}

func (t *classTable) offset(attr string) (int, bool) {
	if off, ok := t.exact[attr]; ok {
		return off, true
	}
	off, ok := t.lower[strings.ToLower(attr)]
	return off, ok
}

// Codec maps attribute names onto record offsets for a fixed list of
// classes.  It is immutable after New and safe for concurrent use.
type Codec struct {
	classes []ClassDef
	tables  []classTable

	accessorsOnce sync.Once
	accessors     *Accessors
}

// New registers the given classes.  Nil Proto and IsArrayAttr maps are
// replaced by empty ones.  It returns an errors.Invalid error when a class
// declares an empty attribute name, declares the same name twice, or
// declares two names that differ only by case.
func New(classes []ClassDef) (*Codec, error) {
	c := &Codec{
		classes: make([]ClassDef, len(classes)),
		tables:  make([]classTable, len(classes)),
	}
	for ci, cl := range classes {
		if cl.Proto == nil {
			cl.Proto = map[string]any{}
		}
		if cl.IsArrayAttr == nil {
			cl.IsArrayAttr = map[string]bool{}
		}
		cl.Attributes = append([]string(nil), cl.Attributes...)
		t := classTable{
			exact: make(map[string]int, len(cl.Attributes)),
			lower: make(map[string]int, len(cl.Attributes)),
		}
		for off, name := range cl.Attributes {
			if name == "" {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("arrayrepr: class %d: empty attribute name at offset %d", ci, off+1))
			}
			if prev, ok := t.exact[name]; ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("arrayrepr: class %d: attribute %q declared at offsets %d and %d", ci, name, prev+1, off+1))
			}
			lc := strings.ToLower(name)
			if prev, ok := t.lower[lc]; ok {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("arrayrepr: class %d: attributes %q and %q differ only by case", ci, cl.Attributes[prev], name))
			}
			t.exact[name] = off
			t.lower[lc] = off
		}
		c.classes[ci] = cl
		c.tables[ci] = t
	}
	return c, nil
}

// MustNew is like New but panics on error.  It is meant for static class
// lists.
func MustNew(classes []ClassDef) *Codec {
	c, err := New(classes)
	if err != nil {
		panic(err)
	}
	return c
}

// NumClasses returns the number of registered classes.
func (c *Codec) NumClasses() int { return len(c.classes) }

// Class returns the definition of class i.  The caller must not modify it.
func (c *Codec) Class(i int) ClassDef { return c.classes[i] }

// Classes returns all class definitions.  The caller must not modify them.
func (c *Codec) Classes() []ClassDef { return c.classes }

func (c *Codec) validClass(r *Record) bool {
	return r.Class >= 0 && r.Class < len(c.classes)
}

// Get returns the value of attr in r.  Resolution order: the class's declared
// offset (exact name, then lowercased), the ad-hoc map, the class prototype.
// The second result is false when none of them provides a value, or when the
// record's class is not registered.
func (c *Codec) Get(r *Record, attr string) (any, bool) {
	if !c.validClass(r) {
		return nil, false
	}
	if off, ok := c.tables[r.Class].offset(attr); ok {
		if off >= len(r.Fields) {
			return nil, false
		}
		v := r.Fields[off]
		return v, v != nil
	}
	if v, ok := r.Extra[attr]; ok {
		return v, true
	}
	if v, ok := c.classes[r.Class].Proto[attr]; ok {
		return v, true
	}
	return nil, false
}

// Set stores v as attr of r: into the declared offset when the class declares
// attr, otherwise into the ad-hoc map, which is created on demand.
func (c *Codec) Set(r *Record, attr string, v any) error {
	if !c.validClass(r) {
		return errors.E(errors.Invalid, fmt.Sprintf("arrayrepr: record class %d is not registered (%d classes)", r.Class, len(c.classes)))
	}
	if off, ok := c.tables[r.Class].offset(attr); ok {
		if n := len(c.classes[r.Class].Attributes); len(r.Fields) < n {
			r.Fields = append(r.Fields, make([]any, n-len(r.Fields))...)
		}
		r.Fields[off] = v
		return nil
	}
	if r.Extra == nil {
		r.Extra = map[string]any{}
	}
	r.Extra[attr] = v
	return nil
}

// IsArrayAttr reports whether class declares attr as an array-valued
// attribute.
func (c *Codec) IsArrayAttr(class int, attr string) bool {
	if class < 0 || class >= len(c.classes) {
		return false
	}
	cl := c.classes[class]
	if cl.IsArrayAttr[attr] {
		return true
	}
	if off, ok := c.tables[class].offset(attr); ok {
		return cl.IsArrayAttr[cl.Attributes[off]]
	}
	return false
}

// MakeGetter returns a Getter equivalent to calling Get with attr.
func (c *Codec) MakeGetter(attr string) Getter {
	return func(r *Record) (any, bool) { return c.Get(r, attr) }
}

// MakeSetter returns a Setter equivalent to calling Set with attr.
func (c *Codec) MakeSetter(attr string) Setter {
	return func(r *Record, v any) error { return c.Set(r, attr, v) }
}

// MakeFastGetter returns a Getter that reads attr from its declared offset
// only.  The per-class offsets are resolved once.  There is no ad-hoc or
// prototype fallback: the getter reports absent for records whose class does
// not declare attr.  Use it for attributes every class is known to declare,
// such as Start and End.
func (c *Codec) MakeFastGetter(attr string) Getter {
	offsets := make([]int, len(c.tables))
	for ci := range c.tables {
		offsets[ci] = -1
		if off, ok := c.tables[ci].offset(attr); ok {
			offsets[ci] = off
		}
	}
	return func(r *Record) (any, bool) {
		if r.Class < 0 || r.Class >= len(offsets) {
			return nil, false
		}
		off := offsets[r.Class]
		if off < 0 || off >= len(r.Fields) {
			return nil, false
		}
		v := r.Fields[off]
		return v, v != nil
	}
}

// IntGetter wraps g so that it returns int64 values.
func IntGetter(g Getter) func(r *Record) (int64, bool) {
	return func(r *Record) (int64, bool) {
		v, ok := g(r)
		if !ok {
			return 0, false
		}
		return Int(v)
	}
}
