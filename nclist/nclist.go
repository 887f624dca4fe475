package nclist

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/chunkcache"
)

// Attribute names the index reads and writes through the codec.
const (
	StartAttr   = "Start"
	EndAttr     = "End"
	ChunkAttr   = "Chunk"
	SublistAttr = "Sublist"
)

// NoLazyClass is passed to ImportExisting when the tree has no deferred
// chunks.
const NoLazyClass = -1

// LevelRef identifies one level of a tree.  The top level is always 0.
type LevelRef int

// arena holds all levels of one tree, or of one loaded chunk.
type arena struct {
	levels [][]*arrayrepr.Record
}

func (a *arena) newLevel(recs []*arrayrepr.Record) LevelRef {
	a.levels = append(a.levels, recs)
	return LevelRef(len(a.levels) - 1)
}

// Opts configures an Index.
type Opts struct {
	// CacheSize bounds the number of resident deferred chunks.  Defaults to
	// chunkcache.DefaultCapacity.
	CacheSize int
	// Loader fetches deferred chunks.  Required for trees imported with a
	// lazy class.
	Loader Loader
}

// Index is a nested containment list.  It is built once, by Fill or
// ImportExisting, after which any number of goroutines may query it.
type Index struct {
	opts  Opts
	codec *arrayrepr.Codec

	start, end func(*arrayrepr.Record) (int64, bool)
	chunkOf    func(*arrayrepr.Record) (int64, bool)
	sublistOf  arrayrepr.Getter
	setSublist arrayrepr.Setter

	lazyClass int
	tree      *arena
	chunks    *chunkcache.Cache[int, *arena]
}

// New creates an empty index.
func New(opts Opts) *Index {
	t := &Index{opts: opts, lazyClass: NoLazyClass, tree: &arena{levels: [][]*arrayrepr.Record{nil}}}
	t.chunks = chunkcache.New(opts.CacheSize, t.loadChunk)
	return t
}

func (t *Index) setCodec(codec *arrayrepr.Codec) {
	t.codec = codec
	t.start = arrayrepr.IntGetter(codec.MakeFastGetter(StartAttr))
	t.end = arrayrepr.IntGetter(codec.MakeFastGetter(EndAttr))
	t.chunkOf = arrayrepr.IntGetter(codec.MakeGetter(ChunkAttr))
	t.sublistOf = codec.MakeGetter(SublistAttr)
	t.setSublist = codec.MakeSetter(SublistAttr)
}

// Codec returns the codec the index was built with, or nil before the index
// is built.
func (t *Index) Codec() *arrayrepr.Codec { return t.codec }

// LazyClass returns the class of deferred-chunk markers, or NoLazyClass.
func (t *Index) LazyClass() int { return t.lazyClass }

// bounds returns the start and end of r.  Missing coordinates read as zero.
func (t *Index) bounds(r *arrayrepr.Record) (start, end int64) {
	start, _ = t.start(r)
	end, _ = t.end(r)
	return start, end
}

func (t *Index) isLazy(r *arrayrepr.Record) bool {
	return t.lazyClass != NoLazyClass && r.Class == t.lazyClass
}

type sortItem struct {
	rec        *arrayrepr.Record
	start, end int64
}

// Fill builds the index from records, replacing any previous content.  The
// records are sorted in place and their Sublist attributes are overwritten.
// Each record must belong to a class of codec that declares integer Start
// and End attributes; ad-hoc and prototype values are not consulted.
// Otherwise Fill returns an errors.Invalid error and the
// index is unchanged.
func (t *Index) Fill(records []*arrayrepr.Record, codec *arrayrepr.Codec) error {
	start := arrayrepr.IntGetter(codec.MakeFastGetter(StartAttr))
	end := arrayrepr.IntGetter(codec.MakeFastGetter(EndAttr))
	items := make([]sortItem, len(records))
	for i, r := range records {
		if r.Class < 0 || r.Class >= codec.NumClasses() {
			return errors.E(errors.Invalid, fmt.Sprintf("nclist: record %d has unregistered class %d", i, r.Class))
		}
		s, ok := start(r)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("nclist: record %d (class %d) has no integer %s", i, r.Class, StartAttr))
		}
		e, ok := end(r)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("nclist: record %d (class %d) has no integer %s", i, r.Class, EndAttr))
		}
		items[i] = sortItem{rec: r, start: s, end: e}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].start != items[j].start {
			return items[i].start < items[j].start
		}
		return items[i].end > items[j].end
	})
	for i := range items {
		records[i] = items[i].rec
	}

	t.setCodec(codec)
	t.lazyClass = NoLazyClass
	tree := &arena{levels: [][]*arrayrepr.Record{nil}}
	for _, it := range items {
		t.clearSublist(it.rec)
	}
	if len(items) == 0 {
		t.tree = tree
		return nil
	}

	// Each level records the index of the item that owns it, so that a
	// level's container can be tested against the next item.
	type open struct {
		level LevelRef
		owner int
	}
	cur := open{level: 0, owner: -1}
	var stack []open
	tree.levels[0] = append(tree.levels[0], items[0].rec)
	for i := 1; i < len(items); i++ {
		prev := i - 1
		if items[i].end < items[prev].end {
			stack = append(stack, cur)
			cur = open{level: tree.newLevel([]*arrayrepr.Record{items[i].rec}), owner: prev}
			if err := t.setSublist(items[prev].rec, cur.level); err != nil {
				return err
			}
			continue
		}
		for {
			if cur.owner < 0 || items[cur.owner].end > items[i].end {
				tree.levels[cur.level] = append(tree.levels[cur.level], items[i].rec)
				break
			}
			cur, stack = stack[len(stack)-1], stack[:len(stack)-1]
		}
	}
	t.tree = tree
	if log.At(log.Debug) {
		log.Debug.Printf("nclist: filled %d records into %d levels", len(items), len(tree.levels))
	}
	return nil
}

func (t *Index) clearSublist(r *arrayrepr.Record) {
	if r.Extra != nil {
		delete(r.Extra, SublistAttr)
	}
	if _, ok := t.sublistOf(r); ok {
		_ = t.setSublist(r, nil)
	}
}

// ImportExisting adopts a tree that was built elsewhere, typically decoded
// from JSON.  nclist is the top level, as []*arrayrepr.Record or as generic
// JSON; nested Sublist attributes may use either form as well.  Records of
// class lazyClass are deferred-chunk markers; pass NoLazyClass if there are
// none.  A tree with markers requires Opts.Loader.
func (t *Index) ImportExisting(nclist any, codec *arrayrepr.Codec, lazyClass int) error {
	if lazyClass != NoLazyClass {
		if lazyClass < 0 || lazyClass >= codec.NumClasses() {
			return errors.E(errors.Invalid, fmt.Sprintf("nclist: lazy class %d is not registered (%d classes)", lazyClass, codec.NumClasses()))
		}
		if t.opts.Loader == nil {
			return errors.E(errors.Invalid, "nclist: a Loader must be provided for trees with deferred chunks")
		}
	}
	t.setCodec(codec)
	tree, err := t.flatten(nclist)
	if err != nil {
		return err
	}
	t.lazyClass = lazyClass
	t.tree = tree
	return nil
}

// flatten copies a nested tree into a new arena.  The input records are
// cloned, so the caller (or a Loader) may hand the same records over again.
func (t *Index) flatten(top any) (*arena, error) {
	a := &arena{}
	var visit func(v any) (LevelRef, error)
	visit = func(v any) (LevelRef, error) {
		decoded, err := t.codec.DecodeList(v)
		if err != nil {
			return 0, err
		}
		recs := make([]*arrayrepr.Record, len(decoded))
		for i, r := range decoded {
			if r == nil {
				return 0, errors.E(errors.Invalid, fmt.Sprintf("nclist: nil record at offset %d", i))
			}
			recs[i] = r.Clone()
		}
		ref := a.newLevel(recs)
		for _, r := range recs {
			sub, ok := t.sublistOf(r)
			if !ok {
				continue
			}
			if _, done := sub.(LevelRef); done {
				return 0, errors.E(errors.Invalid, "nclist: record already belongs to another index")
			}
			child, err := visit(sub)
			if err != nil {
				return 0, err
			}
			if len(a.levels[child]) == 0 {
				t.clearSublist(r)
				continue
			}
			if err := t.setSublist(r, child); err != nil {
				return 0, err
			}
		}
		return ref, nil
	}
	if _, err := visit(top); err != nil {
		return nil, err
	}
	return a, nil
}

func (t *Index) loadChunk(ctx context.Context, id int) (*arena, error) {
	if t.opts.Loader == nil {
		return nil, errors.E(errors.Invalid, "nclist: no Loader for deferred chunks")
	}
	v, err := t.opts.Loader.LoadChunk(ctx, id)
	if err != nil {
		log.Error.Printf("nclist: loading chunk %d: %v", id, err)
		return nil, errors.E(err, fmt.Sprintf("nclist: chunk %d", id))
	}
	a, err := t.flatten(v)
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("nclist: chunk %d", id))
	}
	if log.At(log.Debug) {
		log.Debug.Printf("nclist: loaded chunk %d: %d records at top level, %d levels", id, len(a.levels[0]), len(a.levels))
	}
	return a, nil
}

// TopLevel returns the records of the top level, in order.  The caller must
// not modify the slice.
func (t *Index) TopLevel() []*arrayrepr.Record { return t.tree.levels[0] }

// Sublist returns the records directly contained by r, a record of the top
// level or of a sublist of this index.  It does not follow deferred chunks.
func (t *Index) Sublist(r *arrayrepr.Record) []*arrayrepr.Record {
	if t.codec == nil {
		return nil
	}
	if ref, ok := t.sublistRef(r); ok {
		return t.tree.levels[ref]
	}
	return nil
}

func (t *Index) sublistRef(r *arrayrepr.Record) (LevelRef, bool) {
	v, ok := t.sublistOf(r)
	if !ok {
		return 0, false
	}
	ref, ok := v.(LevelRef)
	return ref, ok
}

// ChunkStats returns the deferred-chunk cache counters.
func (t *Index) ChunkStats() chunkcache.Stats { return t.chunks.Stats() }
