package nclist

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/chunkcache"
)

type pendingChunk struct {
	id     int
	future *chunkcache.Future[*arena]
}

// frame is the traversal state of one level.
type frame struct {
	tree  *arena
	level []*arrayrepr.Record
	path  []int
	i     int
	// scanning is false once the level's overlapping run is exhausted; the
	// frame then drains pending in encounter order.
	scanning bool
	pending  []pendingChunk
}

// Iterator yields the records of an index that overlap a query range.
// Thread compatible.
//
// Within each level the overlapping records are visited in level order
// (reversed for a descending query); a record is produced before the
// records of its sublist.  Records held in deferred chunks are produced
// after the rest of the level that references the chunk, chunk by chunk in
// the order the markers were met.  Markers themselves are never produced.
type Iterator struct {
	t        *Index
	ctx      context.Context
	cancel   context.CancelFunc
	from, to int64
	inc      int

	stack []*frame
	rec   *arrayrepr.Record
	path  []int
	err   error
}

// Iterate returns an iterator over records r with Start(r) < to and
// End(r) > from.  If from > to, the range [to, from] is searched and each
// level is visited in descending order.  Deferred chunks met during the
// traversal are fetched concurrently.  Closing the iterator, or cancelling
// ctx, abandons pending fetches.
func (t *Index) Iterate(ctx context.Context, from, to int64) *Iterator {
	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{t: t, ctx: ctx, cancel: cancel, from: from, to: to, inc: 1}
	if from > to {
		it.inc = -1
	}
	if t.codec != nil {
		it.push(t.tree, 0, []int{0})
	}
	return it
}

func (it *Iterator) push(tree *arena, ref LevelRef, path []int) {
	level := tree.levels[ref]
	if len(level) == 0 {
		return
	}
	it.stack = append(it.stack, &frame{
		tree:     tree,
		level:    level,
		path:     path,
		i:        it.search(level),
		scanning: true,
	})
}

// search returns the index of the first record of level to visit.  For an
// ascending query that is the first record with End > from; for a
// descending one, the last record with Start < from.  Both tests are strict,
// not End >= from or Start <= from: coordinates are half-open, so a record
// that merely touches from does not overlap.  The result may be out of
// range when there is none.
func (it *Iterator) search(level []*arrayrepr.Record) int {
	low, high := -1, len(level)
	for high-low > 1 {
		mid := int(uint(low+high) >> 1)
		start, end := it.t.bounds(level[mid])
		var right bool
		if it.inc > 0 {
			right = end > it.from
		} else {
			right = start >= it.from
		}
		if right {
			high = mid
		} else {
			low = mid
		}
	}
	if it.inc > 0 {
		return high
	}
	return low
}

// overlaps reports whether r intersects the query range.  The binary search
// already placed the scan on the correct side of the near bound, so only
// the far bound is tested.
func (it *Iterator) overlaps(r *arrayrepr.Record) bool {
	start, end := it.t.bounds(r)
	if it.inc > 0 {
		return start < it.to
	}
	return end > it.to
}

// Scan advances to the next overlapping record.  It returns false when the
// traversal is complete or has failed; see Err.
func (it *Iterator) Scan() bool {
	for it.err == nil && len(it.stack) > 0 {
		f := it.stack[len(it.stack)-1]
		if f.scanning {
			if f.i >= 0 && f.i < len(f.level) && it.overlaps(f.level[f.i]) {
				i := f.i
				r := f.level[i]
				f.i += it.inc
				path := appendPath(f.path, i)
				emit := true
				if it.t.isLazy(r) {
					id, ok := it.t.chunkOf(r)
					if !ok {
						it.err = errors.E(errors.Integrity, fmt.Sprintf("nclist: deferred record at %v has no %s", path, ChunkAttr))
						return false
					}
					f.pending = append(f.pending, pendingChunk{id: int(id), future: it.t.chunks.GetAsync(it.ctx, int(id))})
					emit = false
				}
				if ref, ok := it.t.sublistRef(r); ok {
					it.push(f.tree, ref, path)
				}
				if emit {
					it.rec, it.path = r, path
					return true
				}
				continue
			}
			f.scanning = false
		}
		if len(f.pending) > 0 {
			p := f.pending[0]
			f.pending = f.pending[1:]
			chunk, err := p.future.Wait(it.ctx)
			if err != nil {
				it.err = err
				return false
			}
			it.push(chunk, 0, appendPath(f.path, p.id))
			continue
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	it.rec, it.path = nil, nil
	return false
}

func appendPath(path []int, i int) []int {
	p := make([]int, len(path), len(path)+1)
	copy(p, path)
	return append(p, i)
}

// Record returns the current record.
func (it *Iterator) Record() *arrayrepr.Record { return it.rec }

// Path returns the position of the current record: 0, then the index in each
// enclosing level, with a chunk's number standing in for the level it
// replaces.  The caller may retain the slice.
func (it *Iterator) Path() []int { return it.path }

// Err returns the error that stopped the traversal, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the iterator and returns Err().
func (it *Iterator) Close() error {
	it.cancel()
	return it.err
}
