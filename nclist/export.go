package nclist

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/nclist/arrayrepr"
)

// Export returns the tree in nested form, ready to be serialized: copies of
// the records whose Sublist attributes hold []*arrayrepr.Record.
//
// If chunkSize > 0, the top level is cut into runs of chunkSize records.
// Each run is returned in chunks under a new chunk number and replaced in
// the top level by a record of lazyClass whose Start, End and Chunk
// attributes give the run's extent and number.  lazyClass must declare
// those attributes.
func (t *Index) Export(lazyClass, chunkSize int) (top []*arrayrepr.Record, chunks map[int][]*arrayrepr.Record, err error) {
	if t.codec == nil {
		return nil, nil, nil
	}
	level := t.exportLevel(t.tree.levels[0])
	if chunkSize <= 0 {
		return level, nil, nil
	}
	if lazyClass < 0 || lazyClass >= t.codec.NumClasses() {
		return nil, nil, errors.E(errors.Invalid, fmt.Sprintf("nclist: lazy class %d is not registered (%d classes)", lazyClass, t.codec.NumClasses()))
	}
	chunks = map[int][]*arrayrepr.Record{}
	for i := 0; i < len(level); i += chunkSize {
		run := level[i:min(i+chunkSize, len(level))]
		id := len(chunks)
		chunks[id] = run
		minStart, _ := t.start(run[0])
		var maxEnd int64
		for j, r := range run {
			if end, _ := t.end(r); j == 0 || end > maxEnd {
				maxEnd = end
			}
		}
		marker := &arrayrepr.Record{Class: lazyClass}
		for _, kv := range []struct {
			attr string
			v    int64
		}{{StartAttr, minStart}, {EndAttr, maxEnd}, {ChunkAttr, int64(id)}} {
			if err := t.codec.Set(marker, kv.attr, kv.v); err != nil {
				return nil, nil, err
			}
		}
		top = append(top, marker)
	}
	return top, chunks, nil
}

func (t *Index) exportLevel(level []*arrayrepr.Record) []*arrayrepr.Record {
	out := make([]*arrayrepr.Record, len(level))
	for i, r := range level {
		c := r.Clone()
		if ref, ok := t.sublistRef(r); ok {
			_ = t.setSublist(c, t.exportLevel(t.tree.levels[ref]))
		}
		out[i] = c
	}
	return out
}
