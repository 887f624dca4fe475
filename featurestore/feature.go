package featurestore

import (
	"context"
	"strconv"
	"strings"

	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/nclist"
)

// Feature is a record of a track viewed through its class's accessors.
type Feature struct {
	rec        *arrayrepr.Record
	codec      *arrayrepr.Codec
	acc        *arrayrepr.Accessors
	id         string
	start, end int64
}

func newFeature(rec *arrayrepr.Record, codec *arrayrepr.Codec, id string) *Feature {
	acc := codec.Accessors()
	f := &Feature{rec: rec, codec: codec, acc: acc, id: id}
	if v, ok := acc.Get(rec, nclist.StartAttr); ok {
		f.start, _ = arrayrepr.Int(v)
	}
	if v, ok := acc.Get(rec, nclist.EndAttr); ok {
		f.end, _ = arrayrepr.Int(v)
	}
	return f
}

// Get returns the value of field, matched case-insensitively against the
// attributes of the feature's class.
func (f *Feature) Get(field string) (any, bool) {
	if strings.EqualFold(field, nclist.SublistAttr) {
		return nil, false
	}
	return f.acc.Get(f.rec, field)
}

// Tags returns the attribute names of the feature's class.
func (f *Feature) Tags() []string { return f.acc.Tags(f.rec) }

// ID returns an identifier that is unique within the store.
func (f *Feature) ID() string { return f.id }

// Start returns the feature's start coordinate.
func (f *Feature) Start() int64 { return f.start }

// End returns the feature's end coordinate.
func (f *Feature) End() int64 { return f.end }

// Record returns the underlying record.  The caller must not modify it.
func (f *Feature) Record() *arrayrepr.Record { return f.rec }

// Subfeatures returns the features nested in the Subfeatures attribute, or
// nil if there are none or they are not records.
func (f *Feature) Subfeatures() []*Feature {
	v, ok := f.acc.Get(f.rec, "Subfeatures")
	if !ok {
		return nil
	}
	recs, err := f.codec.DecodeList(v)
	if err != nil {
		return nil
	}
	subs := make([]*Feature, len(recs))
	for i, r := range recs {
		subs[i] = newFeature(r, f.codec, f.id+"-"+strconv.Itoa(i))
	}
	return subs
}

// FeatureIterator yields the features of a query.  Thread compatible.
type FeatureIterator struct {
	store   *Store
	ctx     context.Context
	query   Query
	started bool

	track   *track
	it      *nclist.Iterator
	feature *Feature
	err     error
}

// Scan advances to the next feature.  It returns false at the end of the
// query or on error; see Err.
func (fi *FeatureIterator) Scan() bool {
	if fi.err != nil {
		return false
	}
	if !fi.started {
		fi.started = true
		if fi.track, fi.err = fi.store.track(fi.ctx, fi.query.RefName); fi.err != nil {
			return false
		}
		if fi.track.codec == nil {
			return false
		}
		fi.it = fi.track.index.Iterate(fi.ctx, fi.query.Start, fi.query.End)
	}
	if fi.it == nil {
		return false
	}
	if !fi.it.Scan() {
		fi.err = fi.it.Err()
		fi.feature = nil
		return false
	}
	fi.feature = newFeature(fi.it.Record(), fi.track.codec, featureID(fi.query.RefName, fi.it.Path()))
	return true
}

func featureID(refName string, path []int) string {
	var b strings.Builder
	b.WriteString(refName)
	for _, p := range path {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(p))
	}
	return b.String()
}

// Feature returns the current feature.
func (fi *FeatureIterator) Feature() *Feature { return fi.feature }

// Err returns the error that stopped the iteration, if any.
func (fi *FeatureIterator) Err() error { return fi.err }

// Close releases the iterator and returns Err().
func (fi *FeatureIterator) Close() error {
	if fi.it != nil {
		fi.it.Close() // nolint: errcheck
	}
	return fi.err
}
