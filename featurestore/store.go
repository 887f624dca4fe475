// Package featurestore serves range queries over feature tracks stored in
// the JBrowse NCList layout: one trackData.json per reference sequence,
// holding the record classes, the top level of the containment list, and
// optional precomputed density histograms, with deferred parts of the list
// and of the histograms in separate chunk files.
package featurestore

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/chunkcache"
	"github.com/grailbio/nclist/fetch"
	"github.com/grailbio/nclist/lazyarray"
	"github.com/grailbio/nclist/nclist"
)

// DefaultTrackCacheSize is the number of reference sequences whose track
// data is kept loaded when Opts.TrackCacheSize is not set.
const DefaultTrackCacheSize = 20

// Opts defines where a store finds its track data.
type Opts struct {
	// BaseURL is what URLTemplate is resolved against.  It may be a URL,
	// a local directory ending in "/", or empty.
	BaseURL string
	// URLTemplate names the trackData.json of a reference sequence; it
	// should contain a {refseq} placeholder.  Required.
	URLTemplate string
	// Reader fetches track and chunk files.  Required; see
	// fetch.DefaultReader.
	Reader fetch.Reader
	// CacheSize bounds the resident chunks of each containment list and
	// histogram.  Defaults to chunkcache.DefaultCapacity.
	CacheSize int
	// TrackCacheSize bounds the number of loaded reference sequences.
	// Defaults to DefaultTrackCacheSize.
	TrackCacheSize int
}

// Query selects the features of RefName that overlap [Start, End).
type Query struct {
	RefName    string
	Start, End int64
}

// BinStats summarizes a precomputed histogram.
type BinStats struct {
	BasesPerBin float64
	Max, Mean   float64
}

// Store reads feature tracks.  It is safe for concurrent use.
type Store struct {
	opts   Opts
	tracks *chunkcache.Cache[string, *track]
}

type histogram struct {
	basesPerBin float64
	counts      *lazyarray.Array
}

// track is the loaded trackData.json of one reference sequence.
type track struct {
	refName      string
	url          string
	featureCount int64
	minStart     int64
	maxEnd       int64
	codec        *arrayrepr.Codec
	index        *nclist.Index
	histograms   []histogram
	stats        []BinStats
}

// New creates a Store.  It returns an errors.Invalid error when opts lacks a
// Reader or a URL template.
func New(opts Opts) (*Store, error) {
	if opts.Reader == nil {
		return nil, errors.E(errors.Invalid, "featurestore: a Reader must be provided")
	}
	if opts.URLTemplate == "" {
		return nil, errors.E(errors.Invalid, "featurestore: empty URL template")
	}
	if opts.TrackCacheSize <= 0 {
		opts.TrackCacheSize = DefaultTrackCacheSize
	}
	s := &Store{opts: opts}
	s.tracks = chunkcache.New(opts.TrackCacheSize, s.loadTrack)
	return s, nil
}

// TrackURL returns the location of the trackData.json of refName.
func (s *Store) TrackURL(refName string) (string, error) {
	ref := fetch.ExpandTemplate(s.opts.URLTemplate, map[string]string{
		"refseq":         refName,
		"refseq_dirpath": refName,
	})
	return fetch.Resolve(s.opts.BaseURL, ref)
}

func (s *Store) track(ctx context.Context, refName string) (*track, error) {
	return s.tracks.Get(ctx, refName)
}

func (s *Store) loadTrack(ctx context.Context, refName string) (*track, error) {
	url, err := s.TrackURL(refName)
	if err != nil {
		return nil, err
	}
	v, err := fetch.ReadJSON(ctx, s.opts.Reader, url, map[string]any{})
	if err != nil {
		log.Error.Printf("featurestore: reading %s: %v", url, err)
		return nil, err
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("featurestore: %s: track data must be an object, got %T", url, v))
	}
	t := &track{refName: refName, url: url, index: nclist.New(nclist.Opts{})}
	t.featureCount, _ = arrayrepr.Int(root["featureCount"])
	if intervals, ok := root["intervals"].(map[string]any); ok {
		if err := s.loadIntervals(t, intervals); err != nil {
			return nil, errors.E(err, fmt.Sprintf("featurestore: %s: intervals", url))
		}
	}
	if hists, ok := root["histograms"].(map[string]any); ok {
		if err := s.loadHistograms(t, hists); err != nil {
			return nil, errors.E(err, fmt.Sprintf("featurestore: %s: histograms", url))
		}
	}
	if log.At(log.Debug) {
		log.Debug.Printf("featurestore: loaded %s: %d features, %d histograms", url, t.featureCount, len(t.histograms))
	}
	return t, nil
}

func (s *Store) loadIntervals(t *track, intervals map[string]any) error {
	classes, err := arrayrepr.DecodeClasses(intervals["classes"])
	if err != nil {
		return err
	}
	if t.codec, err = arrayrepr.New(classes); err != nil {
		return err
	}
	t.minStart, _ = arrayrepr.Int(intervals["minStart"])
	t.maxEnd, _ = arrayrepr.Int(intervals["maxEnd"])

	lazyClass := nclist.NoLazyClass
	opts := nclist.Opts{CacheSize: s.opts.CacheSize}
	if c, ok := arrayrepr.Int(intervals["lazyClass"]); ok {
		lazyClass = int(c)
		if tmpl, _ := intervals["urlTemplate"].(string); tmpl != "" {
			if opts.Loader, err = nclist.NewURLLoader(s.opts.Reader, t.url, tmpl); err != nil {
				return err
			}
		}
	}
	t.index = nclist.New(opts)
	return t.index.ImportExisting(intervals["nclist"], t.codec, lazyClass)
}

func (s *Store) loadHistograms(t *track, hists map[string]any) error {
	meta, _ := hists["meta"].([]any)
	for i, m := range meta {
		entry, ok := m.(map[string]any)
		if !ok {
			return errors.E(errors.Integrity, fmt.Sprintf("meta %d is not an object", i))
		}
		params, _ := entry["arrayParams"].(map[string]any)
		bpb, ok := number(entry["basesPerBin"])
		if !ok || bpb <= 0 || params == nil {
			return errors.E(errors.Integrity, fmt.Sprintf("meta %d: need positive basesPerBin and arrayParams", i))
		}
		tmpl, _ := params["urlTemplate"].(string)
		chunkSize, _ := arrayrepr.Int(params["chunkSize"])
		length, _ := arrayrepr.Int(params["length"])
		counts, err := lazyarray.New(lazyarray.Opts{
			URLTemplate: tmpl,
			ChunkSize:   int(chunkSize),
			Length:      int(length),
			CacheSize:   s.opts.CacheSize,
			Reader:      s.opts.Reader,
			BaseURL:     t.url,
		})
		if err != nil {
			return errors.E(err, fmt.Sprintf("meta %d", i))
		}
		t.histograms = append(t.histograms, histogram{basesPerBin: bpb, counts: counts})
	}
	stats, _ := hists["stats"].([]any)
	for _, st := range stats {
		entry, ok := st.(map[string]any)
		if !ok {
			continue
		}
		var b BinStats
		b.BasesPerBin, _ = number(entry["basesPerBin"])
		b.Max, _ = number(entry["max"])
		b.Mean, _ = number(entry["mean"])
		t.stats = append(t.stats, b)
	}
	return nil
}

// number converts a decoded JSON number to float64.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return float64(x), true
	}
	i, ok := arrayrepr.Int(v)
	return float64(i), ok
}

// GetFeatures returns an iterator over the features of q.RefName that
// overlap [q.Start, q.End).  A reference sequence without track data has
// no features.
func (s *Store) GetFeatures(ctx context.Context, q Query) *FeatureIterator {
	return &FeatureIterator{store: s, ctx: ctx, query: q}
}
