package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/featurestore"
	"github.com/grailbio/nclist/fetch"
	"github.com/grailbio/nclist/interval"
)

// bedClasses describes the records built from BED lines.
var bedClasses = []arrayrepr.ClassDef{
	{Attributes: []string{"Start", "End", "Strand", "Name", "Score"}},
}

type buildOpts struct {
	outDir      string
	chunkSize   int
	compress    bool
	basesPerBin int64
	oneBased    bool
}

type storeOpts struct {
	baseURL   string
	template  string
	cacheSize int
}

func bedRecords(feats []interval.BEDFeature) []*arrayrepr.Record {
	recs := make([]*arrayrepr.Record, len(feats))
	for i, f := range feats {
		var score any
		if f.HasScore {
			score = f.Score
		}
		var name any
		if f.Name != "" {
			name = f.Name
		}
		recs[i] = &arrayrepr.Record{
			Class:  0,
			Fields: []any{int64(f.Start0), int64(f.End), int64(f.Strand), name, score},
		}
	}
	return recs
}

func build(ctx context.Context, opts buildOpts, bedPath string) error {
	bed, err := interval.NewBEDFeaturesFromPath(bedPath, interval.NewBEDOpts{OneBasedInput: opts.oneBased})
	if err != nil {
		return err
	}
	for _, chr := range bed.Chroms {
		dir := strings.TrimSuffix(opts.outDir, "/") + "/" + chr
		err := featurestore.WriteTrack(ctx, dir, bedRecords(bed.ByChrom[chr]), bedClasses, featurestore.WriteOpts{
			ChunkSize:   opts.chunkSize,
			Compress:    opts.compress,
			BasesPerBin: opts.basesPerBin,
		})
		if err != nil {
			return fmt.Errorf("build %s: %v", chr, err)
		}
	}
	log.Printf("bio-nclist: built %d track(s) in %s", len(bed.Chroms), opts.outDir)
	return nil
}

func newStore(opts storeOpts) (*featurestore.Store, error) {
	return featurestore.New(featurestore.Opts{
		BaseURL:     opts.baseURL,
		URLTemplate: opts.template,
		Reader:      fetch.DefaultReader(),
		CacheSize:   opts.cacheSize,
	})
}

func parseQuery(region string) (featurestore.Query, error) {
	e, err := interval.ParseRegionString(region)
	if err != nil {
		return featurestore.Query{}, err
	}
	return featurestore.Query{RefName: e.ChrName, Start: int64(e.Start0), End: int64(e.End)}, nil
}

// featureLine is the JSON form of a feature printed by query.
type featureLine struct {
	Region string         `json:"region"`
	ID     string         `json:"id"`
	Start  int64          `json:"start"`
	End    int64          `json:"end"`
	Fields map[string]any `json:"fields,omitempty"`
}

func query(ctx context.Context, w io.Writer, opts storeOpts, regions []string) error {
	store, err := newStore(opts)
	if err != nil {
		return err
	}
	queries := make([]featurestore.Query, len(regions))
	for i, region := range regions {
		if queries[i], err = parseQuery(region); err != nil {
			return err
		}
	}
	outs := make([]bytes.Buffer, len(regions))
	err = traverse.Each(len(regions), func(i int) error {
		enc := json.NewEncoder(&outs[i])
		it := store.GetFeatures(ctx, queries[i])
		for it.Scan() {
			f := it.Feature()
			line := featureLine{Region: regions[i], ID: f.ID(), Start: f.Start(), End: f.End(), Fields: map[string]any{}}
			for _, tag := range f.Tags() {
				if v, ok := f.Get(tag); ok && tag != "Start" && tag != "End" {
					line.Fields[tag] = v
				}
			}
			if err := enc.Encode(line); err != nil {
				it.Close() // nolint: errcheck
				return err
			}
		}
		if err := it.Close(); err != nil {
			return fmt.Errorf("query %s: %v", regions[i], err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range outs {
		if _, err := outs[i].WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}

// histogramLine is the JSON form printed by histogram.
type histogramLine struct {
	Region      string                 `json:"region"`
	BasesPerBin float64                `json:"basesPerBin"`
	Bins        []float64              `json:"bins"`
	Stats       *featurestore.BinStats `json:"stats,omitempty"`
}

func histogram(ctx context.Context, w io.Writer, opts storeOpts, region string, bins int) error {
	store, err := newStore(opts)
	if err != nil {
		return err
	}
	q, err := parseQuery(region)
	if err != nil {
		return err
	}
	d, err := store.RegionDensities(ctx, q, bins)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(histogramLine{Region: region, BasesPerBin: d.BasesPerBin, Bins: d.Bins, Stats: d.Stats})
}
