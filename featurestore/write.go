package featurestore

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/fetch"
	"github.com/grailbio/nclist/nclist"
)

// FormatVersion is written to every trackData.json.
const FormatVersion = 1

// DefaultHistChunkSize is the number of histogram bins per chunk file when
// WriteOpts.HistChunkSize is not set.
const DefaultHistChunkSize = 10000

// WriteOpts controls the layout of a written track.
type WriteOpts struct {
	// ChunkSize, if positive, moves runs of ChunkSize top-level features
	// (with everything they contain) into separate chunk files.
	ChunkSize int
	// Compress gzips every file and names it ".jsonz".
	Compress bool
	// BasesPerBin, if positive, adds a precomputed density histogram with
	// bins of this width.
	BasesPerBin int64
	// HistChunkSize is the number of histogram bins per file.
	HistChunkSize int
	// Parallelism bounds concurrent file writes.  Defaults to the number of
	// CPUs.
	Parallelism int
}

type trackData struct {
	FeatureCount  int             `json:"featureCount"`
	FormatVersion int             `json:"formatVersion"`
	Intervals     intervalsData   `json:"intervals"`
	Histograms    *histogramsData `json:"histograms,omitempty"`
}

type intervalsData struct {
	Classes     []arrayrepr.ClassDef `json:"classes"`
	LazyClass   *int                 `json:"lazyClass,omitempty"`
	NCList      []*arrayrepr.Record  `json:"nclist"`
	URLTemplate string               `json:"urlTemplate,omitempty"`
	MinStart    int64                `json:"minStart"`
	MaxEnd      int64                `json:"maxEnd"`
}

type histogramsData struct {
	Meta  []histogramMeta  `json:"meta"`
	Stats []histogramStats `json:"stats"`
}

type histogramMeta struct {
	BasesPerBin int64       `json:"basesPerBin"`
	ArrayParams arrayParams `json:"arrayParams"`
}

type arrayParams struct {
	URLTemplate string `json:"urlTemplate"`
	ChunkSize   int    `json:"chunkSize"`
	Length      int    `json:"length"`
}

type histogramStats struct {
	BasesPerBin int64   `json:"basesPerBin"`
	Max         int     `json:"max"`
	Mean        float64 `json:"mean"`
}

type writeJob struct {
	name string
	v    any
}

// WriteTrack writes features as a track in dir: trackData.json plus any
// chunk files.  A Store whose URL template names dir's trackData.json reads
// it back.  Every feature must have integer Start and End attributes.
// features is reordered, and their Sublist attributes are overwritten.
func WriteTrack(ctx context.Context, dir string, features []*arrayrepr.Record, classes []arrayrepr.ClassDef, opts WriteOpts) error {
	ext := ".json"
	if opts.Compress {
		ext = ".jsonz"
	}
	classes = append([]arrayrepr.ClassDef(nil), classes...)
	lazyClass := nclist.NoLazyClass
	if opts.ChunkSize > 0 {
		lazyClass = len(classes)
		classes = append(classes, arrayrepr.ClassDef{Attributes: []string{nclist.StartAttr, nclist.EndAttr, nclist.ChunkAttr}})
	}
	codec, err := arrayrepr.New(classes)
	if err != nil {
		return err
	}
	index := nclist.New(nclist.Opts{})
	if err := index.Fill(features, codec); err != nil {
		return err
	}
	top, chunks, err := index.Export(lazyClass, opts.ChunkSize)
	if err != nil {
		return err
	}

	start := arrayrepr.IntGetter(codec.MakeFastGetter(nclist.StartAttr))
	end := arrayrepr.IntGetter(codec.MakeFastGetter(nclist.EndAttr))
	data := trackData{
		FeatureCount:  len(features),
		FormatVersion: FormatVersion,
		Intervals:     intervalsData{Classes: classes, NCList: top},
	}
	if data.Intervals.NCList == nil {
		data.Intervals.NCList = []*arrayrepr.Record{}
	}
	for i, f := range features {
		s, _ := start(f)
		e, _ := end(f)
		if i == 0 || s < data.Intervals.MinStart {
			data.Intervals.MinStart = s
		}
		if i == 0 || e > data.Intervals.MaxEnd {
			data.Intervals.MaxEnd = e
		}
	}

	var jobs []writeJob
	if lazyClass != nclist.NoLazyClass {
		data.Intervals.LazyClass = &lazyClass
		data.Intervals.URLTemplate = "lf-{Chunk}" + ext
		for id, level := range chunks {
			jobs = append(jobs, writeJob{name: fmt.Sprintf("lf-%d%s", id, ext), v: level})
		}
	}
	if opts.BasesPerBin > 0 && len(features) > 0 {
		bins := countBins(features, start, end, opts.BasesPerBin, data.Intervals.MaxEnd)
		chunkSize := opts.HistChunkSize
		if chunkSize <= 0 {
			chunkSize = DefaultHistChunkSize
		}
		prefix := fmt.Sprintf("hist-%d-", opts.BasesPerBin)
		stats := histogramStats{BasesPerBin: opts.BasesPerBin}
		total := 0
		for _, c := range bins {
			total += c
			if c > stats.Max {
				stats.Max = c
			}
		}
		stats.Mean = float64(total) / float64(len(bins))
		data.Histograms = &histogramsData{
			Meta: []histogramMeta{{
				BasesPerBin: opts.BasesPerBin,
				ArrayParams: arrayParams{URLTemplate: prefix + "{Chunk}" + ext, ChunkSize: chunkSize, Length: len(bins)},
			}},
			Stats: []histogramStats{stats},
		}
		for id := 0; id*chunkSize < len(bins); id++ {
			chunk := bins[id*chunkSize : min((id+1)*chunkSize, len(bins))]
			jobs = append(jobs, writeJob{name: fmt.Sprintf("%s%d%s", prefix, id, ext), v: chunk})
		}
	}
	jobs = append(jobs, writeJob{name: "trackData" + ext, v: data})

	if !strings.Contains(dir, "://") {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errors.E(err, dir)
		}
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(jobs) {
		parallelism = len(jobs)
	}
	err = traverse.Each(parallelism, func(worker int) error {
		for i := worker; i < len(jobs); i += parallelism {
			path := strings.TrimSuffix(dir, "/") + "/" + jobs[i].name
			if err := writeJSONFile(ctx, path, jobs[i].v, opts.Compress); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("featurestore: wrote %d features to %s: %d top-level records, %d chunk files",
		len(features), dir, len(top), len(jobs)-1)
	return nil
}

// countBins counts, for each bin of width basesPerBin over [0, maxEnd), the
// features overlapping it.
func countBins(features []*arrayrepr.Record, start, end func(*arrayrepr.Record) (int64, bool), basesPerBin, maxEnd int64) []int {
	n := int(maxEnd/basesPerBin) + 1
	bins := make([]int, n)
	for _, f := range features {
		s, _ := start(f)
		e, _ := end(f)
		first, last := s/basesPerBin, (e-1)/basesPerBin
		if first < 0 {
			first = 0
		}
		if last < first {
			last = first
		}
		if last >= int64(n) {
			last = int64(n) - 1
		}
		for b := first; b <= last; b++ {
			bins[b]++
		}
	}
	return bins
}

func writeJSONFile(ctx context.Context, path string, v any, compress bool) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = fetch.WriteJSON(out.Writer(ctx), v, compress); err != nil {
		return errors.E(err, path)
	}
	return nil
}
