package featurestore

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// Densities is a feature-density histogram of a region.
type Densities struct {
	// Bins[i] counts the features over the i'th of the equal-width bins.
	Bins []float64
	// BasesPerBin is the width of a bin.
	BasesPerBin float64
	// Stats describes the precomputed histogram the bins were summed from;
	// nil when they were counted from the features.
	Stats *BinStats
}

// RegionDensities returns a numBins-bin density histogram of [q.Start,
// q.End).  When the track has a precomputed histogram whose bin width
// divides the requested one, the bins are summed from it; otherwise they
// are counted from the overlapping features.
func (s *Store) RegionDensities(ctx context.Context, q Query, numBins int) (Densities, error) {
	if numBins <= 0 {
		return Densities{}, errors.E(errors.Invalid, fmt.Sprintf("featurestore: need a positive number of bins, got %d", numBins))
	}
	if q.Start > q.End {
		q.Start, q.End = q.End, q.Start
	}
	t, err := s.track(ctx, q.RefName)
	if err != nil {
		return Densities{}, err
	}
	d := Densities{
		Bins:        make([]float64, numBins),
		BasesPerBin: float64(q.End-q.Start) / float64(numBins),
	}

	var hist *histogram
	for i := range t.histograms {
		h := &t.histograms[i]
		if d.BasesPerBin >= h.basesPerBin && (hist == nil || h.basesPerBin > hist.basesPerBin) {
			hist = h
		}
	}
	if hist != nil {
		ratio := d.BasesPerBin / hist.basesPerBin
		if ratio > 0.9 && math.Abs(ratio-math.Round(ratio)) < 0.0001 {
			if err := t.sumHistogram(ctx, hist, int(math.Round(ratio)), q.Start, &d); err != nil {
				return Densities{}, err
			}
			return d, nil
		}
	}

	if t.codec == nil {
		return d, nil
	}
	counts, err := t.index.Histogram(ctx, q.Start, q.End, numBins)
	if err != nil {
		return Densities{}, err
	}
	for i, c := range counts {
		d.Bins[i] = float64(c)
	}
	return d, nil
}

// sumHistogram fills d.Bins by adding up runs of ratio bins of h.
func (t *track) sumHistogram(ctx context.Context, h *histogram, ratio int, start int64, d *Densities) error {
	first := int(math.Floor(float64(start) / h.basesPerBin))
	it := h.counts.Range(ctx, first, first+ratio*len(d.Bins)-1)
	for it.Scan() {
		bin := (it.Index() - first) / ratio
		if bin < 0 || bin >= len(d.Bins) {
			continue
		}
		if v, ok := number(it.Value()); ok {
			d.Bins[bin] += v
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	for i := range t.stats {
		if t.stats[i].BasesPerBin == h.basesPerBin {
			st := t.stats[i]
			d.Stats = &st
			break
		}
	}
	return nil
}

// TrackStats summarizes the track of one reference sequence.
type TrackStats struct {
	FeatureCount     int64
	MinStart, MaxEnd int64
	Histograms       []BinStats
}

// RegionStats returns the summary of refName's track.  A reference sequence
// without track data has zero features.
func (s *Store) RegionStats(ctx context.Context, refName string) (TrackStats, error) {
	t, err := s.track(ctx, refName)
	if err != nil {
		return TrackStats{}, err
	}
	return TrackStats{
		FeatureCount: t.featureCount,
		MinStart:     t.minStart,
		MaxEnd:       t.maxEnd,
		Histograms:   append([]BinStats(nil), t.stats...),
	}, nil
}
