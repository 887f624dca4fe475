package nclist

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Histogram counts the records overlapping [from, to] in numBins bins of
// equal width.  A record increments every bin from the one holding its start
// through the one holding its end, clamped to the histogram.  from and to
// may be given in either order.
func (t *Index) Histogram(ctx context.Context, from, to int64, numBins int) ([]int, error) {
	if numBins <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("nclist: histogram needs a positive number of bins, got %d", numBins))
	}
	if from > to {
		from, to = to, from
	}
	bins := make([]int, numBins)
	width := float64(to-from) / float64(numBins)
	bin := func(x int64) int {
		if width == 0 {
			return 0
		}
		b := int((float64(x - from)) / width)
		if x < from {
			b = 0
		}
		if b >= numBins {
			b = numBins - 1
		}
		return b
	}
	it := t.Iterate(ctx, from, to)
	for it.Scan() {
		start, end := t.bounds(it.Record())
		for b, last := bin(start), bin(end); b <= last; b++ {
			bins[b]++
		}
	}
	return bins, it.Close()
}
