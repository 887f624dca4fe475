package interval

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// NewBEDOpts defines behavior of this package's BED-loading function(s).
type NewBEDOpts struct {
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// BEDFeature is one line of a BED file, with 0-based coordinates.
type BEDFeature struct {
	Start0 PosType
	End    PosType
	// Name is the fourth column, or empty.
	Name string
	// Score is the fifth column; HasScore is false if it was absent or ".".
	Score    float64
	HasScore bool
	// Strand is 1 for "+", -1 for "-", and 0 if absent or ".".
	Strand int
}

// BEDFeatures holds the features of a BED file, grouped by chromosome.
type BEDFeatures struct {
	// Chroms lists the chromosomes in order of first appearance.
	Chroms []string
	// ByChrom maps each chromosome to its features, in file order.
	ByChrom map[string][]BEDFeature
}

// Len returns the total number of features.
func (b *BEDFeatures) Len() int {
	n := 0
	for _, feats := range b.ByChrom {
		n += len(feats)
	}
	return n
}

var (
	commentPrefix = []byte("#")
	trackPrefix   = []byte("track")
	browserPrefix = []byte("browser")
)

func parseStrand(tok []byte) (int, bool) {
	switch gunsafe.BytesToString(tok) {
	case "+":
		return 1, true
	case "-":
		return -1, true
	case ".":
		return 0, true
	}
	return 0, false
}

// NewBEDFeatures loads the features of a BED file: chromosome, start and end,
// plus the optional name, score and strand columns.  Further columns are
// ignored.  Unlike an interval union, overlapping features are kept
// separately and the input need not be sorted.  Comment, track and browser
// lines are skipped.
func NewBEDFeatures(reader io.Reader, opts NewBEDOpts) (result BEDFeatures, err error) {
	startSubtract := 0
	if opts.OneBasedInput {
		startSubtract = 1
	}
	result.ByChrom = map[string][]BEDFeature{}
	scanner := bufio.NewScanner(reader)
	var tokens [6][]byte
	lineIdx := 0
	totBases := 0
	prevChr := ""
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || bytes.HasPrefix(tokens[0], commentPrefix) ||
			bytes.Equal(tokens[0], trackPrefix) || bytes.Equal(tokens[0], browserPrefix) {
			continue
		}
		if nToken < 3 {
			err = fmt.Errorf("interval.NewBEDFeatures: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var parsedStart int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			err = fmt.Errorf("interval.NewBEDFeatures: line %d: %v", lineIdx, err)
			return
		}
		parsedStart -= startSubtract
		if parsedStart < 0 {
			err = fmt.Errorf("interval.NewBEDFeatures: negative start coordinate %s on line %d", tokens[1], lineIdx)
			return
		}
		var parsedEnd int
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			err = fmt.Errorf("interval.NewBEDFeatures: line %d: %v", lineIdx, err)
			return
		}
		if (parsedEnd < parsedStart) || (parsedEnd >= posTypeMax) {
			err = fmt.Errorf("interval.NewBEDFeatures: invalid coordinate pair on line %d", lineIdx)
			return
		}
		feat := BEDFeature{Start0: PosType(parsedStart), End: PosType(parsedEnd)}
		if nToken > 3 {
			// Copy: tokens refer to the scanner's buffer.
			feat.Name = string(tokens[3])
		}
		if nToken > 4 && gunsafe.BytesToString(tokens[4]) != "." {
			if feat.Score, err = strconv.ParseFloat(gunsafe.BytesToString(tokens[4]), 64); err != nil {
				err = fmt.Errorf("interval.NewBEDFeatures: line %d: bad score: %v", lineIdx, err)
				return
			}
			feat.HasScore = true
		}
		if nToken > 5 {
			var ok bool
			if feat.Strand, ok = parseStrand(tokens[5]); !ok {
				err = fmt.Errorf("interval.NewBEDFeatures: line %d: bad strand %q", lineIdx, tokens[5])
				return
			}
		}
		if prevChr != gunsafe.BytesToString(tokens[0]) {
			// Map keys must not alias the scanner's buffer.
			prevChr = string(tokens[0])
			if _, found := result.ByChrom[prevChr]; !found {
				result.Chroms = append(result.Chroms, prevChr)
			}
		}
		result.ByChrom[prevChr] = append(result.ByChrom[prevChr], feat)
		totBases += parsedEnd - parsedStart
	}
	if err = scanner.Err(); err != nil {
		return
	}
	log.Printf("BED loaded, %d feature(s) on %d chromosome(s), %d base(s) total.\n", result.Len(), len(result.Chroms), totBases)
	return
}

// NewBEDFeaturesFromPath is a wrapper for NewBEDFeatures that takes a path
// instead of an io.Reader.  Gzipped files are decompressed.
func NewBEDFeaturesFromPath(path string, opts NewBEDOpts) (result BEDFeatures, err error) {
	ctx := vcontext.Background()
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		if reader, err = gzip.NewReader(reader); err != nil {
			return
		}
	}
	return NewBEDFeatures(reader, opts)
}
