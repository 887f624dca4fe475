package featurestore

import (
	"context"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/nclist/arrayrepr"
	"github.com/grailbio/nclist/fetch"
	"github.com/grailbio/nclist/nclist"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var geneClasses = []arrayrepr.ClassDef{
	{
		Attributes:  []string{"Start", "End", "Strand", "Name", "Subfeatures"},
		IsArrayAttr: map[string]bool{"Subfeatures": true},
	},
	{Attributes: []string{"Start", "End", "Strand", "Type"}},
}

func randomGenes(seed int64, n int) []*arrayrepr.Record {
	r := rand.New(rand.NewSource(seed))
	recs := make([]*arrayrepr.Record, n)
	for i := range recs {
		start := r.Int63n(5000)
		end := start + 1 + r.Int63n(400)
		var subs any
		if i%10 == 0 {
			subs = []*arrayrepr.Record{
				{Class: 1, Fields: []any{start, start + 1, int64(1), "exon"}},
				{Class: 1, Fields: []any{end - 1, end, int64(1), "exon"}},
			}
		}
		recs[i] = &arrayrepr.Record{Class: 0, Fields: []any{start, end, int64(1), fmt.Sprintf("gene%d", i), subs}}
	}
	return recs
}

type span struct {
	name       string
	start, end int64
}

func spans(recs []*arrayrepr.Record) []span {
	out := make([]span, len(recs))
	for i, r := range recs {
		out[i] = span{r.Fields[3].(string), r.Fields[0].(int64), r.Fields[1].(int64)}
	}
	return out
}

func overlapping(all []span, start, end int64) []string {
	var names []string
	for _, s := range all {
		if s.start < end && s.end > start {
			names = append(names, s.name)
		}
	}
	sort.Strings(names)
	return names
}

func queryNames(t *testing.T, s *Store, q Query) []string {
	ctx := vcontext.Background()
	var names []string
	ids := map[string]bool{}
	it := s.GetFeatures(ctx, q)
	for it.Scan() {
		f := it.Feature()
		name, ok := f.Get("name")
		require.True(t, ok)
		names = append(names, name.(string))
		expect.False(t, ids[f.ID()], "duplicate id %s", f.ID())
		ids[f.ID()] = true
		start, _ := f.Get("start")
		expect.EQ(t, start, f.Start())
		expect.True(t, f.Start() < q.End && f.End() > q.Start)
	}
	assert.NoError(t, it.Close())
	sort.Strings(names)
	return names
}

func TestNewErrors(t *testing.T) {
	_, err := New(Opts{URLTemplate: "{refseq}/trackData.json"})
	expect.True(t, errors.Is(errors.Invalid, err))
	_, err = New(Opts{Reader: fetch.FileReader{}})
	expect.True(t, errors.Is(errors.Invalid, err))
}

func TestWriteAndQuery(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()

	for _, compress := range []bool{false, true} {
		genes := randomGenes(1, 400)
		all := spans(genes)
		root := filepath.Join(tmpDir, fmt.Sprintf("compress-%v", compress))
		err := WriteTrack(ctx, filepath.Join(root, "ctgA"), genes, geneClasses, WriteOpts{
			ChunkSize:     25,
			Compress:      compress,
			BasesPerBin:   100,
			HistChunkSize: 7,
		})
		assert.NoError(t, err)

		ext := ".json"
		if compress {
			ext = ".jsonz"
		}
		_, err = os.Stat(filepath.Join(root, "ctgA", "lf-0"+ext))
		assert.NoError(t, err)

		s, err := New(Opts{BaseURL: root + "/", URLTemplate: "{refseq}/trackData" + ext, Reader: fetch.FileReader{}, CacheSize: 4})
		assert.NoError(t, err)
		for _, q := range []Query{
			{"ctgA", 0, 6000},
			{"ctgA", 1000, 1200},
			{"ctgA", 4990, 5001},
			{"ctgA", 2500, 2501},
			{"ctgA", 7000, 8000},
		} {
			expect.EQ(t, queryNames(t, s, q), overlapping(all, q.Start, q.End), "compress=%v query %+v", compress, q)
		}

		stats, err := s.RegionStats(ctx, "ctgA")
		assert.NoError(t, err)
		expect.EQ(t, stats.FeatureCount, int64(400))
		require.Len(t, stats.Histograms, 1)
		expect.EQ(t, stats.Histograms[0].BasesPerBin, 100.0)
	}
}

func TestSubfeatures(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	genes := randomGenes(2, 50)
	assert.NoError(t, WriteTrack(ctx, filepath.Join(tmpDir, "ctgB"), genes, geneClasses, WriteOpts{}))
	s, err := New(Opts{BaseURL: tmpDir + "/", URLTemplate: "{refseq}/trackData.json", Reader: fetch.FileReader{}})
	assert.NoError(t, err)

	withSubs := 0
	it := s.GetFeatures(ctx, Query{"ctgB", 0, 10000})
	for it.Scan() {
		f := it.Feature()
		subs := f.Subfeatures()
		if subs == nil {
			_, ok := f.Get("subfeatures")
			expect.False(t, ok)
			continue
		}
		withSubs++
		require.Len(t, subs, 2)
		expect.EQ(t, subs[1].ID(), f.ID()+"-1")
		typ, ok := subs[0].Get("type")
		expect.True(t, ok)
		expect.EQ(t, typ, "exon")
		expect.EQ(t, subs[0].Start(), f.Start())
		expect.EQ(t, subs[1].End(), f.End())
	}
	assert.NoError(t, it.Close())
	expect.EQ(t, withSubs, 5)
}

// volvoxTrack is a hand-written track in the layout produced by JBrowse's
// flatfile-to-json.pl.
const volvoxTrack = `{
  "featureCount": 1,
  "formatVersion": 1,
  "intervals": {
    "classes": [
      {"attributes": ["Start", "End", "Strand", "Source", "Seq_id", "Name", "Type", "Subfeatures"], "isArrayAttr": {"Subfeatures": 1}},
      {"attributes": ["Start", "End", "Strand", "Type"], "isArrayAttr": {}},
      {"attributes": ["Start", "End", "Chunk"], "isArrayAttr": {}}
    ],
    "lazyClass": 2,
    "maxEnd": 9000,
    "minStart": 1049,
    "nclist": [[0, 1049, 9000, 1, "example", "ctgA", "EDEN", "gene",
                [[1, 1049, 1200, 1, "exon"], [1, 3000, 3902, 1, "exon"]]]],
    "urlTemplate": "lf-{Chunk}.json"
  }
}`

func TestHandWrittenTrack(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	assert.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "volvox", "ctgA"), 0777))
	assert.NoError(t, ioutil.WriteFile(filepath.Join(tmpDir, "volvox", "ctgA", "trackData.json"), []byte(volvoxTrack), 0666))
	ctx := vcontext.Background()

	s, err := New(Opts{BaseURL: "file://" + tmpDir + "/", URLTemplate: "volvox/{refseq}/trackData.json", Reader: fetch.DefaultReader()})
	assert.NoError(t, err)
	var features []*Feature
	it := s.GetFeatures(ctx, Query{"ctgA", 0, 50000})
	for it.Scan() {
		features = append(features, it.Feature())
	}
	assert.NoError(t, it.Close())
	require.Len(t, features, 1)
	f := features[0]
	for _, field := range []string{"start", "Start", "START"} {
		v, ok := f.Get(field)
		expect.True(t, ok)
		expect.EQ(t, v, int64(1049))
	}
	_, ok := f.Get("zonker")
	expect.False(t, ok)
	expect.EQ(t, f.ID(), "ctgA,0,0")
	expect.EQ(t, f.Tags(), []string{"Start", "End", "Strand", "Source", "Seq_id", "Name", "Type", "Subfeatures"})
	subs := f.Subfeatures()
	require.Len(t, subs, 2)
	expect.EQ(t, subs[1].Start(), int64(3000))

	// Unknown reference sequences have no features.
	it = s.GetFeatures(ctx, Query{"ctgZ", 0, 50000})
	expect.False(t, it.Scan())
	assert.NoError(t, it.Close())
	stats, err := s.RegionStats(ctx, "ctgZ")
	assert.NoError(t, err)
	expect.EQ(t, stats.FeatureCount, int64(0))
}

func TestMalformedTrack(t *testing.T) {
	reader := fetch.ReaderFunc(func(ctx context.Context, url string) ([]byte, error) {
		return []byte(`{"intervals": {"classes": [{"attributes": ["Start", "End"]}], "nclist": [[3, 1, 2]]}}`), nil
	})
	s, err := New(Opts{URLTemplate: "{refseq}.json", Reader: reader})
	assert.NoError(t, err)
	it := s.GetFeatures(context.Background(), Query{"ctgA", 0, 10})
	expect.False(t, it.Scan())
	err = it.Close()
	expect.True(t, errors.Is(errors.Integrity, err))
	expect.HasSubstr(t, err.Error(), "ctgA.json")
}

func TestRegionDensities(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	genes := randomGenes(3, 300)
	all := spans(genes)
	assert.NoError(t, WriteTrack(ctx, filepath.Join(tmpDir, "ctgA"), genes, geneClasses, WriteOpts{BasesPerBin: 100, HistChunkSize: 4}))
	s, err := New(Opts{BaseURL: tmpDir + "/", URLTemplate: "{refseq}/trackData.json", Reader: fetch.FileReader{}})
	assert.NoError(t, err)

	// 200 bases per bin: two precomputed bins each.
	d, err := s.RegionDensities(ctx, Query{"ctgA", 1000, 3000}, 10)
	assert.NoError(t, err)
	require.NotNil(t, d.Stats)
	expect.EQ(t, d.Stats.BasesPerBin, 100.0)
	expect.EQ(t, d.BasesPerBin, 200.0)
	for i, got := range d.Bins {
		var want float64
		for b := int64(0); b < 2; b++ {
			lo := 1000 + int64(i)*200 + b*100
			want += float64(len(overlapping(all, lo, lo+100)))
		}
		expect.EQ(t, got, want, "bin %d", i)
	}

	// 250 bases per bin is not a multiple: counted from the features.
	d, err = s.RegionDensities(ctx, Query{"ctgA", 1000, 3500}, 10)
	assert.NoError(t, err)
	expect.True(t, d.Stats == nil)
	idx := nclist.New(nclist.Opts{})
	assert.NoError(t, idx.Fill(randomGenes(3, 300), arrayrepr.MustNew(geneClasses)))
	want, err := idx.Histogram(ctx, 1000, 3500, 10)
	assert.NoError(t, err)
	for i := range want {
		expect.EQ(t, d.Bins[i], float64(want[i]), "bin %d", i)
	}

	_, err = s.RegionDensities(ctx, Query{"ctgA", 0, 100}, 0)
	expect.True(t, errors.Is(errors.Invalid, err))
}

// countingFS serves a directory over HTTP and counts track data requests.
type countingFS struct {
	mu     sync.Mutex
	tracks int
	h      http.Handler
}

func (c *countingFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "trackData.json") {
		c.mu.Lock()
		c.tracks++
		c.mu.Unlock()
	}
	c.h.ServeHTTP(w, r)
}

func TestConcurrentQueriesOverHTTP(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	genes := randomGenes(4, 500)
	all := spans(genes)
	assert.NoError(t, WriteTrack(ctx, filepath.Join(tmpDir, "ctgA"), genes, geneClasses, WriteOpts{ChunkSize: 10}))

	fs := &countingFS{h: http.FileServer(http.Dir(tmpDir))}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	s, err := New(Opts{BaseURL: srv.URL + "/", URLTemplate: "{refseq}/trackData.json", Reader: fetch.DefaultReader()})
	assert.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := int64(i * 300)
			results[i] = queryNames(t, s, Query{"ctgA", start, start + 250})
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		start := int64(i * 300)
		expect.EQ(t, got, overlapping(all, start, start+250), "query %d", i)
	}
	fs.mu.Lock()
	expect.EQ(t, fs.tracks, 1)
	fs.mu.Unlock()

	it := s.GetFeatures(ctx, Query{"chrMissing", 0, 100})
	expect.False(t, it.Scan())
	assert.NoError(t, it.Close())
}
