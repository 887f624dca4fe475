package lazyarray

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/nclist/fetch"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// fakeChunks serves chunk files "hist-N.json" holding the values
// chunk*size .. chunk*size+size-1, each multiplied by 10.
type fakeChunks struct {
	mu      sync.Mutex
	size    int
	length  int
	missing map[int]bool
	fail    map[int]bool
	reads   []string
}

func (f *fakeChunks) ReadFile(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.reads = append(f.reads, url)
	f.mu.Unlock()
	var chunk int
	if _, err := fmt.Sscanf(url[strings.LastIndex(url, "/")+1:], "hist-%d.json", &chunk); err != nil {
		return nil, err
	}
	if f.missing[chunk] {
		return nil, fetch.NotFound(url)
	}
	if f.fail[chunk] {
		return nil, fmt.Errorf("read %s: i/o error", url)
	}
	var vals []int
	for i := chunk * f.size; i < (chunk+1)*f.size && i < f.length; i++ {
		vals = append(vals, i*10)
	}
	return json.Marshal(vals)
}

func collect(t *testing.T, it *Iterator) (idx []int, vals []any) {
	for it.Scan() {
		idx = append(idx, it.Index())
		vals = append(vals, it.Value())
	}
	return idx, vals
}

func TestRange(t *testing.T) {
	src := &fakeChunks{size: 4, length: 18}
	a, err := New(Opts{URLTemplate: "hist-{Chunk}.json", ChunkSize: 4, Length: 18, Reader: src, BaseURL: "/data/ctgA/trackData.json"})
	assert.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		start, end int
		want       []int
	}{
		{2, 9, []int{2, 3, 4, 5, 6, 7, 8, 9}},
		{-5, 1, []int{0, 1}},
		{15, 100, []int{15, 16, 17}},
		{7, 7, []int{7}},
		{9, 3, nil},
	}
	for _, tt := range tests {
		it := a.Range(ctx, tt.start, tt.end)
		idx, vals := collect(t, it)
		assert.NoError(t, it.Close())
		expect.EQ(t, idx, tt.want, "range [%d,%d]", tt.start, tt.end)
		for i, v := range vals {
			expect.EQ(t, v, int64(idx[i]*10))
		}
	}
	// Chunk URLs resolve against the directory of the base URL.
	found := false
	for _, url := range src.reads {
		found = found || url == "/data/ctgA/hist-0.json"
	}
	expect.True(t, found, "reads: %v", src.reads)

	v, ok, err := a.Index(ctx, 13)
	assert.NoError(t, err)
	expect.True(t, ok)
	expect.EQ(t, v, int64(130))
	_, ok, err = a.Index(ctx, 18)
	assert.NoError(t, err)
	expect.False(t, ok)
}

func TestChunksAreCached(t *testing.T) {
	src := &fakeChunks{size: 10, length: 100}
	a, err := New(Opts{URLTemplate: "hist-{chunk}.json", ChunkSize: 10, Length: 100, Reader: src, CacheSize: 2})
	assert.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		it := a.Range(ctx, 5, 15)
		idx, _ := collect(t, it)
		assert.NoError(t, it.Close())
		expect.EQ(t, len(idx), 11)
	}
	expect.EQ(t, len(src.reads), 2)

	// Touching two other chunks evicts both cached ones.
	it := a.Range(ctx, 50, 69)
	collect(t, it)
	assert.NoError(t, it.Close())
	_, _, err = a.Index(ctx, 0)
	assert.NoError(t, err)
	expect.EQ(t, len(src.reads), 5)
}

func TestMissingAndFailingChunks(t *testing.T) {
	src := &fakeChunks{size: 4, length: 16, missing: map[int]bool{1: true}, fail: map[int]bool{3: true}}
	a, err := New(Opts{URLTemplate: "hist-{Chunk}.json", ChunkSize: 4, Length: 16, Reader: src})
	assert.NoError(t, err)
	ctx := context.Background()

	it := a.Range(ctx, 0, 11)
	idx, _ := collect(t, it)
	assert.NoError(t, it.Close())
	expect.EQ(t, idx, []int{0, 1, 2, 3, 8, 9, 10, 11})

	it = a.Range(ctx, 10, 15)
	idx, _ = collect(t, it)
	expect.EQ(t, idx, []int{10, 11})
	err = it.Close()
	expect.HasSubstr(t, err.Error(), "i/o error")
}

func TestNewErrors(t *testing.T) {
	src := &fakeChunks{}
	for _, opts := range []Opts{
		{URLTemplate: "hist-{Chunk}.json", ChunkSize: 4},
		{Reader: src, ChunkSize: 4},
		{Reader: src, URLTemplate: "hist-{Chunk}.json"},
		{Reader: src, URLTemplate: "hist.json", ChunkSize: 4},
		{Reader: src, URLTemplate: "hist-{Chunk.json", ChunkSize: 4},
	} {
		_, err := New(opts)
		expect.True(t, errors.Is(errors.Invalid, err))
	}
}
