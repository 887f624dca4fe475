// Package lazyarray reads a long JSON array that is stored as a series of
// fixed-size chunk files, fetching only the chunks a caller touches.
//
// Element i lives at offset i%ChunkSize of chunk i/ChunkSize, whose URL is
// URLTemplate with "{Chunk}" replaced by the chunk number.
package lazyarray

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/nclist/chunkcache"
	"github.com/grailbio/nclist/fetch"
)

// Opts defines the layout and source of a lazy array.
type Opts struct {
	// URLTemplate names chunk files; it must contain a {Chunk} placeholder,
	// matched case-insensitively.
	URLTemplate string
	// ChunkSize is the number of elements per chunk.  Must be positive.
	ChunkSize int
	// Length is the number of elements in the whole array.
	Length int
	// CacheSize bounds the number of resident chunks.  Defaults to
	// chunkcache.DefaultCapacity.
	CacheSize int
	// Reader fetches chunk files.  Required.
	Reader fetch.Reader
	// BaseURL, if set, is what URLTemplate is resolved against.
	BaseURL string
}

// Array is a lazily loaded array.  It is safe for concurrent use.
type Array struct {
	opts   Opts
	chunks *chunkcache.Cache[int, []any]
}

// New creates an Array.  It returns an errors.Invalid error if the options
// cannot describe a readable array.
func New(opts Opts) (*Array, error) {
	if opts.Reader == nil {
		return nil, errors.E(errors.Invalid, "lazyarray: a Reader must be provided")
	}
	if opts.URLTemplate == "" {
		return nil, errors.E(errors.Invalid, "lazyarray: empty URL template")
	}
	if !strings.Contains(strings.ToLower(opts.URLTemplate), "{chunk}") {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("lazyarray: URL template %q has no {Chunk} placeholder", opts.URLTemplate))
	}
	if opts.ChunkSize <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("lazyarray: chunk size must be positive, got %d", opts.ChunkSize))
	}
	a := &Array{opts: opts}
	a.chunks = chunkcache.New(opts.CacheSize, a.readChunk)
	return a, nil
}

// Len returns the number of elements in the array.
func (a *Array) Len() int { return a.opts.Length }

// ChunkSize returns the number of elements per chunk.
func (a *Array) ChunkSize() int { return a.opts.ChunkSize }

func (a *Array) readChunk(ctx context.Context, chunk int) ([]any, error) {
	url, err := fetch.ChunkURL(a.opts.BaseURL, a.opts.URLTemplate, chunk)
	if err != nil {
		return nil, err
	}
	v, err := fetch.ReadJSON(ctx, a.opts.Reader, url, []any{})
	if err != nil {
		log.Error.Printf("lazyarray: reading chunk %d from %s: %v", chunk, url, err)
		return nil, err
	}
	data, ok := v.([]any)
	if !ok {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("lazyarray: chunk %s is not an array", url))
	}
	return data, nil
}

// Range returns an iterator over the elements with indexes in [start, end],
// clamped to the array bounds.  The needed chunks are requested at once and
// consumed in order, so elements are produced in ascending index order.
// Elements past the end of a short or missing chunk are skipped.
func (a *Array) Range(ctx context.Context, start, end int) *Iterator {
	if start < 0 {
		start = 0
	}
	if end > a.opts.Length-1 {
		end = a.opts.Length - 1
	}
	ctx, cancel := context.WithCancel(ctx)
	it := &Iterator{ctx: ctx, cancel: cancel, array: a, start: start, end: end, pos: -1}
	if start > end {
		return it
	}
	first, last := start/a.opts.ChunkSize, end/a.opts.ChunkSize
	for chunk := first; chunk <= last; chunk++ {
		it.pending = append(it.pending, pendingChunk{chunk: chunk, future: a.chunks.GetAsync(ctx, chunk)})
	}
	return it
}

// Index returns element i.  The second result is false if i is out of range
// or the chunk holding it is short.
func (a *Array) Index(ctx context.Context, i int) (any, bool, error) {
	if i < 0 || i >= a.opts.Length {
		return nil, false, nil
	}
	it := a.Range(ctx, i, i)
	defer it.Close() // nolint: errcheck
	if it.Scan() {
		return it.Value(), true, nil
	}
	return nil, false, it.Err()
}

type pendingChunk struct {
	chunk  int
	future *chunkcache.Future[[]any]
}

// Iterator yields (index, value) pairs of a lazy array range.  Thread
// compatible.
type Iterator struct {
	ctx        context.Context
	cancel     context.CancelFunc
	array      *Array
	start, end int
	pending    []pendingChunk

	data       []any // chunk being consumed
	dataOffset int   // array index of data[0]
	pos        int   // array index of the current element
	value      any
	err        error
}

// Scan advances to the next element.  It returns false at the end of the
// range or on error; see Err.
func (it *Iterator) Scan() bool {
	if it.err != nil {
		return false
	}
	for {
		next := it.pos + 1
		if next < it.start {
			next = it.start
		}
		if next > it.end {
			return false
		}
		if it.data != nil && next-it.dataOffset < it.array.opts.ChunkSize {
			if i := next - it.dataOffset; i < len(it.data) {
				it.pos = next
				it.value = it.data[i]
				return true
			}
			// Short chunk: skip to the start of the next one.
			it.pos = it.dataOffset + it.array.opts.ChunkSize - 1
			it.data = nil
			continue
		}
		if len(it.pending) == 0 {
			return false
		}
		p := it.pending[0]
		it.pending = it.pending[1:]
		data, err := p.future.Wait(it.ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.dataOffset = p.chunk * it.array.opts.ChunkSize
		it.data = data
		if it.pos < it.dataOffset-1 {
			it.pos = it.dataOffset - 1
		}
		if data == nil {
			// A missing chunk contributes no elements.
			it.data = []any{}
		}
	}
}

// Index returns the array index of the current element.
func (it *Iterator) Index() int { return it.pos }

// Value returns the current element.
func (it *Iterator) Value() any { return it.value }

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Close releases the iterator.  Chunk fetches that nobody else awaits are
// cancelled.  It returns Err().
func (it *Iterator) Close() error {
	it.cancel()
	return it.err
}
