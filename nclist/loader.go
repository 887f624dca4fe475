package nclist

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/nclist/fetch"
)

// Loader produces the content of a deferred chunk: a level of records,
// either as []*arrayrepr.Record or as generic JSON ([]any of record arrays).
type Loader interface {
	LoadChunk(ctx context.Context, id int) (any, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id int) (any, error)

// LoadChunk implements Loader.
func (f LoaderFunc) LoadChunk(ctx context.Context, id int) (any, error) { return f(ctx, id) }

// URLLoader loads chunk files named by a URL template such as
// "lf-{Chunk}.json".  Missing chunk files load as empty levels.
type URLLoader struct {
	reader      fetch.Reader
	baseURL     string
	urlTemplate string
}

// NewURLLoader creates a URLLoader.  urlTemplate is resolved against
// baseURL after substitution.  It returns an errors.Invalid error when
// reader is nil or urlTemplate is empty.
func NewURLLoader(reader fetch.Reader, baseURL, urlTemplate string) (*URLLoader, error) {
	if reader == nil {
		return nil, errors.E(errors.Invalid, "nclist: a Reader must be provided")
	}
	if urlTemplate == "" {
		return nil, errors.E(errors.Invalid, "nclist: empty chunk URL template")
	}
	return &URLLoader{reader: reader, baseURL: baseURL, urlTemplate: urlTemplate}, nil
}

// LoadChunk implements Loader.
func (l *URLLoader) LoadChunk(ctx context.Context, id int) (any, error) {
	url, err := fetch.ChunkURL(l.baseURL, l.urlTemplate, id)
	if err != nil {
		return nil, err
	}
	return fetch.ReadJSON(ctx, l.reader, url, []any{})
}
