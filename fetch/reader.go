// Package fetch reads track and chunk files from local paths, registered
// grailbio file schemes, or HTTP servers, and decodes their JSON content.
package fetch

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Reader is the capability to read the full contents of a URL or path.
// Implementations report a missing resource with an error for which
// IsNotFound returns true.
type Reader interface {
	ReadFile(ctx context.Context, url string) ([]byte, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(ctx context.Context, url string) ([]byte, error)

// ReadFile implements Reader.
func (f ReaderFunc) ReadFile(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// NotFound returns an errors.NotExist error for url.  Custom Readers may use
// it to signal a missing resource.
func NotFound(url string) error {
	return errors.E(errors.NotExist, fmt.Sprintf("fetch %s: not found", url))
}

// IsNotFound reports whether err denotes a missing file or an HTTP 404.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(errors.NotExist, err) || os.IsNotExist(err) || goerrors.Is(err, os.ErrNotExist)
}

// FileReader reads through github.com/grailbio/base/file, so it handles
// local paths and any scheme registered with that package.  "file://" URLs
// are converted to local paths.
type FileReader struct{}

// ReadFile implements Reader.
func (FileReader) ReadFile(ctx context.Context, path string) (data []byte, err error) {
	if strings.HasPrefix(path, "file://") {
		u, perr := url.Parse(path)
		if perr != nil {
			return nil, errors.E(errors.Invalid, path, perr)
		}
		path = u.Path
	}
	in, err := file.Open(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			return nil, errors.E(errors.NotExist, path, err)
		}
		return nil, errors.E(err, path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	data, err = io.ReadAll(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, path)
	}
	return data, nil
}

// HTTPReader reads http and https URLs.  A 404 status is reported as
// errors.NotExist.
type HTTPReader struct {
	// Client is used for requests.  http.DefaultClient is used if nil.
	Client *http.Client
}

// ReadFile implements Reader.
func (r HTTPReader) ReadFile(ctx context.Context, url string) ([]byte, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.E(errors.Invalid, url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.E(err, url)
	}
	defer resp.Body.Close() // nolint: errcheck
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NotFound(url)
	case resp.StatusCode/100 != 2:
		return nil, errors.E(fmt.Sprintf("fetch %s: HTTP status %s", url, resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(err, url)
	}
	return data, nil
}

// Router dispatches http(s) URLs to HTTP and everything else to File.
type Router struct {
	HTTP Reader
	File Reader
}

// ReadFile implements Reader.
func (r Router) ReadFile(ctx context.Context, url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return r.HTTP.ReadFile(ctx, url)
	}
	return r.File.ReadFile(ctx, url)
}

// DefaultReader returns a Router over HTTPReader and FileReader.
func DefaultReader() Reader {
	return Router{HTTP: HTTPReader{}, File: FileReader{}}
}
