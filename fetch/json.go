package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
)

// ReadJSON reads url with r and decodes its JSON content.  A missing
// resource yields defaultContent and no error; any other read failure is
// returned as is.  Gzip-compressed content (e.g. ".jsonz" files) is
// decompressed transparently.
func ReadJSON(ctx context.Context, r Reader, url string, defaultContent any) (any, error) {
	data, err := r.ReadFile(ctx, url)
	if err != nil {
		if IsNotFound(err) {
			if log.At(log.Debug) {
				log.Debug.Printf("fetch: %s not found, using default content", url)
			}
			return defaultContent, nil
		}
		return nil, err
	}
	return DecodeJSON(data, url)
}

// DecodeJSON parses data, which may be gzip-compressed.  Numbers become
// int64 when integral and float64 otherwise; objects become map[string]any
// and arrays []any.  name is used in error messages.  Malformed input yields
// an errors.Integrity error.
func DecodeJSON(data []byte, name string) (any, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fetch %s: bad gzip header", name), err)
		}
		if data, err = io.ReadAll(zr); err != nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fetch %s: gunzip", name), err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("fetch %s: malformed JSON", name), err)
	}
	if dec.More() {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("fetch %s: trailing data after JSON value", name))
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
	}
	return v
}

// WriteJSON encodes v to w, gzip-compressing it when compress is set.
func WriteJSON(w io.Writer, v any, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(v)
	}
	zw := gzip.NewWriter(w)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		zw.Close() // nolint: errcheck
		return err
	}
	return zw.Close()
}
