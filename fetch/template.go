package fetch

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandTemplate replaces each "{name}" placeholder in tmpl with vars[name].
// Names are matched case-insensitively.  Placeholders without a value are
// left in place.
func ExpandTemplate(tmpl string, vars map[string]string) string {
	lower := make(map[string]string, len(vars))
	for k, v := range vars {
		lower[strings.ToLower(k)] = v
	}
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(m string) string {
		if v, ok := lower[strings.ToLower(m[1:len(m)-1])]; ok {
			return v
		}
		return m
	})
}

// Resolve resolves ref against base.  URLs with a scheme follow RFC 3986;
// plain paths are resolved relative to the directory of base.  An empty base
// returns ref unchanged.
func Resolve(base, ref string) (string, error) {
	if base == "" {
		return ref, nil
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", errors.E(errors.Invalid, "fetch: bad URL", ref, err)
	}
	if refURL.Scheme != "" {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errors.E(errors.Invalid, "fetch: bad base URL", base, err)
	}
	if baseURL.Scheme != "" && len(baseURL.Scheme) > 1 {
		return baseURL.ResolveReference(refURL).String(), nil
	}
	if strings.HasPrefix(ref, "/") {
		return ref, nil
	}
	dir := base
	if !strings.HasSuffix(base, "/") {
		dir = path.Dir(base)
	}
	return path.Join(dir, ref), nil
}

// ChunkURL expands the {Chunk} placeholder of tmpl and resolves the result
// against base.
func ChunkURL(base, tmpl string, chunk int) (string, error) {
	return Resolve(base, ExpandTemplate(tmpl, map[string]string{"Chunk": strconv.Itoa(chunk)}))
}
