package query

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	qs "github.com/google/go-querystring/query"
)

// Key identifies a cached query.
type Key struct {
	// Path is the request path, including its query string.
	Path string

	// Params adds structural identity beyond the path (see Options.Vary).
	Params url.Values
}

// NewKey builds a key for path. vary may be nil, a url.Values, or a struct
// with `url` tags; its encoded fields become part of the key.
func NewKey(path string, vary any) (Key, error) {
	key := Key{Path: path}
	if vary == nil {
		return key, nil
	}

	if v, ok := vary.(url.Values); ok {
		if len(v) > 0 {
			key.Params = v
		}
		return key, nil
	}

	params, err := qs.Values(vary)
	if err != nil {
		return Key{}, fmt.Errorf("encode key params: %w", err)
	}
	if len(params) > 0 {
		key.Params = params
	}
	return key, nil
}

// pathEscaper keeps a path from rendering like a key with params.
var pathEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// String generates a deterministic key string.
// Format: query:<path>[:param1=val1:param2=val2]
//
// "%" and ":" in the path and every param name and value are
// percent-encoded, so distinct keys never share a string.
//
// Example:
//
//	query:/items?page=2:tenant=acme
func (k Key) String() string {
	parts := []string{"query", pathEscaper.Replace(k.Path)}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := make([]string, len(k.Params[name]))
			for i, v := range k.Params[name] {
				values[i] = url.QueryEscape(v)
			}
			parts = append(parts, fmt.Sprintf("%s=%s", url.QueryEscape(name), strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}

// Equal reports whether two keys have the same identity.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}
