// Package keys derives stable identity strings from resource descriptors.
//
// The same key is used as the cache key, the deduplication key, and (through its
// resource segment) the queue grouping key, so two descriptors that describe the
// same request always produce the same string regardless of parameter order.
//
// Key layout:
//
//	<resource>[/<id>][?<sorted, escaped params>]
//
// Parameter strings longer than MaxParamsLength are replaced by a "#" followed by
// the hex xxhash of the encoded parameters so keys stay bounded.
package keys

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MaxParamsLength bounds the encoded parameter section of a key.
const MaxParamsLength = 128

// Descriptor identifies a remote resource request.
type Descriptor struct {
	Resource string
	ID       string
	Params   map[string]string
}

// For returns a descriptor for resource, optionally narrowed to one id.
func For(resource string, id ...string) Descriptor {
	d := Descriptor{Resource: resource}
	if len(id) > 0 {
		d.ID = id[0]
	}
	return d
}

// With returns a copy of d with an additional parameter.
func (d Descriptor) With(name, value string) Descriptor {
	params := make(map[string]string, len(d.Params)+1)
	for k, v := range d.Params {
		params[k] = v
	}
	params[name] = value
	d.Params = params
	return d
}

// Key returns the stable identity string for d.
func (d Descriptor) Key() string {
	var b strings.Builder
	b.WriteString(d.Resource)
	if d.ID != "" {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(d.ID))
	}
	if len(d.Params) == 0 {
		return b.String()
	}

	values := make(url.Values, len(d.Params))
	for k, v := range d.Params {
		values.Set(k, v)
	}
	// Encode sorts by key
	encoded := values.Encode()
	if len(encoded) > MaxParamsLength {
		b.WriteByte('#')
		b.WriteString(strconv.FormatUint(xxhash.Sum64String(encoded), 16))
		return b.String()
	}
	b.WriteByte('?')
	b.WriteString(encoded)
	return b.String()
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.Key()
}

// Resource extracts the resource segment from a key built by Descriptor.Key.
func Resource(key string) string {
	if i := strings.IndexAny(key, "/?#"); i >= 0 {
		return key[:i]
	}
	return key
}
