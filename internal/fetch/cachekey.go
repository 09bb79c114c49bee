// Package fetch downloads dataset partitions over HTTP with a
// content-addressed on-disk cache and bounded parallelism.
package fetch

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// fingerprintLen is the number of hex characters in a cache fingerprint.
const fingerprintLen = 12

// Spec identifies one partition request. Every field that affects the
// response payload participates in the cache fingerprint, so any change in
// endpoint, window, projection, or filter yields a distinct cache entry.
type Spec struct {
	// Endpoint is the full partition endpoint URL, without query parameters.
	Endpoint string

	// StreamKey identifies the dataset.
	StreamKey string

	// Limit is the caller-requested overall limit (-1 when unset).
	Limit int

	// Offset and Count delimit the partition's row range.
	Offset int
	Count  int

	// Fields is the optional projection, in request order.
	Fields []string

	// Query is the canonical serialized filter object, empty when absent.
	Query string
}

// Fingerprint returns the 12-hex-character cache key for the spec.
// Identical specs always produce identical fingerprints.
func (s Spec) Fingerprint() string {
	var b strings.Builder
	b.WriteString(s.Endpoint)
	b.WriteByte('|')
	b.WriteString(s.StreamKey)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Limit))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Offset))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Count))
	b.WriteByte('|')
	b.WriteString(strings.Join(s.Fields, ","))
	b.WriteByte('|')
	b.WriteString(s.Query)

	sum := xxhash.Sum64String(b.String())
	return fmt.Sprintf("%016x", sum)[:fingerprintLen]
}

// RequestURL builds the partition request with skip/limit pagination, the
// compressed-transfer flag, and optional projection and filter parameters.
func (s Spec) RequestURL() string {
	v := url.Values{}
	v.Set("skip", strconv.Itoa(s.Offset))
	v.Set("limit", strconv.Itoa(s.Count))
	v.Set("compressed_file", "true")
	for _, f := range s.Fields {
		v.Add("fields", f)
	}
	if s.Query != "" {
		v.Set("query", s.Query)
	}
	return s.Endpoint + "?" + v.Encode()
}
