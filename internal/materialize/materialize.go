// Package materialize reassembles fetched partition files into the caller's
// requested output shape: in-memory rows, or per-partition files in one of
// several encodings.
//
// Partitions complete in arbitrary order, so no output form guarantees row
// order; callers sort by the platform's row identity column when order
// matters.
package materialize

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/fusionbase/fusionbase-go/internal/fetch"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsupportedFormat indicates a file format with no encoder on this
// platform.
var ErrUnsupportedFormat = errors.New("materialize: unsupported output format")

// Rows decompresses every partition file and concatenates the decoded rows.
func Rows(paths []string) ([]map[string]any, error) {
	var rows []map[string]any
	for _, path := range paths {
		doc, err := fetch.ReadDocument(path)
		if err != nil {
			return nil, err
		}
		for _, raw := range doc.Data {
			var row map[string]any
			if err := jsonCodec.Unmarshal(raw, &row); err != nil {
				return nil, fmt.Errorf("materialize: decode row in %s: %w", path, err)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
