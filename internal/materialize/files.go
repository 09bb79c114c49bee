package materialize

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/fusionbase/fusionbase-go/internal/fetch"
	"github.com/fusionbase/fusionbase-go/internal/store"
)

// Format selects the encoding for file-based materialization.
type Format int

// Supported file encodings. JSON is the universal fallback; Binary is a
// MessagePack document holding the partition's row list.
const (
	FormatJSON Format = iota
	FormatCSV
	FormatParquet
	FormatBinary
)

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatCSV:
		return ".csv"
	case FormatParquet:
		return ".parquet"
	case FormatBinary:
		return ".msgpack"
	default:
		return ""
	}
}

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	case FormatParquet:
		return "parquet"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// WriteFiles encodes each partition file into its own output file under
// <streamKey>/data/ in the target store. File names carry the partition
// fingerprint and an "unordered" marker: global row order across files is the
// caller's concern.
//
// Encoding is CPU-bound, so partitions are converted on a bounded worker
// pool.
func WriteFiles(ctx context.Context, partPaths []string, streamKey string, format Format, target store.Store, workers int) error {
	switch format {
	case FormatJSON, FormatCSV, FormatParquet, FormatBinary:
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range partPaths {
		path := path
		g.Go(func() error {
			fp := partFingerprint(path)
			out := fmt.Sprintf("%s/data/%s_part_%s_unordered%s", streamKey, streamKey, fp, format.Ext())

			buf, err := encodePartition(path, format)
			if err != nil {
				return err
			}
			return target.Put(gctx, out, buf)
		})
	}
	return g.Wait()
}

// partFingerprint recovers the cache fingerprint from a partition file name.
func partFingerprint(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json.gz")
}

func encodePartition(path string, format Format) (*bytes.Buffer, error) {
	doc, err := fetch.ReadDocument(path)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	switch format {
	case FormatJSON:
		encodeJSON(buf, doc)
		return buf, nil
	case FormatCSV:
		rows, err := decodeRows(doc, path)
		if err != nil {
			return nil, err
		}
		encodeCSV(buf, rows)
		return buf, nil
	case FormatParquet:
		rows, err := decodeRows(doc, path)
		if err != nil {
			return nil, err
		}
		if err := encodeParquet(buf, rows); err != nil {
			return nil, err
		}
		return buf, nil
	case FormatBinary:
		rows, err := decodeRows(doc, path)
		if err != nil {
			return nil, err
		}
		if err := msgpack.NewEncoder(buf).Encode(rows); err != nil {
			return nil, fmt.Errorf("materialize: msgpack encode %s: %w", path, err)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

func decodeRows(doc *fetch.Document, path string) ([]map[string]any, error) {
	rows := make([]map[string]any, 0, len(doc.Data))
	for _, raw := range doc.Data {
		var row map[string]any
		if err := jsonCodec.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("materialize: decode row in %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// encodeJSON writes the partition rows as one JSON array, preserving the raw
// row bytes from the wire.
func encodeJSON(buf *bytes.Buffer, doc *fetch.Document) {
	buf.WriteByte('[')
	for i, raw := range doc.Data {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
}

// encodeCSV writes the rows with every field quoted. Columns are the sorted
// union of all row keys; rows missing a column produce an empty field.
func encodeCSV(buf *bytes.Buffer, rows []map[string]any) {
	columns := columnUnion(rows)

	writeQuotedRecord(buf, columns)
	cells := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			cells[i] = csvCell(row[col])
		}
		writeQuotedRecord(buf, cells)
	}
}

func columnUnion(rows []map[string]any) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			set[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(set))
	for k := range set {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

func writeQuotedRecord(buf *bytes.Buffer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

func csvCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		// Nested structures keep their JSON rendering.
		b, err := jsonCodec.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
