package materialize

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// colType is the inferred Parquet logical type for a column.
type colType int

const (
	colString colType = iota
	colDouble
	colBool
)

// encodeParquet writes the rows as a Parquet file with a schema inferred
// from the data. JSON scalars map to string/double/boolean columns; nested
// structures and mixed-type columns fall back to their JSON string
// rendering. All columns are optional since rows may omit fields.
func encodeParquet(buf *bytes.Buffer, rows []map[string]any) error {
	columns := columnUnion(rows)
	if len(columns) == 0 {
		return nil
	}

	types := inferColumnTypes(rows, columns)

	group := make(parquet.Group, len(columns))
	for _, col := range columns {
		var node parquet.Node
		switch types[col] {
		case colDouble:
			node = parquet.Leaf(parquet.DoubleType)
		case colBool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		group[col] = parquet.Optional(node)
	}
	schema := parquet.NewSchema("record", group)

	// Column order comes from the built schema, not the input order.
	fieldOrder := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		fieldOrder[i] = f.Name()
	}

	w := parquet.NewWriter(buf, schema, parquet.Compression(&parquet.Snappy))
	row := make(parquet.Row, len(fieldOrder))
	for _, r := range rows {
		for i, col := range fieldOrder {
			val, ok := r[col]
			if !ok || val == nil {
				row[i] = parquet.NullValue().Level(0, 0, i)
				continue
			}
			row[i] = parquetValue(val, types[col]).Level(0, 1, i)
		}
		if _, err := w.WriteRows([]parquet.Row{row}); err != nil {
			_ = w.Close()
			return fmt.Errorf("materialize: parquet write row: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("materialize: parquet close: %w", err)
	}
	return nil
}

func inferColumnTypes(rows []map[string]any, columns []string) map[string]colType {
	types := make(map[string]colType, len(columns))
	for _, col := range columns {
		t, seen := colString, false
		for _, row := range rows {
			val, ok := row[col]
			if !ok || val == nil {
				continue
			}
			var k colType
			switch val.(type) {
			case float64:
				k = colDouble
			case bool:
				k = colBool
			default:
				k = colString
			}
			if !seen {
				t, seen = k, true
				continue
			}
			if k != t {
				// Mixed-type column: keep the JSON string rendering.
				t = colString
				break
			}
		}
		types[col] = t
	}
	return types
}

func parquetValue(val any, t colType) parquet.Value {
	switch t {
	case colDouble:
		if f, ok := val.(float64); ok {
			return parquet.DoubleValue(f)
		}
	case colBool:
		if b, ok := val.(bool); ok {
			return parquet.BooleanValue(b)
		}
	}
	if s, ok := val.(string); ok {
		return parquet.ByteArrayValue([]byte(s))
	}
	b, err := jsonCodec.Marshal(val)
	if err != nil {
		return parquet.ByteArrayValue([]byte(fmt.Sprintf("%v", val)))
	}
	return parquet.ByteArrayValue(b)
}
