package fusionbase

import "sort"

// Platform system columns present on every stored row.
const (
	// ColumnID is the platform-wide row identity column. Tables deduplicate
	// on it.
	ColumnID = "fb_id"

	// ColumnDataVersion tags each row with the dataset version it belongs to.
	ColumnDataVersion = "fb_data_version"

	// ColumnDatetime is the platform ingestion timestamp.
	ColumnDatetime = "fb_datetime"
)

// systemColumns are appended to any caller projection so identity and
// versioning survive column selection.
var systemColumns = []string{ColumnID, ColumnDataVersion, ColumnDatetime}

// Table is a columnar view over fetched rows: rows deduplicated on the row
// identity column keeping the first occurrence, columns the sorted union of
// all row keys. Rows keep their arrival order, which is not the dataset
// order; sort on ColumnID or ColumnDatetime when order matters.
type Table struct {
	columns []string
	rows    []map[string]any
}

// NewTable builds a Table from raw rows. Duplicate row identities keep the
// first occurrence; rows without an identity value are always kept.
func NewTable(rows []map[string]any) *Table {
	seen := make(map[string]struct{}, len(rows))
	kept := make([]map[string]any, 0, len(rows))
	colSet := make(map[string]struct{})

	for _, row := range rows {
		if id, ok := row[ColumnID].(string); ok {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		kept = append(kept, row)
		for k := range row {
			colSet[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(colSet))
	for k := range colSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	return &Table{columns: columns, rows: kept}
}

// Len returns the number of rows after deduplication.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the sorted union of all row keys.
func (t *Table) Columns() []string { return t.columns }

// Rows returns the deduplicated rows.
func (t *Table) Rows() []map[string]any { return t.rows }

// Row returns row i.
func (t *Table) Row(i int) map[string]any { return t.rows[i] }

// Column returns the values of one column across all rows; missing values
// are nil.
func (t *Table) Column(name string) []any {
	vals := make([]any, len(t.rows))
	for i, row := range t.rows {
		vals[i] = row[name]
	}
	return vals
}
