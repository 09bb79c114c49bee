package materialize_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fusionbase/fusionbase-go/internal/materialize"
	"github.com/fusionbase/fusionbase-go/internal/store"
)

// writePartition stores rows as a gzip partition document named after a
// fingerprint, as the fetcher would.
func writePartition(t *testing.T, dir, fingerprint string, rows []map[string]any) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(zw).Encode(map[string]any{"data": rows}); err != nil {
		t.Fatalf("encode document: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	path := filepath.Join(dir, fingerprint+".json.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write partition: %v", err)
	}
	return path
}

func TestRows_ConcatenatesPartitions(t *testing.T) {
	dir := t.TempDir()
	p1 := writePartition(t, dir, "aaaaaaaaaaaa", []map[string]any{{"fb_id": "1"}, {"fb_id": "2"}})
	p2 := writePartition(t, dir, "bbbbbbbbbbbb", []map[string]any{{"fb_id": "3"}})

	rows, err := materialize.Rows([]string{p1, p2})
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[2]["fb_id"] != "3" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestRows_EmptyPartition(t *testing.T) {
	dir := t.TempDir()
	p := writePartition(t, dir, "aaaaaaaaaaaa", nil)

	rows, err := materialize.Rows([]string{p})
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows = %d, want 0", len(rows))
	}
}

func TestWriteFiles_JSON(t *testing.T) {
	dir := t.TempDir()
	p := writePartition(t, dir, "aaaaaaaaaaaa", []map[string]any{
		{"fb_id": "1", "name": "alpha"},
		{"fb_id": "2", "name": "beta"},
	})

	out := t.TempDir()
	target, err := store.NewFS(out)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := materialize.WriteFiles(context.Background(), []string{p}, "stream-1", materialize.FormatJSON, target, 2); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	name := filepath.Join(out, "stream-1", "data", "stream-1_part_aaaaaaaaaaaa_unordered.json")
	content, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}

	var rows []map[string]any
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(content, &rows); err != nil {
		t.Fatalf("output not a JSON array: %v", err)
	}
	if len(rows) != 2 || rows[0]["name"] != "alpha" {
		t.Errorf("rows = %v", rows)
	}
}

func TestWriteFiles_CSV_AllFieldsQuoted(t *testing.T) {
	dir := t.TempDir()
	p := writePartition(t, dir, "aaaaaaaaaaaa", []map[string]any{
		{"fb_id": "1", "name": `say "hi"`, "score": 1.5},
		{"fb_id": "2", "active": true},
	})

	out := t.TempDir()
	target, err := store.NewFS(out)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := materialize.WriteFiles(context.Background(), []string{p}, "stream-1", materialize.FormatCSV, target, 1); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(out, "stream-1", "data", "stream-1_part_aaaaaaaaaaaa_unordered.csv"))
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}

	// Header is the sorted column union.
	if lines[0] != `"active","fb_id","name","score"` {
		t.Errorf("header = %s", lines[0])
	}
	// Embedded quotes double, missing columns stay empty.
	if lines[1] != `"","1","say ""hi""","1.5"` {
		t.Errorf("row 1 = %s", lines[1])
	}
	if lines[2] != `"true","2","",""` {
		t.Errorf("row 2 = %s", lines[2])
	}
}

func TestWriteFiles_Binary_MessagePackRoundtrip(t *testing.T) {
	dir := t.TempDir()
	rows := []map[string]any{{"fb_id": "1", "name": "alpha"}}
	p := writePartition(t, dir, "aaaaaaaaaaaa", rows)

	out := t.TempDir()
	target, err := store.NewFS(out)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := materialize.WriteFiles(context.Background(), []string{p}, "stream-1", materialize.FormatBinary, target, 1); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(out, "stream-1", "data", "stream-1_part_aaaaaaaaaaaa_unordered.msgpack"))
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}

	var decoded []map[string]any
	if err := msgpack.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("msgpack decode failed: %v", err)
	}
	if len(decoded) != 1 || decoded[0]["name"] != "alpha" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestWriteFiles_Parquet(t *testing.T) {
	dir := t.TempDir()
	p := writePartition(t, dir, "aaaaaaaaaaaa", []map[string]any{
		{"fb_id": "1", "score": 1.5, "active": true},
		{"fb_id": "2", "score": 2.5},
	})

	out := t.TempDir()
	target, err := store.NewFS(out)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := materialize.WriteFiles(context.Background(), []string{p}, "stream-1", materialize.FormatParquet, target, 1); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(out, "stream-1", "data", "stream-1_part_aaaaaaaaaaaa_unordered.parquet"))
	if err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	if len(content) < 8 || !bytes.HasPrefix(content, []byte("PAR1")) || !bytes.HasSuffix(content, []byte("PAR1")) {
		t.Error("output does not carry the parquet magic")
	}
}

func TestWriteFiles_OnePerPartition(t *testing.T) {
	dir := t.TempDir()
	p1 := writePartition(t, dir, "aaaaaaaaaaaa", []map[string]any{{"fb_id": "1"}})
	p2 := writePartition(t, dir, "bbbbbbbbbbbb", []map[string]any{{"fb_id": "2"}})

	out := t.TempDir()
	target, err := store.NewFS(out)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := materialize.WriteFiles(context.Background(), []string{p1, p2}, "stream-1", materialize.FormatJSON, target, 4); err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(out, "stream-1", "data"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("output files = %d, want 2", len(entries))
	}
}

func TestWriteFiles_UnsupportedFormat(t *testing.T) {
	target, err := store.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	err = materialize.WriteFiles(context.Background(), nil, "stream-1", materialize.Format(99), target, 1)
	if !errors.Is(err, materialize.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
