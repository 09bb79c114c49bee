package fetch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrCorruptCache indicates a cache file that is not a valid gzip document.
var ErrCorruptCache = errors.New("fetch: cache file is not valid gzip")

// Cache is the explicit cache policy for partition downloads. The zero Live
// value serves cached partitions; Live forces a refetch of every partition.
type Cache struct {
	Dir  string
	Live bool
}

// PathFor returns the cache file path for a fingerprint.
func (c Cache) PathFor(fingerprint string) string {
	return filepath.Join(c.Dir, fingerprint+".json.gz")
}

// Hit reports whether a valid cached file exists for the fingerprint.
// Corrupt files (for example from a process killed mid-write) count as
// misses.
func (c Cache) Hit(fingerprint string) (string, bool) {
	if c.Live {
		return "", false
	}
	path := c.PathFor(fingerprint)
	if !validGzipFile(path) {
		return "", false
	}
	return path, true
}

// validGzipFile reports whether path holds a readable gzip stream.
func validGzipFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer func() { _ = zr.Close() }()

	buf := make([]byte, 1)
	_, err = zr.Read(buf)
	return err == nil || errors.Is(err, io.EOF)
}

// Document is the wrapper object each partition file holds.
type Document struct {
	Data []json.RawMessage `json:"data"`
}

// ReadDocument decompresses and decodes the partition document at path.
// Invalid gzip content is reported as ErrCorruptCache.
func ReadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptCache, path)
	}
	defer func() { _ = zr.Close() }()

	var doc Document
	if err := jsonCodec.NewDecoder(zr).Decode(&doc); err != nil {
		return nil, fmt.Errorf("fetch: decode partition %s: %w", path, err)
	}
	return &doc, nil
}
