package fetch

import (
	"context"
	"os"
	"path/filepath"
)

// ProbeRows is the size of the calibration window requested before the main
// fetch.
const ProbeRows = 12

// FetchWindow downloads a small window of rows starting at offset zero and
// returns the decoded document. The download goes through a throwaway
// directory outside the cache namespace, which is removed before returning,
// so calibration requests never pollute the partition cache.
func (f *Fetcher) FetchWindow(ctx context.Context, spec Spec, rows int) (*Document, error) {
	dir, err := os.MkdirTemp("", "fb-window-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	spec.Offset = 0
	spec.Count = rows

	dest := filepath.Join(dir, spec.Fingerprint()+".json.gz")
	if err := f.Download(ctx, spec.RequestURL(), dest); err != nil {
		return nil, err
	}
	return ReadDocument(dest)
}

// Probe issues one small request against the partition endpoint and reports
// how many rows the server actually returned. The platform enforces row-level
// entitlement by silently truncating responses rather than by error, so a
// short count means every later request will be truncated to the same size.
func (f *Fetcher) Probe(ctx context.Context, spec Spec) (int, error) {
	doc, err := f.FetchWindow(ctx, spec, ProbeRows)
	if err != nil {
		return 0, err
	}
	return len(doc.Data), nil
}
