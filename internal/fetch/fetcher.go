package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response body is read for
// classification.
const maxErrorBody = 64 << 10

// terminalError marks failures that abort the whole fetch instead of a
// single partition, such as authorization errors that would recur for every
// request.
type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Terminal wraps err so IsTerminal reports true for it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err aborts the whole fetch.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Classifier inspects a non-200 response and returns the error to surface.
// Returning a Terminal-wrapped error stops the whole operation.
type Classifier func(status int, body []byte) error

// Fetcher downloads partition documents over HTTP. The zero value is not
// usable; populate Client and, for authenticated platforms, Header.
type Fetcher struct {
	Client   *http.Client
	Header   http.Header
	Limiter  *rate.Limiter
	Classify Classifier
	Log      logrus.FieldLogger
}

// FetchPartition ensures a valid cached file exists for the spec and returns
// its path. With caching enabled and a valid file on disk no network request
// is made. A corrupt cached or downloaded file is refetched exactly once.
func (f *Fetcher) FetchPartition(ctx context.Context, spec Spec, cache Cache) (string, error) {
	fp := spec.Fingerprint()
	if path, ok := cache.Hit(fp); ok {
		f.logger().WithFields(logrus.Fields{
			"fingerprint": fp,
			"offset":      spec.Offset,
		}).Debug("partition cache hit")
		return path, nil
	}

	dest := cache.PathFor(fp)
	if err := f.Download(ctx, spec.RequestURL(), dest); err != nil {
		return "", err
	}

	if !validGzipFile(dest) {
		f.logger().WithField("fingerprint", fp).Warn("corrupt partition download, refetching once")
		if err := f.Download(ctx, spec.RequestURL(), dest); err != nil {
			return "", err
		}
		if !validGzipFile(dest) {
			return "", fmt.Errorf("fetch: partition %s: %w", fp, ErrCorruptCache)
		}
	}

	return dest, nil
}

// Download streams the response body for rawURL to dest. The body is written
// to a temporary file in the same directory and renamed into place on
// success, so cancellation never leaves a partial file at the final path.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string) error {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("fetch: build request: %w", err)
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if f.Classify != nil {
			if cerr := f.Classify(resp.StatusCode, body); cerr != nil {
				return cerr
			}
		}
		return fmt.Errorf("fetch: %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("fetch: %s: stream body: %w", rawURL, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (f *Fetcher) logger() logrus.FieldLogger {
	if f.Log != nil {
		return f.Log
	}
	return discardLogger
}

var discardLogger = func() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()
