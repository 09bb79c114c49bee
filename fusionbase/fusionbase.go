// Package fusionbase is a client SDK for the Fusionbase data platform.
//
// A Client authenticates with an API key and hands out DataStream and
// DataService handles. Dataset downloads run through a partitioned fetch
// engine: the requested row window is split into byte-budgeted partitions,
// downloaded concurrently, cached on local disk as gzip documents, and
// reassembled into rows, a table, or partition files in several encodings.
package fusionbase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURI is the production API endpoint.
const DefaultBaseURI = "https://api.fusionbase.com/api/v1"

// apiKeyHeader carries the static API key on every request.
const apiKeyHeader = "x-api-key"

// Client talks to the platform API. Construct it with New; the zero value is
// not usable. A Client is safe for concurrent use and its configuration is
// immutable after construction.
type Client struct {
	baseURI  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	log      logrus.FieldLogger
	cacheDir string
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURI overrides the API endpoint, for example for a staging
// environment.
func WithBaseURI(uri string) Option {
	return func(c *Client) error {
		if uri == "" {
			return errors.New("fusionbase: base URI must not be empty")
		}
		c.baseURI = uri
		return nil
	}
}

// WithCacheDir overrides the partition cache directory.
// Default: <os temp dir>/fusionbase.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if dir == "" {
			return errors.New("fusionbase: cache dir must not be empty")
		}
		c.cacheDir = dir
		return nil
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("fusionbase: http client must not be nil")
		}
		c.http = h
		return nil
	}
}

// WithLogger installs a structured logger. Default: discard.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) error {
		if log == nil {
			return errors.New("fusionbase: logger must not be nil")
		}
		c.log = log
		return nil
	}
}

// WithRateLimit bounds outgoing requests to rps requests per second with the
// given burst. Default: unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) error {
		if rps <= 0 || burst < 1 {
			return errors.New("fusionbase: rate limit requires rps > 0 and burst >= 1")
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// New creates a Client authenticated with the given API key.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("fusionbase: api key is required")
	}

	c := &Client{
		baseURI:  DefaultBaseURI,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 5 * time.Minute},
		log:      discardLogger(),
		cacheDir: filepath.Join(os.TempDir(), "fusionbase"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("fusionbase: create cache dir: %w", err)
	}
	return c, nil
}

// header returns the authentication headers sent on every request.
func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set(apiKeyHeader, c.apiKey)
	return h
}

// getJSON issues an authenticated GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	if err := jsonCodec.Unmarshal(body, out); err != nil {
		return fmt.Errorf("fusionbase: decode response from %s: %w", url, err)
	}
	return nil
}

// get issues an authenticated GET and returns the response body, mapping
// non-200 responses onto the error taxonomy.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.header()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fusionbase: %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fusionbase: read response from %s: %w", url, err)
	}
	if err := evaluate(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// postBody issues an authenticated POST with the given content type,
// returning the response body after error evaluation.
func (c *Client) postBody(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.header()
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fusionbase: %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fusionbase: read response from %s: %w", url, err)
	}
	if err := evaluate(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
