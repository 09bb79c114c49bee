package fusionbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ServiceParameter is one named input to a data service invocation.
type ServiceParameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ServiceParameterDef describes one parameter a data service accepts.
type ServiceParameterDef struct {
	Name        string        `json:"name"`
	Description LocalizedText `json:"description"`
	Definition  LocalizedText `json:"definition"`
	Required    bool          `json:"required"`
}

// RequestDefinition is the declared input contract of a data service.
type RequestDefinition struct {
	Parameters []ServiceParameterDef `json:"parameters"`
}

// ServiceMetadata is the typed metadata document for a data service.
type ServiceMetadata struct {
	Key               string            `json:"_key"`
	UniqueLabel       string            `json:"unique_label"`
	Name              LocalizedText     `json:"name"`
	Description       LocalizedText     `json:"description"`
	Source            StreamSource      `json:"source"`
	RequestDefinition RequestDefinition `json:"request_definition"`
}

// DataService is a handle on one data service with its metadata resolved.
type DataService struct {
	client   *Client
	meta     *ServiceMetadata
	cacheTTL time.Duration
}

// ServiceOption configures a DataService handle.
type ServiceOption func(*DataService)

// WithServiceCacheTTL caches invocation results on disk for the given
// duration. Identical inputs within the window return the cached result
// without a network call. Default: no caching.
func WithServiceCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *DataService) { s.cacheTTL = ttl }
}

// DataService resolves the service key and returns a handle on it.
func (c *Client) DataService(ctx context.Context, key string, opts ...ServiceOption) (*DataService, error) {
	var meta ServiceMetadata
	url := fmt.Sprintf("%s/data-service/get/%s", c.baseURI, key)
	if err := c.getJSON(ctx, url, &meta); err != nil {
		return nil, err
	}

	s := &DataService{client: c, meta: &meta}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Key returns the service key.
func (s *DataService) Key() string { return s.meta.Key }

// Metadata returns the service's metadata as resolved at handle creation.
func (s *DataService) Metadata() *ServiceMetadata { return s.meta }

// RequestDefinition returns the service's declared input contract.
func (s *DataService) RequestDefinition() RequestDefinition { return s.meta.RequestDefinition }

// Invoke calls the service with the given parameters and returns its raw
// JSON output; the shape is service-specific. Parameters are validated
// against the service's request definition before any network call.
func (s *DataService) Invoke(ctx context.Context, params ...ServiceParameter) (json.RawMessage, error) {
	if err := s.validate(params); err != nil {
		return nil, err
	}

	body, err := jsonCodec.Marshal(map[string]any{
		"inputs":           params,
		"data_service_key": s.meta.Key,
	})
	if err != nil {
		return nil, fmt.Errorf("fusionbase: encode invocation: %w", err)
	}

	if s.cacheTTL > 0 {
		if cached, ok := s.cachedResult(body); ok {
			return cached, nil
		}
	}

	url := s.client.baseURI + "/data-service/invoke"
	out, err := s.client.postBody(ctx, url, "application/json; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if s.cacheTTL > 0 {
		s.storeResult(body, out)
	}
	return out, nil
}

// validate checks the given parameters against the request definition: no
// more parameters than declared, every name must be declared, and every
// required parameter must be present.
func (s *DataService) validate(params []ServiceParameter) error {
	defs := s.meta.RequestDefinition.Parameters
	if len(params) > len(defs) {
		return fmt.Errorf("%w: %d parameters given, service declares %d",
			ErrInvalidParameter, len(params), len(defs))
	}

	declared := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		declared[d.Name] = struct{}{}
	}
	given := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter without a name", ErrInvalidParameter)
		}
		if _, ok := declared[p.Name]; !ok {
			return fmt.Errorf("%w: %q is not a declared service parameter", ErrInvalidParameter, p.Name)
		}
		given[p.Name] = struct{}{}
	}
	for _, d := range defs {
		if !d.Required {
			continue
		}
		if _, ok := given[d.Name]; !ok {
			return fmt.Errorf("%w: required parameter %q is missing", ErrInvalidParameter, d.Name)
		}
	}
	return nil
}

// cachePath derives the cache file for one invocation body. The name binds
// the service key and the full request, so distinct inputs never collide.
func (s *DataService) cachePath(body []byte) string {
	fp := fmt.Sprintf("%016x", xxhash.Sum64(body))[:12]
	return filepath.Join(s.client.cacheDir, fmt.Sprintf("service_%s_%s.json", s.meta.Key, fp))
}

func (s *DataService) cachedResult(body []byte) (json.RawMessage, bool) {
	path := s.cachePath(body)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > s.cacheTTL {
		return nil, false
	}
	out, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return out, true
}

// storeResult best-effort caches an invocation result; failures only cost a
// future network call.
func (s *DataService) storeResult(body, out []byte) {
	path := s.cachePath(body)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
	}
}

// ClearCache removes every cached invocation result for this service.
func (s *DataService) ClearCache() error {
	pattern := filepath.Join(s.client.cacheDir, fmt.Sprintf("service_%s_*.json", s.meta.Key))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
