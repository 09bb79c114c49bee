package fusionbase_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"

	"github.com/fusionbase/fusionbase-go/fusionbase"
)

// fixture is a fake platform serving one data stream. It slices a fixed row
// set by the skip/limit parameters of each request and records every data
// request it sees.
type fixture struct {
	key   string
	label string
	rows  []map[string]any

	// entitled, when > 0, simulates entitlement truncation: only the first
	// entitled rows of the stream are visible to the caller.
	entitled int

	// entryCount, when > 0, overrides the advertised entry count without
	// materializing that many fixture rows.
	entryCount int

	// denyData, when set, answers every data request with an authorization
	// error payload.
	denyData bool

	// failNonzeroSkip, when set, answers every data request with skip > 0
	// with a server error, simulating transient partition failures that
	// leave the offset-zero partition intact.
	failNonzeroSkip bool

	// bulkySampleBytes, when > 0, answers the row-size sampling window with
	// a single row carrying a payload of that many bytes. The inflated
	// estimate forces small partitions independent of the local core count.
	bulkySampleBytes int

	mu       sync.Mutex
	requests []url.Values
}

func newFixture(n int) *fixture {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"fb_id":           fmt.Sprintf("id-%04d", i),
			"fb_data_version": "v1",
			"value":           float64(i),
		}
	}
	return &fixture{key: "stream-1", label: "test-stream", rows: rows}
}

// dataRequests returns the recorded (skip, limit) pairs of data requests.
func (f *fixture) dataRequests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.requests...)
}

func (f *fixture) metaJSON() string {
	count := len(f.rows)
	if f.entryCount > 0 {
		count = f.entryCount
	}
	return fmt.Sprintf(`{
		"_key": %q,
		"unique_label": %q,
		"name": {"en": "Test Stream"},
		"description": {"en": "A stream for tests"},
		"meta": {"entry_count": %d, "main_property_count": 3},
		"source": {"_key": "src-1", "label": "Test Source"},
		"data_item_collections": [
			{"_key": "c1", "name": "fb_id", "basic_data_type": "string"}
		],
		"data_version": "v1"
	}`, f.key, f.label, count)
}

func (f *fixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/data-stream/get/"+f.key+"/meta", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.metaJSON()))
	})
	mux.HandleFunc("/data-stream/get/label/"+f.label, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"_key": %q}`, f.key)
	})
	mux.HandleFunc("/data-stream/get/"+f.key, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Query())
		f.mu.Unlock()

		if f.denyData {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":[{"loc":"","msg":"You are not authorized to access this resource.","type":"authorization_error.missing"}]}`))
			return
		}

		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		if f.failNonzeroSkip && skip > 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if f.bulkySampleBytes > 0 && limit == 150 {
			writeGzipDoc(t, w, []map[string]any{{
				"fb_id":   "sample-0",
				"payload": strings.Repeat("x", f.bulkySampleBytes),
			}})
			return
		}

		visible := f.rows
		if f.entitled > 0 && f.entitled < len(visible) {
			visible = visible[:f.entitled]
		}
		if skip > len(visible) {
			skip = len(visible)
		}
		end := skip + limit
		if limit < 0 || end > len(visible) {
			end = len(visible)
		}
		writeGzipDoc(t, w, visible[skip:end])
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeGzipDoc(t *testing.T, w http.ResponseWriter, rows []map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(zw).Encode(map[string]any{"data": rows}); err != nil {
		t.Fatalf("encode document: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, baseURI string) *fusionbase.Client {
	t.Helper()
	c, err := fusionbase.New("test-key",
		fusionbase.WithBaseURI(baseURI),
		fusionbase.WithCacheDir(t.TempDir()),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := fusionbase.New(""); err == nil {
		t.Error("expected an error for an empty api key")
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	if _, err := fusionbase.New("k", fusionbase.WithBaseURI("")); err == nil {
		t.Error("expected an error for an empty base URI")
	}
	if _, err := fusionbase.New("k", fusionbase.WithHTTPClient(nil)); err == nil {
		t.Error("expected an error for a nil http client")
	}
	if _, err := fusionbase.New("k", fusionbase.WithRateLimit(0, 1)); err == nil {
		t.Error("expected an error for a zero rate")
	}
}

func TestStreamMetadata_Decodes(t *testing.T) {
	f := newFixture(42)
	srv := f.server(t)
	c := newTestClient(t, srv.URL)

	meta, err := c.StreamMetadata(context.Background(), f.key)
	if err != nil {
		t.Fatalf("StreamMetadata failed: %v", err)
	}
	if meta.Key != f.key {
		t.Errorf("key = %q, want %q", meta.Key, f.key)
	}
	if meta.Meta.EntryCount != 42 {
		t.Errorf("entry count = %d, want 42", meta.Meta.EntryCount)
	}
	if meta.Name.En() != "Test Stream" {
		t.Errorf("name = %q", meta.Name.En())
	}
}

func TestStreamMetadataByLabel_Resolves(t *testing.T) {
	f := newFixture(10)
	srv := f.server(t)
	c := newTestClient(t, srv.URL)

	meta, err := c.StreamMetadataByLabel(context.Background(), f.label)
	if err != nil {
		t.Fatalf("StreamMetadataByLabel failed: %v", err)
	}
	if meta.Key != f.key {
		t.Errorf("key = %q, want %q", meta.Key, f.key)
	}
}

func TestClient_MapsErrorPayloads(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
		want    error
	}{
		{
			"not authorized", http.StatusUnauthorized,
			`{"detail":[{"loc":"","msg":"You are not authorized to access this resource.","type":"authorization_error.missing"}]}`,
			fusionbase.ErrNotAuthorized,
		},
		{
			"unauthenticated", http.StatusUnauthorized,
			`{"detail":[{"loc":"","msg":"Could not validate credentials","type":"authentication_error.missing"}]}`,
			fusionbase.ErrUnauthenticated,
		},
		{
			"stream missing", http.StatusNotFound,
			`{"detail":[{"loc":"","msg":"This data stream does not exist.","type":"data_warning.empty"}]}`,
			fusionbase.ErrStreamNotFound,
		},
		{
			"version missing", http.StatusNotFound,
			`{"detail":[{"loc":"","msg":"The data version you provided does not exist.","type":"data_warning.empty"}]}`,
			fusionbase.ErrVersionNotFound,
		},
		{
			"server error", http.StatusInternalServerError,
			`{"detail":[{"loc":"","msg":"boom","type":"value_error.all"}]}`,
			fusionbase.ErrServer,
		},
		{
			"invalid parameter", http.StatusBadRequest,
			`{"detail":[{"loc":"","msg":"bad skip","type":"value_error.invalid"}]}`,
			fusionbase.ErrInvalidParameter,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.payload))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.StreamMetadata(context.Background(), "any")
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClient_UnknownPayloadKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.StreamMetadata(context.Background(), "any")
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("418")) {
		t.Errorf("expected the status in the error, got %v", err)
	}
}
