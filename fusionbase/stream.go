package fusionbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/fusionbase/fusionbase-go/internal/fetch"
	"github.com/fusionbase/fusionbase-go/internal/materialize"
	"github.com/fusionbase/fusionbase-go/internal/plan"
	"github.com/fusionbase/fusionbase-go/internal/sizeof"
	"github.com/fusionbase/fusionbase-go/internal/store"
)

// Row-size sampling for the partition planner.
const (
	sampleRows         = 150
	defaultBytesPerRow = 2048
)

// ResultType selects the shape GetData materializes the fetched partitions
// into.
type ResultType int

const (
	// ResultRows returns the rows in memory, in arrival order.
	ResultRows ResultType = iota

	// ResultTable returns a Table: rows deduplicated on the row identity
	// column with the column union precomputed.
	ResultTable

	// ResultJSONFiles writes one JSON array file per partition.
	ResultJSONFiles

	// ResultCSVFiles writes one CSV file per partition with every field
	// quoted.
	ResultCSVFiles

	// ResultParquetFiles writes one Parquet file per partition with an
	// inferred schema.
	ResultParquetFiles

	// ResultBinaryFiles writes one MessagePack document per partition.
	ResultBinaryFiles

	// ResultFeatherFiles is accepted for API parity but has no encoder;
	// GetData fails fast with ErrUnsupportedResultType.
	ResultFeatherFiles
)

func (r ResultType) String() string {
	switch r {
	case ResultRows:
		return "rows"
	case ResultTable:
		return "table"
	case ResultJSONFiles:
		return "json_files"
	case ResultCSVFiles:
		return "csv_files"
	case ResultParquetFiles:
		return "parquet_files"
	case ResultBinaryFiles:
		return "binary_files"
	case ResultFeatherFiles:
		return "feather_files"
	default:
		return "unknown"
	}
}

// fileFormat maps file-producing result types onto their encoder. The error
// is raised before any network traffic so an unsupported type never costs a
// download.
func (r ResultType) fileFormat() (materialize.Format, bool, error) {
	switch r {
	case ResultRows, ResultTable:
		return 0, false, nil
	case ResultJSONFiles:
		return materialize.FormatJSON, true, nil
	case ResultCSVFiles:
		return materialize.FormatCSV, true, nil
	case ResultParquetFiles:
		return materialize.FormatParquet, true, nil
	case ResultBinaryFiles:
		return materialize.FormatBinary, true, nil
	case ResultFeatherFiles:
		return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedResultType, r)
	default:
		return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedResultType, r)
	}
}

// Query is a server-side filter object. It serializes with sorted keys, so
// equal filters written in different order share one cache entry.
type Query map[string]any

// ProgressFunc observes partition completion during GetData: done counts
// finished partitions, successful or failed, and only ever increases.
type ProgressFunc func(done, total int)

// GetDataOptions configures one GetData call. The zero value fetches the
// whole stream concurrently as in-memory rows.
type GetDataOptions struct {
	// Fields optionally projects the result onto these columns. The
	// platform's system columns are always included.
	Fields []string

	// Skip drops the first Skip rows of the stream.
	Skip int

	// Limit bounds the number of rows fetched; 0 means no limit. Limits
	// above the per-request ceiling are clamped and reported on the Result.
	Limit int

	// Query is an optional server-side filter. Filtered windows are capped
	// at one request's worth of rows since the match count is unknown.
	Query Query

	// Live bypasses the partition cache and refetches everything.
	Live bool

	// Sequential disables concurrent partition downloads.
	Sequential bool

	// ResultType selects the output shape. Default: ResultRows.
	ResultType ResultType

	// StoragePath is the local directory for file result types. Ignored
	// when Output is set.
	StoragePath string

	// Output overrides the file destination, for example an S3 bucket from
	// NewS3Output.
	Output OutputTarget

	// OnProgress, when set, is called after each partition completes. It
	// may be called concurrently.
	OnProgress ProgressFunc
}

// Result is the outcome of a GetData call. Rows or Table is populated for
// the in-memory result types; file result types only report fetch health.
type Result struct {
	Rows  []map[string]any
	Table *Table

	// ClampedLimit reports that the requested limit exceeded the
	// per-request ceiling and was reduced.
	ClampedLimit bool

	// Truncated reports that the access probe detected entitlement
	// truncation: the API key only sees a prefix of the stream.
	Truncated bool

	// FailedPartitions counts partitions whose download failed; their rows
	// are missing from the result. PartitionErrors aggregates the causes.
	FailedPartitions int
	PartitionErrors  error
}

// Complete reports whether every planned partition was fetched.
func (r *Result) Complete() bool { return r.FailedPartitions == 0 }

// DataStream is a handle on one data stream with its metadata resolved.
type DataStream struct {
	client *Client
	meta   *StreamMetadata
}

// DataStream resolves the stream key and returns a handle on it.
func (c *Client) DataStream(ctx context.Context, key string) (*DataStream, error) {
	meta, err := c.StreamMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	return &DataStream{client: c, meta: meta}, nil
}

// DataStreamByLabel resolves a unique label and returns a handle on the
// stream it names.
func (c *Client) DataStreamByLabel(ctx context.Context, label string) (*DataStream, error) {
	meta, err := c.StreamMetadataByLabel(ctx, label)
	if err != nil {
		return nil, err
	}
	return &DataStream{client: c, meta: meta}, nil
}

// Key returns the stream key.
func (s *DataStream) Key() string { return s.meta.Key }

// Metadata returns the stream's metadata as resolved at handle creation.
func (s *DataStream) Metadata() *StreamMetadata { return s.meta }

// EntryCount returns the stream's total row count per its metadata.
func (s *DataStream) EntryCount() int { return s.meta.Meta.EntryCount }

func (s *DataStream) endpoint() string {
	return fmt.Sprintf("%s/data-stream/get/%s", s.client.baseURI, s.meta.Key)
}

func (s *DataStream) fetcher() *fetch.Fetcher {
	c := s.client
	return &fetch.Fetcher{
		Client:   c.http,
		Header:   c.header(),
		Limiter:  c.limiter,
		Classify: classify,
		Log:      c.log,
	}
}

// GetData fetches a window of the stream through the partitioned fetch
// engine and materializes it per opts.ResultType.
//
// The window is split into byte-budgeted partitions that are downloaded
// concurrently and cached on disk, so a repeated call with the same window
// costs no network traffic unless opts.Live is set. Failed partitions leave
// the remaining rows intact and are reported on the Result; authorization
// failures abort the whole call.
func (s *DataStream) GetData(ctx context.Context, opts GetDataOptions) (*Result, error) {
	if opts.Skip < 0 || opts.Limit < 0 {
		return nil, fmt.Errorf("%w: skip=%d limit=%d", ErrInvalidWindow, opts.Skip, opts.Limit)
	}

	format, isFile, err := opts.ResultType.fileFormat()
	if err != nil {
		return nil, err
	}
	var target store.Store
	if isFile {
		switch {
		case opts.Output != nil:
			target = opts.Output
		case opts.StoragePath != "":
			if target, err = store.NewFS(opts.StoragePath); err != nil {
				return nil, err
			}
		default:
			return nil, errors.New("fusionbase: file result types require StoragePath or Output")
		}
	}

	fields := withSystemColumns(opts.Fields)
	query := ""
	if len(opts.Query) > 0 {
		b, err := jsonCodec.Marshal(opts.Query)
		if err != nil {
			return nil, fmt.Errorf("fusionbase: encode query: %w", err)
		}
		query = string(b)
	}

	limit := opts.Limit
	if limit == 0 {
		limit = -1
	}
	total := s.meta.Meta.EntryCount
	offset, count, clamped, err := plan.Window(total, opts.Skip, limit, query != "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, err)
	}

	log := s.client.log.WithField("stream", s.meta.Key)
	if clamped {
		log.WithFields(logrus.Fields{
			"limit":   opts.Limit,
			"ceiling": plan.ServerRowCeiling,
		}).Warn("limit exceeds the per-request row ceiling, clamped")
	}

	res := &Result{ClampedLimit: clamped}
	if count <= 0 {
		return s.finishEmpty(res, opts.ResultType), nil
	}

	f := s.fetcher()
	endpoint := s.endpoint()
	parallelism := fetch.Parallelism(!opts.Sequential)

	// The platform enforces row entitlement by silently truncating
	// responses. Probe once up front so a restricted key fetches only its
	// accessible prefix instead of a window full of duplicate truncations.
	capOverride := 0
	expect := fetch.ProbeRows
	if total > 0 && total < expect {
		expect = total
	}
	returned, err := f.Probe(ctx, fetch.Spec{Endpoint: endpoint, StreamKey: s.meta.Key})
	switch {
	case err != nil && fetch.IsTerminal(err):
		return nil, err
	case err != nil:
		log.WithError(err).Warn("access probe failed, skipping truncation check")
	case returned < expect:
		res.Truncated = true
		capOverride = returned
		log.WithFields(logrus.Fields{
			"requested": expect,
			"returned":  returned,
		}).Warn("entitlement truncation detected, fetching the accessible rows only")
		if returned == 0 {
			return s.finishEmpty(res, opts.ResultType), nil
		}
	}

	bytesPerRow := float64(0)
	if capOverride == 0 {
		bytesPerRow = s.estimateRowSize(ctx, f, log)
	}

	parts := plan.Partitions(count, parallelism, offset, bytesPerRow, capOverride)
	cache := fetch.Cache{Dir: s.client.cacheDir, Live: opts.Live}

	results, err := fetch.Run(ctx, parts, parallelism, func(ctx context.Context, p plan.Partition) (string, error) {
		return f.FetchPartition(ctx, fetch.Spec{
			Endpoint:  endpoint,
			StreamKey: s.meta.Key,
			Limit:     limit,
			Offset:    p.Offset,
			Count:     p.Count,
			Fields:    fields,
			Query:     query,
		}, cache)
	}, fetch.ProgressFunc(opts.OnProgress))
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(results))
	var merr *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			res.FailedPartitions++
			merr = multierror.Append(merr, fmt.Errorf(
				"partition offset=%d count=%d: %w", r.Partition.Offset, r.Partition.Count, r.Err))
			continue
		}
		paths = append(paths, r.Path)
	}
	res.PartitionErrors = merr.ErrorOrNil()
	if res.FailedPartitions > 0 {
		log.WithFields(logrus.Fields{
			"failed": res.FailedPartitions,
			"total":  len(parts),
		}).Warn("partition downloads failed, result is incomplete")
	}

	switch {
	case isFile:
		if err := materialize.WriteFiles(ctx, paths, s.meta.Key, format, target, parallelism); err != nil {
			return nil, err
		}
	case opts.ResultType == ResultTable:
		rows, err := materialize.Rows(paths)
		if err != nil {
			return nil, err
		}
		res.Table = NewTable(rows)
	default:
		rows, err := materialize.Rows(paths)
		if err != nil {
			return nil, err
		}
		res.Rows = rows
	}
	return res, nil
}

// GetTable fetches the window as a deduplicated Table.
func (s *DataStream) GetTable(ctx context.Context, opts GetDataOptions) (*Table, error) {
	opts.ResultType = ResultTable
	res, err := s.GetData(ctx, opts)
	if err != nil {
		return nil, err
	}
	return res.Table, nil
}

func (s *DataStream) finishEmpty(res *Result, rt ResultType) *Result {
	if rt == ResultTable {
		res.Table = NewTable(nil)
	}
	return res
}

// estimateRowSize samples the head of the stream and measures the decoded
// in-memory size per row. Any sampling failure falls back to the default
// estimate; the estimate only tunes partition sizing.
func (s *DataStream) estimateRowSize(ctx context.Context, f *fetch.Fetcher, log logrus.FieldLogger) float64 {
	doc, err := f.FetchWindow(ctx, fetch.Spec{Endpoint: s.endpoint(), StreamKey: s.meta.Key}, sampleRows)
	if err != nil || len(doc.Data) == 0 {
		log.Debug("row size sample unavailable, using the default estimate")
		return defaultBytesPerRow
	}

	rows := make([]map[string]any, 0, len(doc.Data))
	for _, raw := range doc.Data {
		var row map[string]any
		if err := jsonCodec.Unmarshal(raw, &row); err != nil {
			return defaultBytesPerRow
		}
		rows = append(rows, row)
	}

	per := float64(sizeof.Of(rows)) / float64(len(rows))
	log.WithField("bytes_per_row", per).Debug("estimated row size from head sample")
	return per
}

// withSystemColumns appends the platform system columns to a non-empty
// projection so row identity and versioning survive column selection.
func withSystemColumns(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields)+len(systemColumns))
	out := make([]string, 0, len(fields)+len(systemColumns))
	add := func(f string) {
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	for _, f := range fields {
		add(f)
	}
	for _, f := range systemColumns {
		add(f)
	}
	return out
}
