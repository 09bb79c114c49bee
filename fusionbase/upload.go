package fusionbase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// uploadChunkRows bounds how many rows one upload request carries. Larger
// datasets are pushed in sequential chunks.
const uploadChunkRows = 1_000_000

// ReplaceOptions configures Replace. Cascade propagates the replacement to
// derived data; Inplace rewrites the stream's current version instead of
// creating a new one. Both are irreversible on the platform.
type ReplaceOptions struct {
	Cascade bool
	Inplace bool
}

// Update appends rows to the stream. Rows are gzipped and uploaded as a file
// part; datasets beyond the chunk bound go up in multiple sequential
// requests, and the first failed chunk aborts the rest.
func (s *DataStream) Update(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return errors.New("fusionbase: no rows to upload")
	}

	url := s.client.baseURI + "/data-stream/add/data"
	total := (len(rows) + uploadChunkRows - 1) / uploadChunkRows
	for start, n := 0, 0; start < len(rows); start, n = start+uploadChunkRows, n+1 {
		end := start + uploadChunkRows
		if end > len(rows) {
			end = len(rows)
		}
		fields := [][2]string{{"key", s.meta.Key}}
		if err := s.client.pushRows(ctx, url, fields, rows[start:end]); err != nil {
			return fmt.Errorf("fusionbase: upload chunk %d of %d: %w", n+1, total, err)
		}
	}
	return nil
}

// Replace swaps the stream's data for the given rows. This is destructive:
// there is no way back once the platform accepts the request.
func (s *DataStream) Replace(ctx context.Context, rows []map[string]any, opts ReplaceOptions) error {
	if len(rows) == 0 {
		return errors.New("fusionbase: no rows to upload")
	}

	fields := [][2]string{
		{"key", s.meta.Key},
		{"inplace", strconv.FormatBool(opts.Inplace)},
		{"cascade", strconv.FormatBool(opts.Cascade)},
	}
	return s.client.pushRows(ctx, s.client.baseURI+"/data-stream/replace", fields, rows)
}

// pushRows posts a multipart upload: the given form fields, an empty inline
// data field, and the rows gzip-compressed as the data file part.
func (c *Client) pushRows(ctx context.Context, url string, fields [][2]string, rows []map[string]any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	if err := w.WriteField("data", "[]"); err != nil {
		return err
	}

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="data_file"; filename="data.json.gz"`)
	hdr.Set("Content-Type", "application/json")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(part)
	if err := jsonCodec.NewEncoder(zw).Encode(rows); err != nil {
		return fmt.Errorf("fusionbase: encode upload rows: %w", err)
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	body, err := c.postBody(ctx, url, w.FormDataContentType(), &buf)
	if err != nil {
		return err
	}

	// A 200 can still carry a rejection detail instead of the stream key.
	var out struct {
		Key    string      `json:"_key"`
		Detail []apiDetail `json:"detail"`
	}
	if err := jsonCodec.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("fusionbase: decode upload response: %w", err)
	}
	if out.Key == "" {
		for _, d := range out.Detail {
			if d.Type == "data_warning.empty" {
				return ErrStreamNotFound
			}
		}
		return fmt.Errorf("%w: upload rejected", ErrUnsupportedInput)
	}
	return nil
}
