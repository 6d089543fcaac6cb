// Package offlinebatch is the supplemented batch pipeline (SPEC_FULL.md
// §C): it streams img2dataset-format parquet shards, resolves each row's
// image, and submits it through the very same core.Worker facade the
// HTTP ingress uses, so offline and live traffic dynamically batch
// together against one queue and one scheduler. Grounded on the
// original Python's batch_service.py BatchInferenceWorker.process_batch,
// re-expressed as teacher-style goroutines + sync.WaitGroup fanning out
// over a bounded worker pool instead of a Ray actor pool.
package offlinebatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/offlinebatch/dataset"
	"github.com/kunal/embedserve/pkg/offlinebatch/objectstore"
)

// OutputRow is one row of the embedding table the job produces, mirroring
// UnifiedOutputWriter.write_parquet's output schema.
type OutputRow struct {
	URL       string    `parquet:"url"`
	Key       string    `parquet:"key"`
	Caption   string    `parquet:"caption"`
	Embedding []float32 `parquet:"embedding"`
	Error     string    `parquet:"error,optional"`
}

// Summary is the JSON run-summary written alongside the output table,
// mirroring UnifiedOutputWriter.write_json.
type Summary struct {
	Shards       int           `json:"shards"`
	RowsSeen     int64         `json:"rows_seen"`
	RowsEmbedded int64         `json:"rows_embedded"`
	RowsFailed   int64         `json:"rows_failed"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Submitter is the subset of core.Worker the job depends on — the same
// facade method the HTTP ingress calls, so this package never needs its
// own queue or scheduler.
type Submitter interface {
	Submit(payload core.Payload, md core.Metadata, timeout time.Duration) (*core.Response, error)
}

// Config carries the job's tunables.
type Config struct {
	InputURI       string // local dir or s3://bucket/prefix of input shards
	OutputURI      string // local dir or s3://bucket/prefix for the output table
	Concurrency    int    // 0 selects runtime.GOMAXPROCS(0)*4
	RequestTimeout time.Duration
	HTTPClient     *http.Client // for fetching remote image URLs; defaults to http.DefaultClient
}

// Run streams every shard under cfg.InputURI, submits each row's image
// through worker, and writes the accumulated embedding table plus a
// run-summary to cfg.OutputURI. Fan-out is bounded by cfg.Concurrency
// goroutines, teacher-style (sync.WaitGroup, no per-row goroutine
// explosion).
func Run(ctx context.Context, cfg Config, worker Submitter, log zerolog.Logger) (Summary, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0) * 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	in, err := objectstore.Open(ctx, cfg.InputURI)
	if err != nil {
		return Summary{}, fmt.Errorf("offlinebatch: open input store: %w", err)
	}
	out, err := objectstore.Open(ctx, cfg.OutputURI)
	if err != nil {
		return Summary{}, fmt.Errorf("offlinebatch: open output store: %w", err)
	}

	src, err := dataset.Open(ctx, in, "")
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	var (
		rowsSeen, rowsEmbedded, rowsFailed atomic.Int64
		mu                                 sync.Mutex
		rows                               []OutputRow
		sem                                = make(chan struct{}, cfg.Concurrency)
		wg                                 sync.WaitGroup
		fetch                              = imageFetcher{client: httpClient, local: in}
	)

	walkErr := src.Each(ctx, func(shard string, row dataset.Row) error {
		rowsSeen.Add(1)
		sem <- struct{}{}
		wg.Add(1)
		go func(row dataset.Row) {
			defer wg.Done()
			defer func() { <-sem }()

			out := embedRow(ctx, worker, fetch, row, cfg.RequestTimeout)
			mu.Lock()
			rows = append(rows, out)
			mu.Unlock()

			if out.Error == "" {
				rowsEmbedded.Add(1)
			} else {
				rowsFailed.Add(1)
				log.Warn().Str("url", row.URL).Str("error", out.Error).Msg("🖼️ row embedding failed")
			}
		}(row)
		return nil
	})
	wg.Wait()
	if walkErr != nil {
		return Summary{}, walkErr
	}

	if err := writeOutput(ctx, out, rows); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Shards:       len(src.Shards()),
		RowsSeen:     rowsSeen.Load(),
		RowsEmbedded: rowsEmbedded.Load(),
		RowsFailed:   rowsFailed.Load(),
		Elapsed:      time.Since(start),
	}
	if err := writeSummary(ctx, out, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// embedRow fetches one row's image and submits it through the shared
// worker facade, producing an OutputRow with either an Embedding or an
// Error — never both, mirroring process_batch's per-item result shape.
func embedRow(ctx context.Context, worker Submitter, fetch imageFetcher, row dataset.Row, timeout time.Duration) OutputRow {
	out := OutputRow{URL: row.URL, Key: row.Key, Caption: row.Caption}

	img, err := fetch.get(ctx, row.URL)
	if err != nil {
		out.Error = fmt.Sprintf("fetch image: %v", err)
		return out
	}

	resp, err := worker.Submit(core.Payload{Image: img, Text: row.Caption}, nil, timeout)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Embedding = []float32(resp.Output)
	return out
}

func writeOutput(ctx context.Context, store objectstore.Store, rows []OutputRow) error {
	buf, err := marshalParquet(rows)
	if err != nil {
		return fmt.Errorf("offlinebatch: encode output parquet: %w", err)
	}
	key := fmt.Sprintf("embeddings-%d.parquet", time.Now().UnixNano())
	if err := store.Put(ctx, key, buf); err != nil {
		return fmt.Errorf("offlinebatch: write output table: %w", err)
	}
	return nil
}

func writeSummary(ctx context.Context, store objectstore.Store, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return store.Put(ctx, "run-summary.json", data)
}

func marshalParquet(rows []OutputRow) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[OutputRow](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// imageFetcher resolves a row's URL through either the local/S3 object
// store (relative paths, used by fixtures and local test shards) or a
// plain HTTP GET (the network URLs real img2dataset shards carry),
// mirroring load_image_from_url's is_s3/else-requests.get branch.
type imageFetcher struct {
	client *http.Client
	local  objectstore.Store
}

func (f imageFetcher) get(ctx context.Context, url string) (core.Image, error) {
	if !dataset.IsRemoteURL(url) {
		data, err := f.local.Get(ctx, url)
		if err != nil {
			return core.Image{}, err
		}
		return core.Image{Bytes: data, ContentType: sniffContentType(data)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.Image{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return core.Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.Image{}, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Image{}, err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = sniffContentType(data)
	}
	return core.Image{Bytes: data, ContentType: ct}, nil
}

func sniffContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}
