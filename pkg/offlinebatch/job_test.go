package offlinebatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/offlinebatch/dataset"
	"github.com/kunal/embedserve/pkg/offlinebatch/objectstore"
)

// stubSubmitter is a deterministic Submitter test double standing in
// for a real core.Worker — it returns the fixed embedding {1, 2, 3} for
// every payload (or a ProcessingError when fail is set), mirroring the
// style of pkg/httpapi's echoCapability.
type stubSubmitter struct {
	fail bool
}

func (s *stubSubmitter) Submit(payload core.Payload, _ core.Metadata, _ time.Duration) (*core.Response, error) {
	if s.fail {
		return nil, core.NewProcessingError(nil)
	}
	return &core.Response{Output: core.Output{1, 2, 3}, BatchSize: 1}, nil
}

func writeShard(t *testing.T, store objectstore.Store, key string, rows []dataset.Row) {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[dataset.Row](&buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, store.Put(context.Background(), key, buf.Bytes()))
}

// TestRunWithStores exercises Run end to end (fetch → submit →
// accumulate → write) through its public Config, with temp-dir local
// stores for input and output and an httptest server serving the
// "remote" image URLs.
func TestRunWithStores(t *testing.T) {
	ctx := context.Background()
	imgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer imgServer.Close()

	inDir := t.TempDir()
	outDir := t.TempDir()

	in, err := objectstore.Open(ctx, inDir)
	require.NoError(t, err)
	rows := []dataset.Row{
		{URL: imgServer.URL + "/a.png", Caption: "a cat", Key: "a"},
		{URL: imgServer.URL + "/b.png", Caption: "a dog", Key: "b"},
	}
	writeShard(t, in, "shard-0.parquet", rows)

	worker := &stubSubmitter{}
	summary, err := Run(ctx, Config{
		InputURI:    inDir,
		OutputURI:   outDir,
		Concurrency: 2,
	}, worker, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.RowsSeen)
	assert.Equal(t, int64(2), summary.RowsEmbedded)
	assert.Equal(t, int64(0), summary.RowsFailed)

	out, err := objectstore.Open(ctx, outDir)
	require.NoError(t, err)
	summaryData, err := out.Get(ctx, "run-summary.json")
	require.NoError(t, err)
	var written Summary
	require.NoError(t, json.Unmarshal(summaryData, &written))
	assert.Equal(t, summary.RowsEmbedded, written.RowsEmbedded)

	tables, err := out.List(ctx, "", ".parquet")
	require.NoError(t, err)
	require.Len(t, tables, 1)
}

func TestRunRecordsPerRowFailuresWithoutAbortingTheJob(t *testing.T) {
	ctx := context.Background()
	imgServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer imgServer.Close()

	inDir := t.TempDir()
	outDir := t.TempDir()
	in, err := objectstore.Open(ctx, inDir)
	require.NoError(t, err)
	writeShard(t, in, "shard-0.parquet", []dataset.Row{
		{URL: imgServer.URL + "/a.png", Caption: "a cat", Key: "a"},
	})

	worker := &stubSubmitter{fail: true}
	summary, err := Run(ctx, Config{InputURI: inDir, OutputURI: outDir, Concurrency: 1}, worker, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.RowsSeen)
	assert.Equal(t, int64(0), summary.RowsEmbedded)
	assert.Equal(t, int64(1), summary.RowsFailed)
}
