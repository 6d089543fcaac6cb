package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/metrics"
)

type echoCapability struct {
	batchSize int
	batchWait time.Duration
	sleep     time.Duration
}

func (e *echoCapability) BatchSize() int           { return e.batchSize }
func (e *echoCapability) BatchWait() time.Duration { return e.batchWait }
func (e *echoCapability) Encode(_ context.Context, payloads []core.Payload) ([]core.Output, error) {
	if e.sleep > 0 {
		time.Sleep(e.sleep)
	}
	out := make([]core.Output, len(payloads))
	for i := range out {
		out[i] = core.Output{1, 2, 3}
	}
	return out, nil
}

func newTestServer(t *testing.T, cap core.Capability, requestTimeout time.Duration) *Server {
	t.Helper()
	q := core.NewQueue(8)
	reg := metrics.New()
	sched := core.NewScheduler(q, cap, reg, zerolog.Nop())
	w := core.NewWorker("test-worker", q, sched, zerolog.Nop())
	w.MarkLoading()
	w.MarkReady(core.ModelInfo{Name: "test-model", BatchSize: cap.BatchSize(), BatchWait: cap.BatchWait()})
	go sched.Run()
	t.Cleanup(sched.Stop)

	return New(w, reg, zerolog.Nop(), Config{RequestTimeout: requestTimeout})
}

func multipartInferBody(t *testing.T, text string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="image"; filename="x.png"`},
		"Content-Type":        {"image/png"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)

	if text != "" {
		require.NoError(t, mw.WriteField("text", text))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestHandleInferSuccess(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: 5 * time.Millisecond}, time.Second)
	body, contentType := multipartInferBody(t, "a cat")

	req := httptest.NewRequest(http.MethodPost, "/infer", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out inferResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, core.Output{1, 2, 3}, out.Output)
	assert.NotEmpty(t, out.RequestID)
}

func TestHandleInferRejectsMissingImage(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: 5 * time.Millisecond}, time.Second)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	require.NoError(t, mw.WriteField("text", "no image here"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/infer", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInferTimeoutReturns504(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: 5 * time.Millisecond, sleep: 200 * time.Millisecond}, 20*time.Millisecond)
	body, contentType := multipartInferBody(t, "")

	req := httptest.NewRequest(http.MethodPost, "/infer", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: time.Millisecond}, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyReflectsWorkerState(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: time.Millisecond}, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleInfoReportsQueueMetrics(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: time.Millisecond}, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 8, out.Queue.Capacity)
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t, &echoCapability{batchSize: 8, batchWait: time.Millisecond}, time.Second)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	s.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inference_")
}
