package model

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/kunal/embedserve/pkg/core"
)

// Simulated mimics a GPU embedding model with real CPU work plus a
// sleep scaled to batch size, so the scheduler sees realistic
// sublinear-latency batching gains without needing a GPU or a model
// file. Grounded on the teacher's pkg/worker/executor/simulation.go
// SimulatedGPU, with the classification-label output replaced by a
// fixed-width embedding vector (spec.md's Output is a float vector, not
// a class distribution).
type Simulated struct {
	baseLatency time.Duration
	dims        int
	batchSize   int
	batchWait   time.Duration
}

// NewSimulated constructs a Simulated capability. baseLatency is the
// fixed per-batch cost; dims is the embedding width produced per item.
func NewSimulated(baseLatency time.Duration, dims, batchSize int, batchWait time.Duration) *Simulated {
	if baseLatency <= 0 {
		baseLatency = 5 * time.Millisecond
	}
	if dims <= 0 {
		dims = 512
	}
	return &Simulated{
		baseLatency: baseLatency,
		dims:        dims,
		batchSize:   batchSize,
		batchWait:   batchWait,
	}
}

// Load is a no-op: there is nothing on disk to read for the simulation,
// but it still reports ModelInfo the way a real loader would.
func (s *Simulated) Load(_ context.Context, dir string) (core.ModelInfo, error) {
	return core.ModelInfo{
		Name:        "simulated-clip",
		Version:     "sim-1",
		Description: "CPU-simulated embedding model (no GPU or weights required)",
		BatchSize:   s.batchSize,
		BatchWait:   s.batchWait,
		Metadata:    map[string]string{"source_dir": dir, "dims": strconv.Itoa(s.dims)},
	}, nil
}

// Warmup runs a handful of throwaway batches to settle Go's allocator
// and scheduler before real traffic arrives.
func (s *Simulated) Warmup(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		if _, err := s.Encode(ctx, make([]core.Payload, s.batchSize)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulated) BatchSize() int           { return s.batchSize }
func (s *Simulated) BatchWait() time.Duration { return s.batchWait }

// Encode performs a matrix-multiply to generate real CPU load, sleeps
// for a batch-size-scaled duration to mimic sublinear GPU kernel
// latency, then emits one deterministic-but-varied embedding per
// payload.
func (s *Simulated) Encode(_ context.Context, payloads []core.Payload) ([]core.Output, error) {
	batchSize := len(payloads)
	if batchSize == 0 {
		return nil, nil
	}

	latency := s.baseLatency + time.Duration(float64(batchSize)*1.5)*time.Millisecond
	matrixWork(64)
	time.Sleep(latency)

	outputs := make([]core.Output, batchSize)
	for i := range outputs {
		vec := make(core.Output, s.dims)
		seed := seedFor(payloads[i])
		for j := range vec {
			vec[j] = float32(math.Sin(float64(seed+j)) * 0.5)
		}
		outputs[i] = vec
	}
	return outputs, nil
}

// seedFor derives a small deterministic seed from the payload so
// repeated calls with the same text produce the same vector, matching
// how a real embedding model is a pure function of its input.
func seedFor(p core.Payload) int {
	h := 0
	for _, b := range []byte(p.Text) {
		h = h*31 + int(b)
	}
	for _, b := range p.Image.Bytes {
		h = h*31 + int(b)
	}
	if h < 0 {
		h = -h
	}
	return h % 997
}

// matrixWork performs an NxN matrix multiplication purely to generate
// real CPU load proportional to what a GPU kernel launch would cost.
func matrixWork(n int) {
	a := make([][]float64, n)
	b := make([][]float64, n)
	c := make([][]float64, n)
	for i := 0; i < n; i++ {
		a[i] = make([]float64, n)
		b[i] = make([]float64, n)
		c[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			a[i][j] = rand.Float64()
			b[i][j] = rand.Float64()
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += a[i][k] * b[k][j]
			}
			c[i][j] = sum
		}
	}
	_ = math.Sqrt(c[0][0])
}
