// Package model loads and runs the embedding model a Worker drives. An
// implementation only has to satisfy core.Capability; this package ships
// a CPU simulation usable without any native dependency and, behind the
// "onnx" build tag, a real ONNX Runtime binding.
package model

import (
	"context"
	"time"

	"github.com/kunal/embedserve/pkg/core"
)

// Loadable is the load lifecycle every pkg/model implementation adds on
// top of core.Capability, the interface core code depends on; the two
// are combined as this package's Capability. Load and Warmup are not
// part of core.Capability because the scheduler never calls them —
// model.Load calls Load and bootstrap.New calls Warmup, once, during
// startup.
type Loadable interface {
	// Load reads the model from dir and prepares it to serve. Called
	// once during Worker startup before the scheduler goroutine starts.
	Load(ctx context.Context, dir string) (core.ModelInfo, error)

	// Warmup runs a handful of throwaway batches to pay JIT/allocator
	// costs before traffic arrives. Optional: gated by
	// models.warmup_enabled.
	Warmup(ctx context.Context) error
}

// Config carries the load-time tunables that come from pkg/config
// rather than from the model directory's own config.json.
type Config struct {
	BatchSize int
	BatchWait time.Duration
}
