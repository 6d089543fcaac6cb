// Package bootstrap assembles a ready-to-serve core.Worker from process
// configuration: load the model, optionally warm it up, wire the
// scheduler and metrics, and flip the worker to Ready. Both
// cmd/embedctl's "serve" and "batch" subcommands call this so the HTTP
// ingress and the offline pipeline drive the exact same worker
// construction path (SPEC_FULL.md §C: "the same worker facade").
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kunal/embedserve/pkg/config"
	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/gpu"
	"github.com/kunal/embedserve/pkg/metrics"
	"github.com/kunal/embedserve/pkg/model"
)

// Worker bundles everything New constructs: the running core.Worker plus
// the metrics registry the HTTP server's /metrics endpoint serves and
// the NVML handle (if any) the dashboard and /health read telemetry from.
type Worker struct {
	Core    *core.Worker
	Metrics *metrics.Registry
	GPU     *gpu.NVML
}

// New loads the configured model, builds the queue/scheduler/worker
// triple, runs warmup if enabled, and marks the worker Ready. Grounded
// on the original Python's ModelWorker.__init__ / _load_model /
// _maybe_warmup sequence and spec.md §4.2's Loading→Warming→Ready path.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Worker, error) {
	var reg *metrics.Registry
	if cfg.MetricsEnable {
		reg = metrics.New()
	}

	q := core.NewQueue(cfg.Server.MaxQueueSize).SetLogger(log)

	loadStart := time.Now()
	cap, info, err := model.Load(ctx, cfg.ModelDirectory, model.Options{
		ExecutorType: cfg.ExecutorType,
		UseGPU:       cfg.UseNVML == "true",
		EmbedDim:     512,
		DefaultBatch: cfg.Models.DefaultBatchSize,
		DefaultWait:  cfg.DefaultBatchWait(),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load model: %w", err)
	}
	if reg != nil {
		reg.SetModelLoadDuration(time.Since(loadStart))
	}

	var sm core.Metrics
	if reg != nil {
		sm = reg
	}
	sched := core.NewScheduler(q, cap, sm, log)
	w := core.NewWorker(cfg.WorkerID, q, sched, log)
	w.MarkLoading()

	if cfg.Models.WarmupEnabled {
		w.MarkWarming()
		warmupStart := time.Now()
		if err := cap.Warmup(ctx); err != nil {
			return nil, fmt.Errorf("bootstrap: model warmup: %w", err)
		}
		if reg != nil {
			reg.SetModelWarmupDuration(time.Since(warmupStart))
		}
	}

	go sched.Run()
	w.MarkReady(info)

	var nv *gpu.NVML
	if cfg.UseNVML != "false" {
		var err error
		nv, err = gpu.New(log)
		if err != nil {
			log.Warn().Err(err).Msg("🎮 NVML unavailable, dashboard/health will omit GPU telemetry")
			nv = nil
		}
	}

	return &Worker{Core: w, Metrics: reg, GPU: nv}, nil
}

// Shutdown drains and stops the worker within cfg.ShutdownTimeout and
// releases NVML resources, if any were acquired.
func Shutdown(cfg *config.Config, w *Worker) {
	w.Core.Shutdown(cfg.ShutdownTimeout())
	if w.GPU != nil {
		w.GPU.Shutdown()
	}
}
