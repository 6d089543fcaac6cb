package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kunal/embedserve/pkg/bootstrap"
	"github.com/kunal/embedserve/pkg/config"
	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/dashboard"
	"github.com/kunal/embedserve/pkg/healthscore"
	"github.com/kunal/embedserve/pkg/httpapi"
	"github.com/kunal/embedserve/pkg/logging"
)

// newServeCmd runs the HTTP ingress in front of a single worker,
// grounded on the teacher's cmd/worker/main.go wiring sequence (load
// config, build the worker, start background servers, wait on a signal,
// drain on shutdown) with the gRPC+metrics-only surface widened to the
// full /infer, /health, /ready, /metrics, /info, /ws surface spec.md §6
// and SPEC_FULL.md §B describe. Metrics and the dashboard each get their
// own listener on their own port, mirroring the teacher's worker/router
// split between the main RPC port and cfg.MetricsPort/cfg.DashboardPort.
func newServeCmd() *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inference server (HTTP ingress + batching worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", true, "human-readable console logging instead of JSON")
	return cmd
}

func runServe(pretty bool) error {
	cfg := config.Load()
	log := logging.New("embedserve", pretty)

	log.Info().Str("worker_id", cfg.WorkerID).Str("executor", cfg.ExecutorType).
		Int("max_queue_size", cfg.Server.MaxQueueSize).Msg("⚡ embedserve starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	wk, err := bootstrap.New(ctx, cfg, log)
	cancel()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info().Str("model", wk.Core.Info().Name).Msg("✅ model ready")

	srv := httpapi.New(wk.Core, wk.Metrics, log, httpapi.Config{
		RequestTimeout: cfg.RequestTimeout(),
		ServiceVersion: "embedctl-dev",
		MetricsPath:    cfg.MetricsPath,
		GPU:            wk.GPU,
	})
	mux := srv.Mux()

	bc := dashboard.NewBroadcaster(log)
	stopTicker := make(chan struct{})
	go runDashboardTicker(wk, srv, bc, stopTicker)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("🚀 HTTP ingress listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("❌ HTTP server failed")
		}
	}()

	var metricsSrv *http.Server
	if wk.Metrics != nil && cfg.MetricsEnable {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, wk.Metrics.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
		go func() {
			log.Info().Int("port", cfg.MetricsPort).Str("path", cfg.MetricsPath).Msg("📊 metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("❌ metrics server failed")
			}
		}()
	}

	dashboardMux := http.NewServeMux()
	dashboardMux.HandleFunc("/ws", bc.HandleWS)
	dashboardSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.DashboardPort), Handler: dashboardMux}
	go func() {
		log.Info().Int("port", cfg.DashboardPort).Msg("📊 dashboard listening")
		if err := dashboardSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("❌ dashboard server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 shutting down")

	close(stopTicker)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = dashboardSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	shutdownCancel()

	bootstrap.Shutdown(cfg, wk)
	log.Info().Msg("✅ embedserve stopped")
	return nil
}

// runDashboardTicker pushes a WorkerState frame to connected dashboard
// clients every second until stop is closed, grounded on the teacher's
// pkg/worker/metrics.go simulationLoop ticker shape. GPU telemetry is
// read through the same httpapi.Server.GPUInfo the /health endpoint
// uses, so both surfaces report the same sample.
func runDashboardTicker(wk *bootstrap.Worker, srv *httpapi.Server, bc *dashboard.Broadcaster, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			qm := wk.Core.QueueMetrics()
			gpuInfo := srv.GPUInfo()
			snap := healthscore.Snapshot{
				QueueDepth:    qm.Depth,
				QueueCapacity: qm.Capacity,
				Healthy:       wk.Core.State() == core.StateReady,
				GPU:           gpuInfo,
			}
			bc.Broadcast(dashboard.WorkerState{
				ID:            wk.Core.Info().Name,
				State:         wk.Core.State().String(),
				Score:         healthscore.Score(snap),
				QueueDepth:    qm.Depth,
				QueueCapacity: qm.Capacity,
				Healthy:       healthscore.Ready(snap),
				GPU:           gpuInfo,
			})
		}
	}
}
