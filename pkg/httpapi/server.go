// Package httpapi is the HTTP ingress that sits in front of a
// core.Worker: multipart request parsing, content-type/size checks, and
// translating core.Error kinds to the status codes spec.md §6 names.
// Grounded on the teacher's pkg/worker/server.go RegisterMetricsHTTP,
// generalized from a bare net/http.ServeMux with two routes to the full
// /infer, /health, /ready, /metrics, /info surface — and from gRPC's
// Infer method (context-cancellation-aware blocking call) to an
// equivalent plain-HTTP handler over the same Worker.Submit.
package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/gpu"
	"github.com/kunal/embedserve/pkg/metrics"
)

// Server wires a core.Worker to the HTTP surface spec.md §6 describes.
type Server struct {
	worker         *core.Worker
	registry       *metrics.Registry
	gpu            *gpu.NVML
	log            zerolog.Logger
	requestTimeout time.Duration
	maxImageBytes  int64
	serviceVersion string
	metricsPath    string
}

// Config carries the tunables Server needs beyond the Worker itself.
type Config struct {
	RequestTimeout time.Duration
	MaxImageBytes  int64 // 0 or less selects the 10 MiB default
	ServiceVersion string
	MetricsPath    string // defaults to "/metrics"
	GPU            *gpu.NVML
}

// New constructs a Server. registry may be nil, in which case /metrics
// responds 404 (spec.md §6 "404 if disabled"). cfg.GPU may be nil, in
// which case /health and the dashboard omit GPU telemetry.
func New(worker *core.Worker, registry *metrics.Registry, log zerolog.Logger, cfg Config) *Server {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20 // 10 MiB
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{
		worker:         worker,
		registry:       registry,
		gpu:            cfg.GPU,
		log:            log,
		requestTimeout: cfg.RequestTimeout,
		maxImageBytes:  cfg.MaxImageBytes,
		serviceVersion: cfg.ServiceVersion,
		metricsPath:    cfg.MetricsPath,
	}
}

// GPUInfo reads a fresh GPU telemetry sample for index 0, or nil if
// NVML was never acquired or reports no device. Exposed so callers
// outside this package (the dashboard ticker) can reuse the same
// reader the /health endpoint uses.
func (s *Server) GPUInfo() *gpu.Info {
	if s.gpu == nil || !s.gpu.Available() {
		return nil
	}
	info, err := s.gpu.Read(0)
	if err != nil {
		return nil
	}
	return info
}

// Mux builds the *http.ServeMux routing every endpoint spec.md §6 lists.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/infer", s.handleInfer)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/info", s.handleInfo)
	if s.registry != nil {
		mux.Handle(s.metricsPath, s.registry.Handler())
	} else {
		mux.HandleFunc(s.metricsPath, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return mux
}
