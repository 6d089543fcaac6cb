package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/kunal/embedserve/pkg/gpu"
)

type inferResponse struct {
	Output         core.Output `json:"output"`
	RequestID      string      `json:"request_id"`
	ProcessingTime float64     `json:"processing_time_ms"`
	BatchSize      int         `json:"batch_size"`
	TotalTime      float64     `json:"total_time_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleInfer implements spec.md §6 /infer: parse → submit → translate
// the resulting core.Error kind to a status code.
func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	payload, err := parseInferRequest(w, r, s.maxImageBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.worker.Submit(payload, nil, s.requestTimeout)
	if err != nil {
		status, msg := classifyError(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, inferResponse{
		Output:         resp.Output,
		RequestID:      resp.RequestID.String(),
		ProcessingTime: float64(resp.ProcessingTime.Microseconds()) / 1000.0,
		BatchSize:      resp.BatchSize,
		TotalTime:      float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

// classifyError maps a core.Error kind to the HTTP status spec.md §6
// and §7 assign it.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrQueueFull):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout, err.Error()
	case errors.Is(err, core.ErrProcessingError):
		return http.StatusInternalServerError, err.Error()
	case errors.Is(err, core.ErrShutdown):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

type healthResponse struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Version string    `json:"version"`
	GPU     *gpu.Info `json:"gpu,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: "embedserve",
		Version: s.serviceVersion,
		GPU:     s.GPUInfo(),
	})
}

type modelInfoDTO struct {
	Name        string            `json:"name"`
	Variant     string            `json:"variant,omitempty"`
	Version     string            `json:"version,omitempty"`
	Description string            `json:"description,omitempty"`
	BatchSize   int               `json:"batch_size"`
	BatchWaitMs float64           `json:"batch_wait_ms"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toModelInfoDTO(info core.ModelInfo) modelInfoDTO {
	return modelInfoDTO{
		Name:        info.Name,
		Variant:     info.Variant,
		Version:     info.Version,
		Description: info.Description,
		BatchSize:   info.BatchSize,
		BatchWaitMs: float64(info.BatchWait.Microseconds()) / 1000.0,
		Metadata:    info.Metadata,
	}
}

type readyResponse struct {
	Status string       `json:"status"`
	Model  modelInfoDTO `json:"model"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.worker.State() != core.StateReady {
		writeError(w, http.StatusServiceUnavailable, "worker not ready")
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{
		Status: "ready",
		Model:  toModelInfoDTO(s.worker.Info()),
	})
}

type infoResponse struct {
	Service string            `json:"service"`
	Model   modelInfoDTO      `json:"model"`
	Queue   core.QueueMetrics `json:"queue"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Service: "embedserve",
		Model:   toModelInfoDTO(s.worker.Info()),
		Queue:   s.worker.QueueMetrics(),
	})
}
