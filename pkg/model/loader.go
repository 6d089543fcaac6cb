package model

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kunal/embedserve/pkg/core"
)

// fileConfig is the on-disk config.json schema a model directory may
// carry alongside its weights. The file itself is optional, but when
// present it must set "name"; every other field is optional and the
// process config in pkg/config supplies the defaults. Grounded on original
// engine/loader.py's load_model, which reads the same keys.
type fileConfig struct {
	Name        string            `json:"name"`
	Variant     string            `json:"variant"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	BatchSize   int               `json:"batch_size"`
	BatchWaitS  float64           `json:"batch_wait_s"`
	Metadata    map[string]string `json:"metadata"`
}

// Options carries the caller-selected executor and its defaults,
// resolved from pkg/config before Load is called.
type Options struct {
	ExecutorType string // "simulation" or "onnx"
	UseGPU       bool
	EmbedDim     int
	DefaultBatch int
	DefaultWait  time.Duration
}

// Capability is the union of core.Capability and the load lifecycle
// every implementation in this package provides.
type Capability interface {
	core.Capability
	Loadable
}

// Registry caches one loaded Capability per model directory, keyed by
// the directory's absolute path rather than its declared name (spec.md
// §9 design note: "two model implementations exist with identical names
// but different backbones; the selection is filesystem-path-based").
// SPEC_FULL.md §D.2 resolves that open question this way: the path is
// the only identifier guaranteed to distinguish them, so a Registry
// never looks anything up by ModelInfo.Name.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	cap  Capability
	info core.ModelInfo
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// defaultRegistry backs the package-level Load convenience function.
var defaultRegistry = NewRegistry()

// Load validates dir, reads its optional config.json, and constructs
// the Capability selected by opts.ExecutorType, consulting the process
// default Registry first so repeated Loads of the same directory reuse
// the already-loaded Capability instead of re-initialising it.
func Load(ctx context.Context, dir string, opts Options) (Capability, core.ModelInfo, error) {
	return defaultRegistry.Load(ctx, dir, opts)
}

// Load resolves dir to an absolute path and returns the Capability
// already registered under that path, loading it fresh on first use.
// Two directories that declare the same config.json "name" (or
// "variant") are tracked as entirely independent entries because the
// registry key is the path, never the name.
func (r *Registry) Load(ctx context.Context, dir string, opts Options) (Capability, core.ModelInfo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, core.ModelInfo{}, core.NewModelNotFoundError(dir)
	}

	r.mu.Lock()
	if e, ok := r.entries[abs]; ok {
		r.mu.Unlock()
		return e.cap, e.info, nil
	}
	r.mu.Unlock()

	cap, info, err := loadFresh(ctx, abs, opts)
	if err != nil {
		return nil, core.ModelInfo{}, err
	}

	r.mu.Lock()
	r.entries[abs] = &registryEntry{cap: cap, info: info}
	r.mu.Unlock()
	return cap, info, nil
}

// loadFresh does the actual directory validation, config.json read, and
// Capability construction for one absolute model path. abs must already
// be an absolute path; callers own the registry bookkeeping.
func loadFresh(ctx context.Context, abs string, opts Options) (Capability, core.ModelInfo, error) {
	fi, err := os.Stat(abs)
	if err != nil || !fi.IsDir() {
		return nil, core.ModelInfo{}, core.NewModelNotFoundError(abs)
	}

	fc, err := readFileConfig(abs)
	if err != nil {
		return nil, core.ModelInfo{}, err
	}

	batchSize := opts.DefaultBatch
	if fc != nil && fc.BatchSize > 0 {
		batchSize = fc.BatchSize
	}
	batchWait := opts.DefaultWait
	if fc != nil && fc.BatchWaitS > 0 {
		batchWait = time.Duration(fc.BatchWaitS * float64(time.Second))
	}

	var cap Capability
	switch opts.ExecutorType {
	case "onnx":
		cap = newONNXCapability(opts.UseGPU, opts.EmbedDim, batchSize, batchWait)
	case "simulation", "":
		cap = NewSimulated(5*time.Millisecond, opts.EmbedDim, batchSize, batchWait)
	default:
		return nil, core.ModelInfo{}, core.NewConfigurationError("unknown executor_type: " + opts.ExecutorType)
	}

	info, err := cap.Load(ctx, abs)
	if err != nil {
		return nil, core.ModelInfo{}, err
	}
	if fc != nil {
		info = applyFileConfig(info, fc)
	}
	if info.Variant == "" {
		info.Variant = filepath.Base(abs)
	}

	if err := ValidateInterface(cap); err != nil {
		return nil, core.ModelInfo{}, err
	}

	return cap, info, nil
}

func readFileConfig(dir string) (*fileConfig, error) {
	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // config.json is optional; process defaults apply
		}
		return nil, core.NewConfigurationError("failed to read config.json: " + err.Error())
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, core.NewConfigurationError("invalid config.json: " + err.Error())
	}
	if fc.Name == "" {
		return nil, core.NewConfigurationError("config.json must contain 'name' field")
	}
	return &fc, nil
}

func applyFileConfig(info core.ModelInfo, fc *fileConfig) core.ModelInfo {
	info.Name = fc.Name
	if fc.Variant != "" {
		info.Variant = fc.Variant
	}
	if fc.Version != "" {
		info.Version = fc.Version
	}
	if fc.Description != "" {
		info.Description = fc.Description
	}
	if fc.BatchSize > 0 {
		info.BatchSize = fc.BatchSize
	}
	if fc.BatchWaitS > 0 {
		info.BatchWait = time.Duration(fc.BatchWaitS * float64(time.Second))
	}
	for k, v := range fc.Metadata {
		if info.Metadata == nil {
			info.Metadata = map[string]string{}
		}
		info.Metadata[k] = v
	}
	return info
}

// ValidateInterface checks that cap implements every method the worker
// facade depends on, matching original engine/loader.py's
// validate_model_interface — in Go this is enforced by the Capability
// interface at compile time, so this stays a defensive runtime nil
// check rather than a reflective method scan.
func ValidateInterface(cap Capability) error {
	if cap == nil {
		return core.NewModelLoadError("model capability is nil", nil)
	}
	return nil
}
