//go:build !nvml

package gpu

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Info mirrors the nvml-tagged Info so callers can compile against this
// package regardless of build tags.
type Info struct {
	Name           string
	Index          int
	MemoryTotalGB  float64
	MemoryFreeGB   float64
	MemoryUsedGB   float64
	GPUUtilization float64
	MemUtilization float64
	TemperatureC   float64
}

// NVML is a stub used when the binary was built without the "nvml" tag.
type NVML struct{}

// New always fails: NVML support was not compiled in.
func New(zerolog.Logger) (*NVML, error) {
	return nil, fmt.Errorf("NVML support not compiled in (build with -tags nvml)")
}

func (n *NVML) Available() bool         { return false }
func (n *NVML) GPUCount() int           { return 0 }
func (n *NVML) Read(int) (*Info, error) { return nil, fmt.Errorf("NVML not available") }
func (n *NVML) Shutdown()               {}
