//go:build !onnx

package model

import (
	"context"
	"time"

	"github.com/kunal/embedserve/pkg/core"
)

// newONNXCapability is a placeholder returned when the binary was built
// without the "onnx" tag. Its Load always fails with ConfigurationError
// so operators get a clear message instead of a missing-symbol panic.
func newONNXCapability(_ bool, _, _ int, _ time.Duration) Capability {
	return &unavailableONNX{}
}

type unavailableONNX struct{}

func (unavailableONNX) Load(_ context.Context, _ string) (core.ModelInfo, error) {
	return core.ModelInfo{}, core.NewConfigurationError(
		"executor_type=onnx requires a binary built with -tags onnx")
}
func (unavailableONNX) Warmup(context.Context) error { return nil }
func (unavailableONNX) BatchSize() int               { return 0 }
func (unavailableONNX) BatchWait() time.Duration     { return 0 }
func (unavailableONNX) Encode(context.Context, []core.Payload) ([]core.Output, error) {
	return nil, core.NewConfigurationError("onnx executor unavailable")
}
