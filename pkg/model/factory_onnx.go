//go:build onnx

package model

import "time"

func newONNXCapability(useGPU bool, embedDim, batchSize int, batchWait time.Duration) Capability {
	return NewONNX(useGPU, embedDim, batchSize, batchWait)
}
