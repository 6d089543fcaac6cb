//go:build onnx

package model

/*
#cgo LDFLAGS: -lonnxruntime
#include <onnxruntime_c_api.h>
#include <stdlib.h>

static const OrtApi* g_ort = NULL;
static OrtEnv* g_env = NULL;
static OrtSession* g_session = NULL;
static OrtSessionOptions* g_session_opts = NULL;
static OrtMemoryInfo* g_memory_info = NULL;
static OrtAllocator* g_allocator = NULL;

static int ort_init(const char* model_path, int use_gpu) {
    g_ort = OrtGetApiBase()->GetApi(ORT_API_VERSION);
    if (!g_ort) return -1;

    OrtStatus* status = NULL;

    status = g_ort->CreateEnv(ORT_LOGGING_LEVEL_WARNING, "embedserve", &g_env);
    if (status) { g_ort->ReleaseStatus(status); return -2; }

    status = g_ort->CreateSessionOptions(&g_session_opts);
    if (status) { g_ort->ReleaseStatus(status); return -3; }

    if (use_gpu) {
        status = OrtSessionOptionsAppendExecutionProvider_CUDA(g_session_opts, 0);
        if (status) {
            g_ort->ReleaseStatus(status);
        }
    }

    g_ort->SetIntraOpNumThreads(g_session_opts, 4);
    g_ort->SetSessionGraphOptimizationLevel(g_session_opts, ORT_ENABLE_ALL);

    status = g_ort->CreateSession(g_env, model_path, g_session_opts, &g_session);
    if (status) { g_ort->ReleaseStatus(status); return -4; }

    status = g_ort->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, &g_memory_info);
    if (status) { g_ort->ReleaseStatus(status); return -5; }

    status = g_ort->GetAllocatorWithDefaultOptions(&g_allocator);
    if (status) { g_ort->ReleaseStatus(status); return -6; }

    return 0;
}

// Run inference on a batch of float image data, producing one
// fixed-width embedding vector per image.
// Input shape: [batch_size, 3, 224, 224]
// Output shape: [batch_size, embed_dim]
static int ort_run_batch(float* input_data, int batch_size, int embed_dim, float* output_data) {
    if (!g_session || !g_ort) return -1;

    OrtStatus* status = NULL;
    const int64_t input_shape[] = {batch_size, 3, 224, 224};
    const size_t input_len = (size_t)batch_size * 3 * 224 * 224 * sizeof(float);

    OrtValue* input_tensor = NULL;
    status = g_ort->CreateTensorWithDataAsOrtValue(
        g_memory_info, input_data, input_len,
        input_shape, 4, ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT,
        &input_tensor
    );
    if (status) { g_ort->ReleaseStatus(status); return -2; }

    char* input_name = NULL;
    char* output_name = NULL;
    g_ort->SessionGetInputName(g_session, 0, g_allocator, &input_name);
    g_ort->SessionGetOutputName(g_session, 0, g_allocator, &output_name);

    const char* input_names[] = { input_name };
    const char* output_names[] = { output_name };
    OrtValue* output_tensor = NULL;

    status = g_ort->Run(
        g_session, NULL,
        input_names, (const OrtValue* const*)&input_tensor, 1,
        output_names, 1,
        &output_tensor
    );

    g_ort->AllocatorFree(g_allocator, input_name);
    g_ort->AllocatorFree(g_allocator, output_name);
    g_ort->ReleaseValue(input_tensor);

    if (status) {
        g_ort->ReleaseStatus(status);
        return -3;
    }

    float* out_ptr = NULL;
    g_ort->GetTensorMutableData(output_tensor, (void**)&out_ptr);
    for (int i = 0; i < batch_size * embed_dim; i++) {
        output_data[i] = out_ptr[i];
    }

    g_ort->ReleaseValue(output_tensor);
    return 0;
}

static void ort_cleanup() {
    if (g_session) g_ort->ReleaseSession(g_session);
    if (g_session_opts) g_ort->ReleaseSessionOptions(g_session_opts);
    if (g_memory_info) g_ort->ReleaseMemoryInfo(g_memory_info);
    if (g_env) g_ort->ReleaseEnv(g_env);
}
*/
import "C"

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"github.com/kunal/embedserve/pkg/core"
)

// ONNX runs real inference via ONNX Runtime's C API, loading a model
// file from the directory Load is given. Grounded on the teacher's
// pkg/worker/executor/onnx.go ONNXExecutor, with the ImageNet
// softmax/top-5 postprocessing replaced by a raw embedding-vector
// passthrough — spec.md's Output is the model's own feature vector, not
// a class distribution.
type ONNX struct {
	mu        sync.Mutex
	useGPU    bool
	embedDim  int
	ready     bool
	batchSize int
	batchWait time.Duration
}

// NewONNX constructs an ONNX capability. The model itself is loaded
// later, via Load, once the directory is known.
func NewONNX(useGPU bool, embedDim, batchSize int, batchWait time.Duration) *ONNX {
	return &ONNX{useGPU: useGPU, embedDim: embedDim, batchSize: batchSize, batchWait: batchWait}
}

func (e *ONNX) Load(_ context.Context, dir string) (core.ModelInfo, error) {
	modelPath := filepath.Join(dir, "model.onnx")

	cModelPath := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cModelPath))

	gpuFlag := C.int(0)
	if e.useGPU {
		gpuFlag = 1
	}

	rc := C.ort_init(cModelPath, gpuFlag)
	if rc != 0 {
		return core.ModelInfo{}, core.NewModelLoadError(
			fmt.Sprintf("ONNX Runtime init failed (code %d) for %s", rc, modelPath), nil)
	}
	e.ready = true

	return core.ModelInfo{
		Name:        "onnx-embedding",
		Version:     "onnxruntime",
		Description: modelPath,
		BatchSize:   e.batchSize,
		BatchWait:   e.batchWait,
		Metadata:    map[string]string{"gpu": fmt.Sprintf("%v", e.useGPU), "embed_dim": fmt.Sprintf("%d", e.embedDim)},
	}, nil
}

func (e *ONNX) Warmup(ctx context.Context) error {
	_, err := e.Encode(ctx, make([]core.Payload, e.batchSize))
	return err
}

func (e *ONNX) BatchSize() int           { return e.batchSize }
func (e *ONNX) BatchWait() time.Duration { return e.batchWait }

func (e *ONNX) Name() string {
	if e.useGPU {
		return "onnx-gpu"
	}
	return "onnx-cpu"
}

// Encode runs one batch through ONNX Runtime. Each payload's image
// bytes are treated as raw pixel data; payloads too small to fill a
// 3x224x224 tensor are padded with 0.5, matching the teacher's approach for
// arbitrary test payloads.
func (e *ONNX) Encode(_ context.Context, payloads []core.Payload) ([]core.Output, error) {
	if !e.ready {
		return nil, core.NewProcessingError(fmt.Errorf("onnx executor not initialized"))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batchSize := len(payloads)
	if batchSize == 0 {
		return nil, nil
	}

	const chw = 3 * 224 * 224
	inputData := make([]float32, batchSize*chw)
	for i, p := range payloads {
		offset := i * chw
		img := p.Image.Bytes
		for j := 0; j < chw; j++ {
			if j < len(img) {
				inputData[offset+j] = float32(img[j]) / 255.0
			} else {
				inputData[offset+j] = 0.5
			}
		}
	}

	outputData := make([]float32, batchSize*e.embedDim)
	rc := C.ort_run_batch(
		(*C.float)(unsafe.Pointer(&inputData[0])),
		C.int(batchSize),
		C.int(e.embedDim),
		(*C.float)(unsafe.Pointer(&outputData[0])),
	)
	if rc != 0 {
		return nil, core.NewProcessingError(fmt.Errorf("onnx inference failed (code %d)", rc))
	}

	outputs := make([]core.Output, batchSize)
	for i := 0; i < batchSize; i++ {
		offset := i * e.embedDim
		vec := make(core.Output, e.embedDim)
		copy(vec, outputData[offset:offset+e.embedDim])
		outputs[i] = vec
	}
	return outputs, nil
}

// Cleanup releases ONNX Runtime resources. Call once during Worker
// shutdown after the scheduler has stopped.
func (e *ONNX) Cleanup() {
	C.ort_cleanup()
	e.ready = false
}
