//go:build onnx
// +build onnx

package models

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/tensor"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// OnnxBackend runs an exported encoder graph through ONNX Runtime. The graph
// must emit last_hidden_state as its first output.
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	hidden     int
	logger     *zap.Logger
	mu         sync.Mutex
}

// LoadOnnx opens modelPath. hidden is the expected width of the output rows.
func LoadOnnx(logger *zap.Logger, variant Variant, modelPath string, hidden int) (Backend, error) {
	ortInit.Do(func() {
		// Allow the shared library location to be overridden.
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, &LoadError{Variant: variant, Path: modelPath, Err: fmt.Errorf("onnx runtime init: %w", ortInitErr)}
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, &LoadError{Variant: variant, Path: modelPath, Err: err}
	}
	if len(outputsInfo) == 0 {
		return nil, &LoadError{Variant: variant, Path: modelPath, Err: fmt.Errorf("model reports no outputs")}
	}

	available := make(map[string]string, len(inputsInfo))
	for _, ii := range inputsInfo {
		available[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		if real, ok := available[name]; ok {
			inputNames = append(inputNames, real)
		}
	}
	if len(inputNames) == 0 {
		for _, ii := range inputsInfo {
			inputNames = append(inputNames, ii.Name)
		}
		sort.Strings(inputNames)
	}
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, &LoadError{Variant: variant, Path: modelPath, Err: err}
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("variant", string(variant)),
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputName))
	return &OnnxBackend{session: sess, inputNames: inputNames, outputName: outputName, hidden: hidden, logger: logger}, nil
}

// Device reports the compute device.
func (b *OnnxBackend) Device() tensor.Device { return tensor.CPU }

// HiddenSize is the width of each output row.
func (b *OnnxBackend) HiddenSize() int { return b.hidden }

// Forward runs the graph once for the batch.
func (b *OnnxBackend) Forward(inputIDs, tokenTypeIDs, attentionMask *tensor.IntTensor) (*tensor.Tensor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, fmt.Errorf("onnx backend closed")
	}

	batch, seq := inputIDs.Shape()
	shape := ort.NewShape(int64(batch), int64(seq))
	idsTensor, err := ort.NewTensor[int64](shape, inputIDs.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor[int64](shape, attentionMask.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor[int64](shape, tokenTypeIDs.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "mask"):
			inputs = append(inputs, maskTensor)
		case strings.Contains(lower, "type") || strings.Contains(lower, "segment"):
			inputs = append(inputs, typeTensor)
		default:
			inputs = append(inputs, idsTensor)
		}
	}

	outputs := make([]ort.Value, 1)
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	outShape := out.GetShape()
	if len(outShape) != 3 || int(outShape[0]) != batch || int(outShape[1]) != seq || int(outShape[2]) != b.hidden {
		return nil, &tensor.ShapeError{Op: "onnx output", Want: []int{batch, seq, b.hidden}, Got: toInts(outShape)}
	}
	data := make([]float32, batch*seq*b.hidden)
	copy(data, out.GetData())
	return tensor.New([]int{batch, seq, b.hidden}, data)
}

// Close releases the session.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		err := b.session.Destroy()
		b.session = nil
		return err
	}
	return nil
}

func toInts(shape ort.Shape) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
