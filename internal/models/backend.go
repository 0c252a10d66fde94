// Package models implements the transformer encoders that turn token id
// matrices into per-token hidden states.
package models

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/raaihank/quackformers/internal/safetensors"
	"github.com/raaihank/quackformers/internal/tensor"
)

// Backend is a loaded encoder. Forward returns (batch, seq, hidden) float32
// hidden states for right-padded inputs of identical shape.
type Backend interface {
	Device() tensor.Device
	HiddenSize() int
	Forward(inputIDs, tokenTypeIDs, attentionMask *tensor.IntTensor) (*tensor.Tensor, error)
	Close() error
}

// ErrOnnxUnavailable is returned when the ONNX backend is requested from a
// build without the onnx tag.
var ErrOnnxUnavailable = errors.New("onnx backend not compiled in; rebuild with -tags onnx")

// LoadError reports that an encoder could not be constructed.
type LoadError struct {
	Variant Variant
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s model from %s: %v", e.Variant, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load memory-maps weightsPath and builds the encoder for variant. F32
// weights alias the read-only mapping, which the backend owns until Close.
func Load(variant Variant, weightsPath string, cfg Config) (Backend, error) {
	file, err := safetensors.Open(weightsPath)
	if err != nil {
		return nil, &LoadError{Variant: variant, Path: weightsPath, Err: err}
	}

	backend, err := FromSource(variant, mappedSource{file}, cfg)
	if err != nil {
		_ = file.Close()
		return nil, &LoadError{Variant: variant, Path: weightsPath, Err: err}
	}
	return &mappedBackend{Backend: backend, file: file}, nil
}

// mappedSource serves views instead of copies.
type mappedSource struct {
	file *safetensors.File
}

func (s mappedSource) Has(name string) bool { return s.file.Has(name) }

func (s mappedSource) Tensor(name string) (*tensor.Tensor, error) { return s.file.View(name) }

// mappedBackend unmaps the weights after the encoder drops them.
type mappedBackend struct {
	Backend
	file *safetensors.File
}

func (m *mappedBackend) Close() error {
	return multierr.Combine(m.Backend.Close(), m.file.Close())
}

// FromSource builds the encoder for variant from an already opened source.
func FromSource(variant Variant, src TensorSource, cfg Config) (Backend, error) {
	switch variant {
	case VariantBert:
		return NewBertModel(src, cfg)
	case VariantJina:
		return NewJinaBertModel(src, cfg)
	default:
		return nil, fmt.Errorf("unknown model variant %q", variant)
	}
}
