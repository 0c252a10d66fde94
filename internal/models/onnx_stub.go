//go:build !onnx
// +build !onnx

package models

import (
	"go.uber.org/zap"
)

// LoadOnnx always fails in builds without the onnx tag.
func LoadOnnx(logger *zap.Logger, variant Variant, modelPath string, hidden int) (Backend, error) {
	logger.Warn("ONNX backend requested but not compiled in", zap.String("variant", string(variant)))
	return nil, &LoadError{Variant: variant, Path: modelPath, Err: ErrOnnxUnavailable}
}
