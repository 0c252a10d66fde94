//go:build !unix

package safetensors

import (
	"fmt"
	"os"
)

func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read weights: %w", err)
	}
	return data, func() error { return nil }, nil
}
