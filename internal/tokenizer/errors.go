package tokenizer

import "fmt"

// LoadError wraps any failure reading a tokenizer file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load tokenizer %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UnsupportedError names a tokenizer.json component this package cannot run.
type UnsupportedError struct {
	Component string
	Type      string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s type %q", e.Component, e.Type)
}

// TruncationError is returned when max_length cannot even hold the special tokens.
type TruncationError struct {
	MaxLength int
	Special   int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("truncation max_length %d is smaller than the %d special tokens", e.MaxLength, e.Special)
}
