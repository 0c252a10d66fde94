// Package safetensors reads and writes the safetensors weight format.
//
// A file is an 8-byte little-endian header length, a JSON header mapping tensor
// names to dtype, shape and byte offsets, and the raw tensor bytes. Files are
// memory-mapped read-only; tensors are decoded to float32 on demand, or
// aliased over the mapping with View.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"unsafe"

	"github.com/x448/float16"

	"github.com/raaihank/quackformers/internal/tensor"
)

const (
	metadataKey = "__metadata__"
	// maxHeaderSize guards against a corrupt length prefix.
	maxHeaderSize = 100 << 20
)

// DType names the element types this package can decode.
type DType string

const (
	F32  DType = "F32"
	F16  DType = "F16"
	BF16 DType = "BF16"
)

func (d DType) size() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	default:
		return 0
	}
}

// TensorInfo is a header entry.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// FormatError describes a malformed or unsupported file.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return "safetensors: " + e.Reason
	}
	return fmt.Sprintf("safetensors %s: %s", e.Path, e.Reason)
}

// MissingTensorError is returned when a requested tensor is not present.
type MissingTensorError struct {
	Name string
}

func (e *MissingTensorError) Error() string {
	return fmt.Sprintf("safetensors: tensor %q not found", e.Name)
}

// File is an opened safetensors file.
type File struct {
	path     string
	data     []byte
	body     []byte
	tensors  map[string]TensorInfo
	metadata map[string]string
	release  func() error
}

// Open maps path into memory and parses its header.
func Open(path string) (*File, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	f, err := parse(path, data)
	if err != nil {
		_ = release()
		return nil, err
	}
	f.release = release
	return f, nil
}

// FromBytes parses an in-memory safetensors buffer.
func FromBytes(data []byte) (*File, error) {
	return parse("", data)
}

func parse(path string, data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, &FormatError{Path: path, Reason: "file shorter than header length prefix"}
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderSize || 8+n > uint64(len(data)) {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("invalid header length %d", n)}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &raw); err != nil {
		return nil, &FormatError{Path: path, Reason: "invalid header: " + err.Error()}
	}

	f := &File{
		path:    path,
		data:    data,
		body:    data[8+n:],
		tensors: make(map[string]TensorInfo, len(raw)),
	}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.metadata); err != nil {
				return nil, &FormatError{Path: path, Reason: "invalid metadata: " + err.Error()}
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("invalid entry %q: %v", name, err)}
		}
		if err := f.check(name, info); err != nil {
			return nil, err
		}
		f.tensors[name] = info
	}
	return f, nil
}

func (f *File) check(name string, info TensorInfo) error {
	width := info.DType.size()
	if width == 0 {
		return &FormatError{Path: f.path, Reason: fmt.Sprintf("tensor %q has unsupported dtype %s", name, info.DType)}
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > int64(len(f.body)) {
		return &FormatError{Path: f.path, Reason: fmt.Sprintf("tensor %q offsets %v out of range", name, info.DataOffsets)}
	}
	elems := int64(1)
	for _, d := range info.Shape {
		elems *= int64(d)
	}
	if elems*int64(width) != end-start {
		return &FormatError{Path: f.path, Reason: fmt.Sprintf("tensor %q byte length does not match shape %v", name, info.Shape)}
	}
	return nil
}

// Names lists tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the file contains name.
func (f *File) Has(name string) bool {
	_, ok := f.tensors[name]
	return ok
}

// Info returns the header entry for name.
func (f *File) Info(name string) (TensorInfo, bool) {
	info, ok := f.tensors[name]
	return info, ok
}

// Metadata returns the optional free-form string map from the header.
func (f *File) Metadata() map[string]string { return f.metadata }

// Tensor decodes name into a freshly allocated float32 tensor.
func (f *File) Tensor(name string) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, &MissingTensorError{Name: name}
	}
	raw := f.body[info.DataOffsets[0]:info.DataOffsets[1]]
	out := make([]float32, len(raw)/info.DType.size())

	switch info.DType {
	case F32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case F16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case BF16:
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
	}

	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.New(shape, out)
}

var littleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// View returns name without copying when it is F32 and its bytes are aligned
// on a little-endian host; otherwise it decodes like Tensor. A view is
// read-only and valid only until Close.
func (f *File) View(name string) (*tensor.Tensor, error) {
	info, ok := f.tensors[name]
	if !ok {
		return nil, &MissingTensorError{Name: name}
	}
	raw := f.body[info.DataOffsets[0]:info.DataOffsets[1]]
	if info.DType != F32 || !littleEndian || len(raw) == 0 || uintptr(unsafe.Pointer(&raw[0]))%4 != 0 {
		return f.Tensor(name)
	}
	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	return tensor.New(shape, unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), len(raw)/4))
}

// Close unmaps the file. Tensors already decoded stay valid; views do not.
func (f *File) Close() error {
	if f.release == nil {
		return nil
	}
	release := f.release
	f.release = nil
	f.data, f.body = nil, nil
	return release()
}
