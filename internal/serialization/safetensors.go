package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/template/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

const safeTensorsMetadataKey = "__metadata__"

// SafeTensorsDType is a dtype tag of the SafeTensors format.
type SafeTensorsDType string

// SafeTensors dtypes the tensor package can hold.
const (
	SafeTensorsF32 SafeTensorsDType = "F32"
	SafeTensorsI64 SafeTensorsDType = "I64"
	SafeTensorsU8  SafeTensorsDType = "U8"
)

// SafeTensorInfo describes one tensor of a SafeTensors header.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header of a SafeTensors file.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON splits the metadata entry from the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[safeTensorsMetadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		delete(rawMap, safeTensorsMetadataKey)
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for name, raw := range rawMap {
		var info SafeTensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", name, err)
		}
		h.Tensors[name] = info
	}
	return nil
}

// MarshalJSON writes the tensor entries and the metadata as one flat object.
func (h SafeTensorsHeader) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat[safeTensorsMetadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	return json.Marshal(flat)
}

// metas converts the tensor entries to TensorMeta sorted by offset so the
// shared header validation can check them.
func (h *SafeTensorsHeader) metas() []TensorMeta {
	metas := make([]TensorMeta, 0, len(h.Tensors))
	for name, info := range h.Tensors {
		dtype := string(info.DType)
		if dt, err := info.DType.DataType(); err == nil {
			dtype = dt.String()
		}
		metas = append(metas, TensorMeta{
			Name:   name,
			DType:  dtype,
			Shape:  info.Shape,
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Offset < metas[j].Offset })
	return metas
}

// SafeTensorsReader reads tensors from a SafeTensors file.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	headerSize uint64
	dataOffset int64
}

// NewSafeTensorsReader opens path and validates its header against the size
// of the data section.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &SafeTensorsReader{file: file}
	if err := r.init(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *SafeTensorsReader) init() error {
	var headerSize uint64
	if err := binary.Read(r.file, binary.LittleEndian, &headerSize); err != nil {
		return fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	r.headerSize = headerSize

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerBytes); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	r.dataOffset = 8 + int64(headerSize)

	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	header := Header{Tensors: r.header.metas()}
	if err := ValidateHeader(&header, info.Size()-r.dataOffset, ValidationStrict); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	return r.file.Close()
}

// Metadata returns the header metadata.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the tensor names in sorted order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns the header entry of the named tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return SafeTensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return info, nil
}

// ReadTensorData returns the raw bytes of the named tensor.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	start := info.DataOffsets[0]
	size := info.DataOffsets[1] - start
	if size < 0 {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]", name, start, info.DataOffsets[1])
	}

	data := make([]byte, size)
	if _, err := r.file.ReadAt(data, r.dataOffset+start); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor reads the named tensor into CPU memory.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	dtype, err := info.DType.DataType()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}
	raw, err := tensor.FromBytes(data, tensor.Shape(info.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

// EncodeSafeTensors writes tensors in the SafeTensors format with the tensor
// bytes concatenated in name order.
func EncodeSafeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := SafeTensorsHeader{
		Metadata: metadata,
		Tensors:  make(map[string]SafeTensorInfo, len(names)),
	}
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		dtype, err := safeTensorsDType(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(raw.ByteSize())
		header.Tensors[name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       append([]int(nil), raw.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// WriteSafeTensors writes tensors to path in SafeTensors format.
func WriteSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := EncodeSafeTensors(bw, tensors, metadata); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return bw.Flush()
}

// ReadSafeTensors loads every tensor and the metadata of a SafeTensors file.
func ReadSafeTensors(path string) (map[string]*tensor.RawTensor, map[string]string, error) {
	r, err := NewSafeTensorsReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.Close() }()

	tensors := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, name := range r.TensorNames() {
		raw, err := r.LoadTensor(name)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		tensors[name] = raw
	}
	return tensors, r.Metadata(), nil
}

// DataType maps the tag to a tensor dtype.
func (d SafeTensorsDType) DataType() (tensor.DataType, error) {
	switch d {
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, d)
	}
}

func safeTensorsDType(dt tensor.DataType) (SafeTensorsDType, error) {
	switch dt {
	case tensor.Float32:
		return SafeTensorsF32, nil
	case tensor.Int64:
		return SafeTensorsI64, nil
	case tensor.Uint8:
		return SafeTensorsU8, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}
