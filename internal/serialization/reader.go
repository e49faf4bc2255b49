package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/template/internal/tensor"
)

// Reader gives random access to the tensors of a .born file.
type Reader struct {
	file       *os.File
	header     Header
	version    uint32
	flags      uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures Open.
type ReaderOptions struct {
	SkipChecksumValidation bool
	ValidationLevel        ValidationLevel
}

// Open opens path with strict validation and checksum verification.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{ValidationLevel: ValidationStrict})
}

// OpenWithOptions opens path with the given options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{file: file, opts: opts}
	if err := r.init(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (r *Reader) init() error {
	if err := r.parseHeader(); err != nil {
		return fmt.Errorf("failed to parse header: %w", err)
	}

	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	available := info.Size() - r.dataOffset
	if r.version == FormatVersion {
		r.dataSize = available
	} else if r.dataSize > available {
		return &ValidationError{
			Type:    "truncated",
			Details: fmt.Sprintf("data section declares %d bytes, file holds %d", r.dataSize, available),
		}
	}

	if err := ValidateHeader(&r.header, r.dataSize, r.opts.ValidationLevel); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if r.version == FormatVersionV2 && !r.opts.SkipChecksumValidation {
		if _, err := r.file.Seek(r.dataOffset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to tensor data: %w", err)
		}
		sum, err := ComputeChecksumReader(io.LimitReader(r.file, r.dataSize))
		if err != nil {
			return fmt.Errorf("failed to read tensor data for checksum: %w", err)
		}
		if err := ValidateChecksum(sum, r.checksum); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) parseHeader() error {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r.file, prefix); err != nil {
		return fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(prefix[:4]) != MagicBytes {
		return ErrInvalidMagic
	}
	r.version = binary.LittleEndian.Uint32(prefix[4:8])

	var headerSize uint64
	var headerStart int64
	switch r.version {
	case FormatVersion:
		rest := make([]byte, 12)
		if _, err := io.ReadFull(r.file, rest); err != nil {
			return fmt.Errorf("failed to read v1 header: %w", err)
		}
		r.flags = binary.LittleEndian.Uint32(rest[0:4])
		headerSize = binary.LittleEndian.Uint64(rest[4:12])
		headerStart = 20
	case FormatVersionV2:
		rest := make([]byte, FixedHeaderSizeV2-8)
		if _, err := io.ReadFull(r.file, rest); err != nil {
			return fmt.Errorf("failed to read fixed header: %w", err)
		}
		fixed := append(prefix, rest...)
		r.flags = binary.LittleEndian.Uint32(fixed[8:12])
		headerSize = binary.LittleEndian.Uint64(fixed[16:24])
		r.dataSize = int64(binary.LittleEndian.Uint64(fixed[24:32]))
		copy(r.checksum[:], fixed[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])
		headerStart = FixedHeaderSizeV2
	default:
		return fmt.Errorf("%w: got %d, expected %d or %d", ErrUnsupportedVersion, r.version, FormatVersion, FormatVersionV2)
	}

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerJSON); err != nil {
		return fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerJSON, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}

	r.dataOffset = alignedPosition(headerStart + int64(headerSize))
	return nil
}

// Header returns the decoded JSON header.
func (r *Reader) Header() Header {
	return r.header
}

// Version returns the file format version.
func (r *Reader) Version() int {
	return int(r.version)
}

// Flags returns the header flags.
func (r *Reader) Flags() uint32 {
	return r.flags
}

// Metadata returns the free-form header metadata.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// ReadTensorData returns the raw bytes of the named tensor.
func (r *Reader) ReadTensorData(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	meta, ok := r.header.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}

	data := make([]byte, meta.Size)
	if _, err := r.file.ReadAt(data, r.dataOffset+meta.Offset); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return data, nil
}

// LoadTensor reads the named tensor into CPU memory.
func (r *Reader) LoadTensor(name string) (*tensor.RawTensor, error) {
	meta, ok := r.header.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	dtype, ok := tensor.ParseDataType(meta.DType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, meta.DType)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}
	raw, err := tensor.FromBytes(data, tensor.Shape(meta.Shape), dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return raw, nil
}

// ReadStateDict loads every tensor in the file.
func (r *Reader) ReadStateDict() (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name)
		if err != nil {
			return nil, err
		}
		stateDict[meta.Name] = raw
	}
	return stateDict, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// ReadHeader returns the header of path without loading tensors. The checksum
// is still verified.
func ReadHeader(path string) (Header, error) {
	r, err := Open(path)
	if err != nil {
		return Header{}, err
	}
	defer func() { _ = r.Close() }()
	return r.Header(), nil
}

// ReadFile loads the state dict and header of path.
func ReadFile(path string) (map[string]*tensor.RawTensor, Header, error) {
	r, err := Open(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer func() { _ = r.Close() }()

	stateDict, err := r.ReadStateDict()
	if err != nil {
		return nil, Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return stateDict, r.Header(), nil
}
