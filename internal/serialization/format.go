package serialization

import (
	"time"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: no checksum
	FormatVersionV2   = 2    // v2: SHA-256 over the data section
	HeaderAlignment   = 64   // tensor data starts on a 64-byte boundary
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size
	ChecksumOffsetV2  = 0x20 // checksum offset in the v2 fixed header
)

// Header flags.
const (
	FlagHasMetadata   uint32 = 1 << 2 // Metadata is non-empty
	FlagHasCheckpoint uint32 = 1 << 3 // Checkpoint is set
)

// Header is the JSON header of a .born file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	ModelType     string            `json:"model_type"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Metadata      map[string]string `json:"metadata"`
	Checkpoint    *CheckpointMeta   `json:"checkpoint,omitempty"`
}

// Tensor returns the metadata of the named tensor.
func (h *Header) Tensor(name string) (TensorMeta, bool) {
	for _, meta := range h.Tensors {
		if meta.Name == name {
			return meta, true
		}
	}
	return TensorMeta{}, false
}

// TensorNames returns tensor names in file order.
func (h *Header) TensorNames() []string {
	names := make([]string, len(h.Tensors))
	for i, meta := range h.Tensors {
		names[i] = meta.Name
	}
	return names
}

// CheckpointMeta describes the training progress stored with a checkpoint.
type CheckpointMeta struct {
	Epoch        int            `json:"epoch"`
	Step         int64          `json:"step"`
	TrainingMeta map[string]any `json:"training_meta,omitempty"`
}

// TensorMeta locates one tensor inside the data section.
type TensorMeta struct {
	Name   string `json:"name"`  // e.g. "conv_1.conv.weight"
	DType  string `json:"dtype"` // tensor.DataType.String()
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from the start of the data section
	Size   int64  `json:"size"`   // bytes
}

// Producer is written into every header.
const Producer = "born-template"

func alignedPosition(pos int64) int64 {
	return pos + (HeaderAlignment-(pos%HeaderAlignment))%HeaderAlignment
}
