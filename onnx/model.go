package onnx

import "github.com/born-ml/template/internal/tensor"

// Tensor is the tensor type consumed and produced by Model.
type Tensor = tensor.RawTensor

// Model is a loaded ONNX artifact ready for inference.
type Model interface {
	// Forward runs the model on a single NCHW float32 input.
	Forward(input *Tensor) (*Tensor, error)

	// ForwardNamed runs the model with inputs keyed by graph input name and
	// returns every graph output by name.
	ForwardNamed(inputs map[string]*Tensor) (map[string]*Tensor, error)

	InputNames() []string
	OutputNames() []string
	OpsetVersion() int64

	// Metadata returns the model's metadata_props, including the artifact_id
	// stamped at export time.
	Metadata() map[string]string
}
