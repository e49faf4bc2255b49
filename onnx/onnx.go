// Package onnx loads the ONNX artifacts written by run-export so serving code
// can execute them without the training stack.
//
//	model, err := onnx.Load("experiments/cifar/run_1/exports/cifar.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	x, err := onnx.NewInput([]int{1, 3, 32, 32}, pixels)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logits, err := model.Forward(x)
//
// Only the operators emitted by the exporter are supported; see
// [ListSupportedOps].
package onnx

import (
	"fmt"

	"github.com/born-ml/template/internal/backend/cpu"
	internalonnx "github.com/born-ml/template/internal/onnx"
	"github.com/born-ml/template/internal/tensor"
)

// ArtifactIDKey is the metadata key holding the id of an exported artifact.
const ArtifactIDKey = "artifact_id"

// ModelInfo summarises a model file without executing it.
type ModelInfo = internalonnx.ModelInfo

// Load reads and compiles the model at path on the CPU backend.
func Load(path string) (Model, error) {
	m, err := internalonnx.Load(path, cpu.New())
	if err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromBytes is like Load for an in-memory model.
func LoadFromBytes(data []byte) (Model, error) {
	m, err := internalonnx.LoadFromBytes(data, cpu.New())
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetModelInfo parses the model at path and summarises its graph.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := internalonnx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return internalonnx.GetModelInfo(proto), nil
}

// ListSupportedOps returns the operator types Load can execute.
func ListSupportedOps() []string {
	return internalonnx.ListSupportedOps()
}

// NewInput copies data into a float32 tensor of the given shape.
func NewInput(shape []int, data []float32) (*Tensor, error) {
	s := tensor.Shape(shape)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(data) != s.NumElements() {
		return nil, fmt.Errorf("input shape %v needs %d values, got %d", shape, s.NumElements(), len(data))
	}
	t, err := tensor.NewRaw(s, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}
