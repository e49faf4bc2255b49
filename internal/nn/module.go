// Package nn implements the neural network layers used by the template's networks.
//
// This package provides building blocks for constructing CNNs:
//   - Module interface: Base interface for all NN components
//   - Parameter: Named weight tensors with state dict support
//   - Conv2D, BatchNorm2D, MaxPool2D, Flatten, Linear
//   - Activations: ReLU, LeakyReLU, ELU, Sigmoid, Tanh
//   - Convolution2D: conv → optional batch norm → optional activation block
//   - Sequential: Named container for stacking layers
package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend]()
//	model.Add("conv_1", nn.NewConv2D(3, 8, 3, 3, 1, 1, true, backend))
//	model.Add("act", nn.NewReLU[Backend]())
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all weight tensors of this module.
	// Returns nil for modules without weights (e.g., activation functions).
	Parameters() []*Parameter[B]

	// StateDict returns the module's persistent tensors keyed by name.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies tensors from stateDict into the module.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// stateless provides no-op state dict methods for modules without weights.
type stateless[B tensor.Backend] struct{}

func (s stateless[B]) Parameters() []*Parameter[B] { return nil }

func (s stateless[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

func (s stateless[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

// loadInto validates the tensor named key in stateDict against dst and
// copies it in place.
func loadInto[B tensor.Backend](stateDict map[string]*tensor.RawTensor, key string, dst *tensor.Tensor[float32, B]) error {
	raw, ok := stateDict[key]
	if !ok {
		return fmt.Errorf("missing %s in state dict", key)
	}
	if !raw.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%s shape mismatch: expected %v, got %v", key, dst.Shape(), raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return fmt.Errorf("%s dtype mismatch: expected float32, got %v", key, raw.DType())
	}
	copy(dst.Data(), raw.AsFloat32())
	return nil
}

// prefixed returns the sub-dictionary of keys under prefix + ".", with the
// prefix stripped.
func prefixed(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	sub := make(map[string]*tensor.RawTensor)
	p := prefix + "."
	for key, raw := range stateDict {
		if len(key) > len(p) && key[:len(p)] == p {
			sub[key[len(p):]] = raw
		}
	}
	return sub
}
