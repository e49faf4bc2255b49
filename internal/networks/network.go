// Package networks builds the project's declarative network architectures.
//
// A Network is an ordered list of named layers. Every layer declares the
// [H, W, C] shape it produces from the previous layer's shape, so the input
// of layer i is always the output of layer i-1:
//
//	net := networks.NewNetwork("Custom", tensor.Shape{32, 32, 3}, nil)
//	net.AddLayer("conv_1", conv)          // returns [32, 32, 8]
//	net.AddLayer("pool_1", pool)          // returns [16, 16, 8]
//
// Tensors flowing through Forward are NCHW.
package networks

import (
	"errors"
	"fmt"

	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/nn"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

var (
	// ErrInvalidNumOutputs is returned when NumOutputs is absent or not positive.
	ErrInvalidNumOutputs = errors.New("NumOutputs must have a valid positive value")
	// ErrInvalidInputShape is returned when the input shape is not [H, W, C].
	ErrInvalidInputShape = errors.New("input shape must be [H, W, C] with positive dimensions")
)

// Layer is a module that also declares its output shape descriptor.
type Layer interface {
	nn.Module[sample.Backend]
	OutputShape(input tensor.Shape) tensor.Shape
}

// LayerInfo describes one layer of a built network.
type LayerInfo struct {
	Name        string
	Layer       Layer
	OutputShape tensor.Shape
}

// Network is a chain of named layers with fixed topology.
type Network struct {
	kind       string
	config     any
	inputShape tensor.Shape
	layers     []LayerInfo
	seq        *nn.Sequential[sample.Backend]
}

// NewNetwork starts an empty network. kind and config identify the component
// that built it so the network can be rebuilt from Spec.
func NewNetwork(kind string, inputShape tensor.Shape, config any) *Network {
	return &Network{
		kind:       kind,
		config:     config,
		inputShape: inputShape.Clone(),
		seq:        nn.NewSequential[sample.Backend](),
	}
}

// AddLayer appends layer under name and returns its output shape. The layer
// receives the current output shape as input; a layer that rejects it panics.
func (n *Network) AddLayer(name string, layer Layer) tensor.Shape {
	out := layer.OutputShape(n.OutputShape())
	n.seq.Add(name, layer)
	n.layers = append(n.layers, LayerInfo{Name: name, Layer: layer, OutputShape: out.Clone()})
	return out
}

// Kind returns the registered component type that built the network.
func (n *Network) Kind() string {
	return n.kind
}

// Spec returns a component spec that rebuilds this architecture.
func (n *Network) Spec() (component.Spec, error) {
	return component.NewSpec(n.kind, n.config)
}

// InputShape returns the [H, W, C] input descriptor.
func (n *Network) InputShape() tensor.Shape {
	return n.inputShape.Clone()
}

// OutputShape returns the descriptor produced by the last layer, or the input
// shape of an empty network.
func (n *Network) OutputShape() tensor.Shape {
	if len(n.layers) == 0 {
		return n.inputShape.Clone()
	}
	return n.layers[len(n.layers)-1].OutputShape.Clone()
}

// Layers returns the layers in forward order.
func (n *Network) Layers() []LayerInfo {
	return append([]LayerInfo(nil), n.layers...)
}

// Layer returns the named layer.
func (n *Network) Layer(name string) (Layer, bool) {
	for _, l := range n.layers {
		if l.Name == name {
			return l.Layer, true
		}
	}
	return nil, false
}

// ForwardTensor runs an [N, C, H, W] tensor through every layer.
func (n *Network) ForwardTensor(x *sample.Tensor) *sample.Tensor {
	return n.seq.Forward(x)
}

// Forward replaces the data slot of batch with the network output. Other
// slots are carried over; batch itself is not modified.
func (n *Network) Forward(batch sample.Batch) (sample.Batch, error) {
	x, err := batch.Data()
	if err != nil {
		return nil, err
	}
	if err := n.checkInput(x.Shape()); err != nil {
		return nil, err
	}
	return batch.With(sample.DataSlot, n.ForwardTensor(x)), nil
}

func (n *Network) checkInput(shape tensor.Shape) error {
	want := n.inputShape.HWCToCHW()
	if len(shape) != 4 || !shape[1:].Equal(want) {
		return fmt.Errorf("%s: input %v does not match [N %d %d %d]", n.kind, shape, want[0], want[1], want[2])
	}
	return nil
}

// Parameters returns every trainable parameter.
func (n *Network) Parameters() []*nn.Parameter[sample.Backend] {
	return n.seq.Parameters()
}

// NumParameters counts trainable scalars.
func (n *Network) NumParameters() int {
	total := 0
	for _, p := range n.Parameters() {
		total += p.Tensor().NumElements()
	}
	return total
}

// StateDict returns the weights keyed "<layer>.<param>".
func (n *Network) StateDict() map[string]*tensor.RawTensor {
	return n.seq.StateDict()
}

// LoadStateDict copies weights into the network.
func (n *Network) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return n.seq.LoadStateDict(stateDict)
}

// validateInputShape checks an [H, W, C] shape whose height and width must
// survive the network's pooling, that is be at least minSide.
func validateInputShape(shape tensor.Shape, minSide int) error {
	if len(shape) != 3 || shape.Validate() != nil {
		return fmt.Errorf("%w: got %v", ErrInvalidInputShape, shape)
	}
	if shape[0] < minSide || shape[1] < minSide {
		return fmt.Errorf("%w: height and width must be at least %d, got %v", ErrInvalidInputShape, minSide, shape)
	}
	return nil
}
