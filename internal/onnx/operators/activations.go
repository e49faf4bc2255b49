package operators

import (
	"github.com/born-ml/template/internal/tensor"
)

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register("Relu", handleRelu)
	r.Register("LeakyRelu", handleLeakyRelu)
	r.Register("Elu", handleElu)
	r.Register("Sigmoid", handleSigmoid)
	r.Register("Tanh", handleTanh)
}

func handleRelu(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("relu", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(ctx.Backend.ReLU(inputs[0])), nil
}

func handleLeakyRelu(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("leakyRelu", inputs, 1, 1); err != nil {
		return nil, err
	}
	alpha := GetAttrFloat(node, "alpha", 0.01)
	return single(ctx.Backend.LeakyReLU(inputs[0], alpha)), nil
}

func handleElu(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("elu", inputs, 1, 1); err != nil {
		return nil, err
	}
	alpha := GetAttrFloat(node, "alpha", 1.0)
	return single(ctx.Backend.ELU(inputs[0], alpha)), nil
}

func handleSigmoid(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("sigmoid", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(ctx.Backend.Sigmoid(inputs[0])), nil
}

func handleTanh(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("tanh", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(ctx.Backend.Tanh(inputs[0])), nil
}
