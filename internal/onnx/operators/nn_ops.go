package operators

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("MaxPool", handleMaxPool)
	r.Register("BatchNormalization", handleBatchNorm)
	r.Register("Gemm", handleGemm)
}

// squareAttr reads a two-element spatial attribute whose values must match.
func squareAttr(node *Node, name string, defaultVal int64) (int, error) {
	vals := GetAttrInts(node, name)
	if len(vals) == 0 {
		return int(defaultVal), nil
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, fmt.Errorf("%s: asymmetric %s %v not supported", node.OpType, name, vals)
		}
	}
	return int(vals[0]), nil
}

func checkPlainSpatial(node *Node) error {
	if pad := GetAttrString(node, "auto_pad", "NOTSET"); pad != "NOTSET" {
		return fmt.Errorf("%s: auto_pad %q not supported", node.OpType, pad)
	}
	if d, err := squareAttr(node, "dilations", 1); err != nil || d != 1 {
		return fmt.Errorf("%s: only unit dilations are supported", node.OpType)
	}
	return nil
}

func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("conv", inputs, 2, 3); err != nil {
		return nil, err
	}
	if err := checkPlainSpatial(node); err != nil {
		return nil, err
	}
	if g := GetAttrInt(node, "group", 1); g != 1 {
		return nil, fmt.Errorf("conv: group %d not supported", g)
	}
	stride, err := squareAttr(node, "strides", 1)
	if err != nil {
		return nil, err
	}
	padding, err := squareAttr(node, "pads", 0)
	if err != nil {
		return nil, err
	}

	x, w := inputs[0], inputs[1]
	if ks := GetAttrInts(node, "kernel_shape"); len(ks) == 2 && len(w.Shape()) == 4 {
		if int(ks[0]) != w.Shape()[2] || int(ks[1]) != w.Shape()[3] {
			return nil, fmt.Errorf("conv: kernel_shape %v does not match weight %v", ks, w.Shape())
		}
	}

	out := ctx.Backend.Conv2D(x, w, stride, padding)
	if len(inputs) == 3 && inputs[2] != nil {
		bias := ctx.Backend.Reshape(inputs[2], tensor.Shape{1, inputs[2].NumElements(), 1, 1})
		out = ctx.Backend.Add(out, bias)
	}
	return single(out), nil
}

func handleMaxPool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("maxPool", inputs, 1, 1); err != nil {
		return nil, err
	}
	if len(node.Outputs) > 1 {
		return nil, fmt.Errorf("maxPool: Indices output not supported")
	}
	if err := checkPlainSpatial(node); err != nil {
		return nil, err
	}
	if GetAttrInt(node, "ceil_mode", 0) != 0 {
		return nil, fmt.Errorf("maxPool: ceil_mode not supported")
	}
	kernel, err := squareAttr(node, "kernel_shape", 0)
	if err != nil {
		return nil, err
	}
	if kernel <= 0 {
		return nil, fmt.Errorf("maxPool: kernel_shape is required")
	}
	stride, err := squareAttr(node, "strides", 1)
	if err != nil {
		return nil, err
	}
	if pad, err := squareAttr(node, "pads", 0); err != nil || pad != 0 {
		return nil, fmt.Errorf("maxPool: padding not supported")
	}
	return single(ctx.Backend.MaxPool2D(inputs[0], kernel, stride)), nil
}

func handleBatchNorm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("batchNormalization", inputs, 5, 5); err != nil {
		return nil, err
	}
	if GetAttrInt(node, "training_mode", 0) != 0 {
		return nil, fmt.Errorf("batchNormalization: training_mode not supported")
	}
	eps := GetAttrFloat(node, "epsilon", 1e-5)
	x, scale, bias, mean, variance := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	return single(ctx.Backend.BatchNorm2D(x, mean, variance, scale, bias, eps)), nil
}

// handleGemm computes Y = alpha * A' @ B' + beta * C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("gemm", inputs, 2, 3); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("gemm: A and B must be 2D, got %v and %v", a.Shape(), b.Shape())
	}
	if GetAttrInt(node, "transA", 0) != 0 {
		a = ctx.Backend.Transpose(a, 1, 0)
	}
	if GetAttrInt(node, "transB", 0) != 0 {
		b = ctx.Backend.Transpose(b, 1, 0)
	}

	y := ctx.Backend.MatMul(a, b)
	if alpha := GetAttrFloat(node, "alpha", 1); alpha != 1 {
		y = ctx.Backend.MulScalar(y, alpha)
	}
	if len(inputs) == 3 && inputs[2] != nil {
		c := inputs[2]
		if beta := GetAttrFloat(node, "beta", 1); beta != 1 {
			c = ctx.Backend.MulScalar(c, beta)
		}
		y = ctx.Backend.Add(y, c)
	}
	return single(y), nil
}
