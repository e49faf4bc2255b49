package operators

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Flatten", handleFlatten)
	r.Register("Reshape", handleReshape)
	r.Register("Identity", handleIdentity)
}

// handleFlatten reshapes to [prod(dims[:axis]), prod(dims[axis:])].
func handleFlatten(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("flatten", inputs, 1, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for %dD input", axis, len(shape))
	}

	outer := 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	inner := 1
	for _, d := range shape[axis:] {
		inner *= d
	}
	return single(ctx.Backend.Reshape(inputs[0], tensor.Shape{outer, inner})), nil
}

func handleReshape(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("reshape", inputs, 2, 2); err != nil {
		return nil, err
	}
	if inputs[1].DType() != tensor.Int64 {
		return nil, fmt.Errorf("reshape: shape must be int64, got %s", inputs[1].DType())
	}
	newShape, err := resolveShape(inputs[0].Shape(), inputs[1].AsInt64(), GetAttrInt(node, "allowzero", 0) != 0)
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return single(ctx.Backend.Reshape(inputs[0], newShape)), nil
}

// resolveShape applies the ONNX Reshape rules: 0 copies the input dimension
// (unless allowZero) and a single -1 is inferred from the element count.
func resolveShape(in tensor.Shape, target []int64, allowZero bool) (tensor.Shape, error) {
	out := make(tensor.Shape, len(target))
	infer := -1
	known := 1
	for i, v := range target {
		switch {
		case v == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("more than one -1 in %v", target)
			}
			infer = i
			continue
		case v == 0 && !allowZero:
			if i >= len(in) {
				return nil, fmt.Errorf("dimension %d copies a missing input dimension", i)
			}
			out[i] = in[i]
		case v < 0:
			return nil, fmt.Errorf("invalid dimension %d", v)
		default:
			out[i] = int(v)
		}
		known *= out[i]
	}
	if infer >= 0 {
		if known == 0 || in.NumElements()%known != 0 {
			return nil, fmt.Errorf("cannot infer -1 reshaping %v to %v", in, target)
		}
		out[infer] = in.NumElements() / known
	}
	if out.NumElements() != in.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v to %v", in, out)
	}
	return out, nil
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("identity", inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}
