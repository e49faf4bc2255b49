package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/tensor"
)

func f32(t *testing.T, shape tensor.Shape, vals ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), vals)
	return r
}

func i64(t *testing.T, vals ...int64) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape{len(vals)}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsInt64(), vals)
	return r
}

func run(t *testing.T, node *Node, inputs ...*tensor.RawTensor) (*tensor.RawTensor, error) {
	t.Helper()
	out, err := NewRegistry().Execute(&Context{Backend: cpu.New()}, node, inputs)
	if err != nil {
		return nil, err
	}
	require.Len(t, out, 1)
	return out[0], nil
}

func TestRegistry_SupportedOps(t *testing.T) {
	want := []string{
		"BatchNormalization", "Conv", "Elu", "Flatten", "Gemm", "Identity",
		"LeakyRelu", "MaxPool", "Relu", "Reshape", "Sigmoid", "Tanh",
	}
	assert.Equal(t, want, NewRegistry().SupportedOps())

	_, err := run(t, &Node{OpType: "Softmax"})
	assert.ErrorContains(t, err, "unsupported operator: Softmax")
}

func TestRegistry_CustomOp(t *testing.T) {
	r := NewRegistry()
	r.Register("Double", func(ctx *Context, _ *Node, in []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		return single(ctx.Backend.MulScalar(in[0], 2)), nil
	})
	out, err := r.Execute(&Context{Backend: cpu.New()}, &Node{OpType: "Double"}, []*tensor.RawTensor{f32(t, tensor.Shape{2}, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, out[0].AsFloat32())
}

func TestActivations(t *testing.T) {
	x := f32(t, tensor.Shape{3}, -2, 0, 2)

	y, err := run(t, &Node{OpType: "Relu"}, x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2}, y.AsFloat32())

	y, err = run(t, &Node{OpType: "LeakyRelu", Attributes: []Attribute{{Name: "alpha", F: 0.5}}}, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-1, 0, 2}, y.AsFloat32(), 1e-6)

	y, err = run(t, &Node{OpType: "LeakyRelu"}, x)
	require.NoError(t, err)
	assert.InDelta(t, -0.02, y.AsFloat32()[0], 1e-6)

	y, err = run(t, &Node{OpType: "Elu"}, x)
	require.NoError(t, err)
	assert.InDelta(t, -0.864665, y.AsFloat32()[0], 1e-5)

	y, err = run(t, &Node{OpType: "Sigmoid"}, x)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, y.AsFloat32()[1], 1e-6)

	y, err = run(t, &Node{OpType: "Tanh"}, x)
	require.NoError(t, err)
	assert.InDelta(t, 0.964028, y.AsFloat32()[2], 1e-5)

	_, err = run(t, &Node{OpType: "Relu"}, x, x)
	assert.ErrorContains(t, err, "requires 1 inputs")
}

func TestGemm(t *testing.T) {
	a := f32(t, tensor.Shape{1, 2}, 1, 2)
	b := f32(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	c := f32(t, tensor.Shape{2}, 10, 20)

	y, err := run(t, &Node{OpType: "Gemm"}, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 10}, y.AsFloat32())

	node := &Node{OpType: "Gemm", Attributes: []Attribute{
		{Name: "transB", I: 1}, {Name: "alpha", F: 2}, {Name: "beta", F: 0.5},
	}}
	y, err = run(t, node, a, b, c)
	require.NoError(t, err)
	// A @ B^T = [5, 11]; 2*[5, 11] + 0.5*[10, 20]
	assert.Equal(t, []float32{15, 32}, y.AsFloat32())

	_, err = run(t, &Node{OpType: "Gemm"}, f32(t, tensor.Shape{2}, 1, 2), b)
	assert.ErrorContains(t, err, "2D")
}

func TestConv(t *testing.T) {
	x := f32(t, tensor.Shape{1, 1, 2, 2}, 1, 2, 3, 4)
	w := f32(t, tensor.Shape{2, 1, 1, 1}, 1, -1)
	bias := f32(t, tensor.Shape{2}, 0.5, 0)

	y, err := run(t, &Node{OpType: "Conv"}, x, w, bias)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2, 2}, y.Shape())
	assert.Equal(t, []float32{1.5, 2.5, 3.5, 4.5, -1, -2, -3, -4}, y.AsFloat32())

	_, err = run(t, &Node{OpType: "Conv", Attributes: []Attribute{{Name: "pads", Ints: []int64{0, 0, 1, 1}}}}, x, w)
	assert.ErrorContains(t, err, "asymmetric")

	_, err = run(t, &Node{OpType: "Conv", Attributes: []Attribute{{Name: "group", I: 2}}}, x, w)
	assert.ErrorContains(t, err, "group")

	_, err = run(t, &Node{OpType: "Conv", Attributes: []Attribute{{Name: "kernel_shape", Ints: []int64{3, 3}}}}, x, w)
	assert.ErrorContains(t, err, "kernel_shape")
}

func TestMaxPool(t *testing.T) {
	x := f32(t, tensor.Shape{1, 1, 2, 2}, 1, 5, 3, 2)
	node := &Node{OpType: "MaxPool", Outputs: []string{"y"}, Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}}, {Name: "strides", Ints: []int64{2, 2}},
	}}
	y, err := run(t, node, x)
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, y.AsFloat32())

	_, err = run(t, &Node{OpType: "MaxPool"}, x)
	assert.ErrorContains(t, err, "kernel_shape")

	withIndices := &Node{OpType: "MaxPool", Outputs: []string{"y", "idx"}, Attributes: node.Attributes}
	_, err = run(t, withIndices, x)
	assert.ErrorContains(t, err, "Indices")
}

func TestBatchNormalization(t *testing.T) {
	x := f32(t, tensor.Shape{1, 2, 1, 1}, 3, 3)
	scale := f32(t, tensor.Shape{2}, 2, 1)
	bias := f32(t, tensor.Shape{2}, 1, 0)
	mean := f32(t, tensor.Shape{2}, 1, 3)
	variance := f32(t, tensor.Shape{2}, 4, 1)

	node := &Node{OpType: "BatchNormalization", Attributes: []Attribute{{Name: "epsilon", F: 0}}}
	y, err := run(t, node, x, scale, bias, mean, variance)
	require.NoError(t, err)
	// channel 0: 2*(3-1)/2+1 = 3; channel 1: (3-3)/1 = 0
	assert.InDeltaSlice(t, []float32{3, 0}, y.AsFloat32(), 1e-6)

	_, err = run(t, &Node{OpType: "BatchNormalization", Attributes: []Attribute{{Name: "training_mode", I: 1}}},
		x, scale, bias, mean, variance)
	assert.ErrorContains(t, err, "training_mode")

	_, err = run(t, node, x, scale)
	assert.ErrorContains(t, err, "requires 5 inputs")
}

func TestFlattenReshapeIdentity(t *testing.T) {
	x := f32(t, tensor.Shape{2, 3, 2, 2})

	y, err := run(t, &Node{OpType: "Flatten"}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, y.Shape())

	y, err = run(t, &Node{OpType: "Flatten", Attributes: []Attribute{{Name: "axis", I: 0}}}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 24}, y.Shape())

	y, err = run(t, &Node{OpType: "Flatten", Attributes: []Attribute{{Name: "axis", I: -1}}}, x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{12, 2}, y.Shape())

	y, err = run(t, &Node{OpType: "Reshape"}, x, i64(t, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, y.Shape())

	_, err = run(t, &Node{OpType: "Reshape"}, x, f32(t, tensor.Shape{2}, 2, 12))
	assert.ErrorContains(t, err, "int64")

	y, err = run(t, &Node{OpType: "Identity"}, x)
	require.NoError(t, err)
	assert.Same(t, x, y)
}

func TestResolveShape(t *testing.T) {
	in := tensor.Shape{2, 3, 4}
	tests := []struct {
		name      string
		target    []int64
		allowZero bool
		want      tensor.Shape
		wantErr   bool
	}{
		{"Explicit", []int64{6, 4}, false, tensor.Shape{6, 4}, false},
		{"Infer", []int64{-1, 4}, false, tensor.Shape{6, 4}, false},
		{"CopyZero", []int64{0, -1}, false, tensor.Shape{2, 12}, false},
		{"TwoInferred", []int64{-1, -1}, false, nil, true},
		{"WrongCount", []int64{5, 5}, false, nil, true},
		{"NotDivisible", []int64{-1, 5}, false, nil, true},
		{"Negative", []int64{-2, 12}, false, nil, true},
		{"AllowZeroMismatch", []int64{0, 24}, true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveShape(in, tt.target, tt.allowZero)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAttrHelpers(t *testing.T) {
	node := &Node{Attributes: []Attribute{
		{Name: "i", I: 3}, {Name: "f", F: 1.5}, {Name: "s", S: []byte("x")}, {Name: "ints", Ints: []int64{1, 2}},
	}}
	assert.Equal(t, int64(3), GetAttrInt(node, "i", 0))
	assert.Equal(t, int64(9), GetAttrInt(node, "missing", 9))
	assert.InDelta(t, 1.5, GetAttrFloat(node, "f", 0), 1e-9)
	assert.Equal(t, "x", GetAttrString(node, "s", ""))
	assert.Equal(t, "d", GetAttrString(node, "missing", "d"))
	assert.Equal(t, []int64{1, 2}, GetAttrInts(node, "ints"))
	assert.Nil(t, GetAttrInts(node, "missing"))
}
