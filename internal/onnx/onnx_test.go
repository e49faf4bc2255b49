package onnx

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/tensor"
)

func rawF32(t *testing.T, shape tensor.Shape, vals ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	if len(vals) == 1 {
		for i := range r.AsFloat32() {
			r.AsFloat32()[i] = vals[0]
		}
	} else {
		require.Len(t, vals, shape.NumElements())
		copy(r.AsFloat32(), vals)
	}
	return r
}

func initializer(t *testing.T, name string, r *tensor.RawTensor) TensorProto {
	t.Helper()
	p, err := TensorToProto(name, r)
	require.NoError(t, err)
	return p
}

func tensorInfo(name string, dims ...DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}

// smallCNN: conv(3x3, ones, bias 0.5, pad 1) -> relu -> maxpool(2) -> flatten -> gemm.
func smallCNN(t *testing.T) *ModelProto {
	t.Helper()
	return &ModelProto{
		IRVersion:    IRVersion,
		ProducerName: "onnx-test",
		OpsetImport:  []OperatorSetID{{Version: DefaultOpset}},
		MetadataProps: []StringStringEntry{
			{Key: "artifact_id", Value: "abc"},
		},
		Graph: &GraphProto{
			Name: "small",
			Nodes: []NodeProto{
				// Deliberately out of order: gemm first.
				{Name: "fc", OpType: "Gemm", Inputs: []string{"flat", "fc.w", "fc.b"}, Outputs: []string{"output"},
					Attributes: []AttributeProto{IntAttr("transB", 1), FloatAttr("alpha", 1), FloatAttr("beta", 1)}},
				{Name: "conv", OpType: "Conv", Inputs: []string{"input", "conv.w", "conv.b"}, Outputs: []string{"c"},
					Attributes: []AttributeProto{
						IntsAttr("kernel_shape", 3, 3), IntsAttr("pads", 1, 1, 1, 1), IntsAttr("strides", 1, 1),
					}},
				{Name: "relu", OpType: "Relu", Inputs: []string{"c"}, Outputs: []string{"r"}},
				{Name: "pool", OpType: "MaxPool", Inputs: []string{"r"}, Outputs: []string{"p"},
					Attributes: []AttributeProto{IntsAttr("kernel_shape", 2, 2), IntsAttr("strides", 2, 2)}},
				{Name: "flatten", OpType: "Flatten", Inputs: []string{"p"}, Outputs: []string{"flat"},
					Attributes: []AttributeProto{IntAttr("axis", 1)}},
			},
			Initializers: []TensorProto{
				initializer(t, "conv.w", rawF32(t, tensor.Shape{1, 1, 3, 3}, 1)),
				initializer(t, "conv.b", rawF32(t, tensor.Shape{1}, 0.5)),
				initializer(t, "fc.w", rawF32(t, tensor.Shape{2, 4}, 1, 0, 0, 0, 1, 1, 1, 1)),
				initializer(t, "fc.b", rawF32(t, tensor.Shape{2}, 1, -1)),
			},
			Inputs:  []ValueInfoProto{tensorInfo("input", DimensionProto{DimParam: "batch"}, DimensionProto{DimValue: 1}, DimensionProto{DimValue: 4}, DimensionProto{DimValue: 4})},
			Outputs: []ValueInfoProto{tensorInfo("output", DimensionProto{DimParam: "batch"}, DimensionProto{DimValue: 2})},
		},
	}
}

func TestMarshalParse_RoundTrip(t *testing.T) {
	model := smallCNN(t)

	decoded, err := Parse(Marshal(model))
	require.NoError(t, err)

	if diff := cmp.Diff(model, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(DefaultOpset), decoded.Opset())
}

func TestParse_NegativeAndUnpackedInts(t *testing.T) {
	// AttributeProto with unpacked ints (-1, 7) and a fixed32 float.
	var attr []byte
	attr = protowire.AppendTag(attr, 1, protowire.BytesType)
	attr = protowire.AppendString(attr, "shape")
	for _, v := range []int64{-1, 7} {
		attr = protowire.AppendTag(attr, 8, protowire.VarintType)
		attr = protowire.AppendVarint(attr, uint64(v))
	}
	attr = protowire.AppendTag(attr, 20, protowire.VarintType)
	attr = protowire.AppendVarint(attr, AttributeProtoInts)

	var node []byte
	node = protowire.AppendTag(node, 4, protowire.BytesType)
	node = protowire.AppendString(node, "Reshape")
	node = protowire.AppendTag(node, 5, protowire.BytesType)
	node = protowire.AppendBytes(node, attr)
	// Unknown field 99 must be skipped.
	node = protowire.AppendTag(node, 99, protowire.VarintType)
	node = protowire.AppendVarint(node, 1)

	var graph []byte
	graph = protowire.AppendTag(graph, 1, protowire.BytesType)
	graph = protowire.AppendBytes(graph, node)

	var model []byte
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	m, err := Parse(model)
	require.NoError(t, err)
	require.NotNil(t, m.Graph)
	require.Len(t, m.Graph.Nodes, 1)
	assert.Equal(t, "Reshape", m.Graph.Nodes[0].OpType)
	assert.Equal(t, []int64{-1, 7}, m.Graph.Nodes[0].Attributes[0].Ints)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)

	// Truncated: length prefix says 10 bytes, none follow.
	bad := protowire.AppendTag(nil, 7, protowire.BytesType)
	bad = protowire.AppendVarint(bad, 10)
	_, err = Parse(bad)
	assert.Error(t, err)

	// Graph encoded as a varint.
	wrong := protowire.AppendTag(nil, 7, protowire.VarintType)
	wrong = protowire.AppendVarint(wrong, 3)
	_, err = Parse(wrong)
	assert.ErrorIs(t, err, ErrWireType)
}

func TestModel_Forward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.onnx")
	require.NoError(t, WriteFile(path, smallCNN(t)))

	m, err := Load(path, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"input"}, m.InputNames())
	assert.Equal(t, []string{"output"}, m.OutputNames())
	assert.Equal(t, int64(DefaultOpset), m.OpsetVersion())
	assert.Equal(t, "abc", m.Metadata()["artifact_id"])

	// Dynamic batch: two samples.
	out, err := m.Forward(rawF32(t, tensor.Shape{2, 1, 4, 4}, 1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float32{10.5, 37, 10.5, 37}, out.AsFloat32(), 1e-5)
}

func TestLoad_StrictMode(t *testing.T) {
	model := smallCNN(t)
	model.Graph.Nodes = append(model.Graph.Nodes, NodeProto{OpType: "Softmax", Inputs: []string{"output"}, Outputs: []string{"prob"}})

	_, err := LoadFromProto(model, cpu.New(), DefaultLoadOptions())
	assert.ErrorContains(t, err, "Softmax")

	// Lenient loading fails only when the node runs.
	m, err := LoadFromProto(model, cpu.New(), LoadOptions{})
	require.NoError(t, err)
	m.outputNames = []string{"prob"}
	_, err = m.Forward(rawF32(t, tensor.Shape{1, 1, 4, 4}, 1))
	assert.ErrorContains(t, err, "unsupported operator: Softmax")
}

func TestModel_Errors(t *testing.T) {
	t.Run("Cycle", func(t *testing.T) {
		model := &ModelProto{Graph: &GraphProto{Nodes: []NodeProto{
			{Name: "a", OpType: "Relu", Inputs: []string{"y"}, Outputs: []string{"x"}},
			{Name: "b", OpType: "Relu", Inputs: []string{"x"}, Outputs: []string{"y"}},
		}}}
		_, err := LoadFromProto(model, cpu.New(), DefaultLoadOptions())
		assert.ErrorContains(t, err, "cycle")
	})

	t.Run("NoGraph", func(t *testing.T) {
		_, err := LoadFromProto(&ModelProto{}, cpu.New(), LoadOptions{})
		assert.ErrorContains(t, err, "no graph")
	})

	t.Run("UnsupportedInitializer", func(t *testing.T) {
		model := smallCNN(t)
		model.Graph.Initializers[0].DataType = TensorProtoDouble
		_, err := LoadFromProto(model, cpu.New(), DefaultLoadOptions())
		assert.ErrorIs(t, err, ErrUnsupportedDataType)
	})

	t.Run("ShapeMismatchBecomesError", func(t *testing.T) {
		m, err := LoadFromProto(smallCNN(t), cpu.New(), DefaultLoadOptions())
		require.NoError(t, err)
		_, err = m.Forward(rawF32(t, tensor.Shape{1, 3, 4, 4}, 1))
		assert.ErrorContains(t, err, "conv")
	})

	t.Run("MissingInput", func(t *testing.T) {
		m, err := LoadFromProto(smallCNN(t), cpu.New(), DefaultLoadOptions())
		require.NoError(t, err)
		_, err = m.ForwardNamed(map[string]*tensor.RawTensor{})
		assert.ErrorContains(t, err, "missing input: input")
	})
}

func TestTensorFromProto_LegacyFields(t *testing.T) {
	f, err := tensorFromProto(&TensorProto{DataType: TensorProtoFloat, Dims: []int64{2}, FloatData: []float32{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, f.AsFloat32())

	i, err := tensorFromProto(&TensorProto{DataType: TensorProtoInt64, Dims: []int64{2}, Int64Data: []int64{-1, 4}})
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 4}, i.AsInt64())

	u, err := tensorFromProto(&TensorProto{DataType: TensorProtoUint8, Dims: []int64{3}, Int32Data: []int32{0, 128, 255}})
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 128, 255}, u.AsUint8())

	_, err = tensorFromProto(&TensorProto{DataType: TensorProtoFloat, Dims: []int64{3}, FloatData: []float32{1}})
	assert.Error(t, err)
}

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo(smallCNN(t))
	assert.Equal(t, int64(IRVersion), info.IRVersion)
	assert.Equal(t, int64(DefaultOpset), info.OpsetVersion)
	assert.Equal(t, []string{"input"}, info.InputNames)
	assert.Equal(t, 5, info.NodeCount)
	assert.Equal(t, 4, info.WeightCount)

	assert.Contains(t, ListSupportedOps(), "BatchNormalization")
}
