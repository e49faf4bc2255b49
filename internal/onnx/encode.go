package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in the protobuf wire format used by .onnx files.
// Repeated numeric fields are written packed.
func Marshal(m *ModelProto) []byte {
	return appendModel(nil, m)
}

// WriteFile encodes m and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	if err := os.WriteFile(path, Marshal(m), 0o600); err != nil {
		return fmt.Errorf("failed to write ONNX file: %w", err)
	}
	return nil
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPackedInts(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendBytes(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendBytes(b, num, packed)
}

func appendModel(b []byte, m *ModelProto) []byte {
	b = appendInt(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendBytes(b, 7, appendGraph(nil, m.Graph))
	}
	for _, op := range m.OpsetImport {
		var msg []byte
		msg = appendString(msg, 1, op.Domain)
		msg = appendInt(msg, 2, op.Version)
		b = appendBytes(b, 8, msg)
	}
	for _, e := range m.MetadataProps {
		var msg []byte
		msg = appendString(msg, 1, e.Key)
		msg = appendString(msg, 2, e.Value)
		b = appendBytes(b, 14, msg)
	}
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendBytes(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendBytes(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendBytes(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendBytes(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendBytes(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	for _, in := range n.Inputs {
		// Empty names mark omitted optional inputs and must keep their position.
		b = appendBytes(b, 1, []byte(in))
	}
	for _, out := range n.Outputs {
		b = appendBytes(b, 2, []byte(out))
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendBytes(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeProtoString:
		b = appendBytes(b, 4, a.S)
	case AttributeProtoFloats:
		b = appendPackedFloats(b, 7, a.Floats)
	case AttributeProtoInts:
		b = appendPackedInts(b, 8, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = appendBytes(b, 9, s)
		}
	}
	b = appendString(b, 13, a.DocString)
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(a.Type))
}

func appendTensor(b []byte, t *TensorProto) []byte {
	b = appendPackedInts(b, 1, t.Dims)
	b = appendInt(b, 2, int64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		ints := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			ints[i] = int64(v)
		}
		b = appendPackedInts(b, 5, ints)
	}
	b = appendPackedInts(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = appendBytes(b, 9, t.RawData)
	}
	b = appendString(b, 12, t.DocString)
	return b
}

func appendValueInfo(b []byte, v *ValueInfoProto) []byte {
	b = appendString(b, 1, v.Name)
	if v.Type != nil && v.Type.TensorType != nil {
		tt := v.Type.TensorType
		var msg []byte
		msg = appendInt(msg, 1, int64(tt.ElemType))
		if tt.Shape != nil {
			var shape []byte
			for _, d := range tt.Shape.Dims {
				var dim []byte
				if d.DimParam != "" {
					dim = appendString(dim, 2, d.DimParam)
				} else {
					dim = protowire.AppendTag(dim, 1, protowire.VarintType)
					dim = protowire.AppendVarint(dim, uint64(d.DimValue))
				}
				shape = appendBytes(shape, 1, dim)
			}
			msg = appendBytes(msg, 2, shape)
		}
		b = appendBytes(b, 2, appendBytes(nil, 1, msg))
	}
	b = appendString(b, 3, v.DocString)
	return b
}
