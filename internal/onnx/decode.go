package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a field is encoded with an unexpected wire type.
var ErrWireType = errors.New("onnx: unexpected wire type")

// ParseFile reads and decodes an ONNX model file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX ModelProto from its protobuf encoding.
func Parse(data []byte) (*ModelProto, error) {
	if len(data) == 0 {
		return nil, errors.New("onnx: empty model data")
	}
	m := &ModelProto{}
	if err := decodeModel(data, m); err != nil {
		return nil, fmt.Errorf("onnx: decode model: %w", err)
	}
	return m, nil
}

// field is one decoded protobuf field. Exactly one of the value members is
// meaningful, depending on typ.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

func (f field) int64() int64 { return int64(f.varint) }

func (f field) str() (string, error) {
	if f.typ != protowire.BytesType {
		return "", fmt.Errorf("%w: field %d is %v, want bytes", ErrWireType, f.num, f.typ)
	}
	return string(f.bytes), nil
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d is %v, want bytes", ErrWireType, f.num, f.typ)
	}
	return f.bytes, nil
}

// decodeFields walks the fields of one message and calls fn for each.
func decodeFields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// appendInt64s accepts both packed and unpacked repeated varints.
func appendInt64s(dst []int64, f field) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, f.int64()), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: field %d is %v, want varint", ErrWireType, f.num, f.typ)
	}
}

// appendFloats accepts both packed and unpacked repeated fixed32 floats.
func appendFloats(dst []float32, f field) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(f.fixed32)), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: field %d is %v, want fixed32", ErrWireType, f.num, f.typ)
	}
}

func decodeModel(b []byte, m *ModelProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.IRVersion = f.int64()
		case 2:
			m.ProducerName, err = f.str()
		case 3:
			m.ProducerVersion, err = f.str()
		case 4:
			m.Domain, err = f.str()
		case 5:
			m.ModelVersion = f.int64()
		case 6:
			m.DocString, err = f.str()
		case 7:
			var msg []byte
			if msg, err = f.message(); err == nil {
				m.Graph = &GraphProto{}
				err = decodeGraph(msg, m.Graph)
			}
		case 8:
			var msg []byte
			if msg, err = f.message(); err == nil {
				var op OperatorSetID
				if err = decodeOpset(msg, &op); err == nil {
					m.OpsetImport = append(m.OpsetImport, op)
				}
			}
		case 14:
			var msg []byte
			if msg, err = f.message(); err == nil {
				var e StringStringEntry
				if err = decodeEntry(msg, &e); err == nil {
					m.MetadataProps = append(m.MetadataProps, e)
				}
			}
		}
		return err
	})
}

func decodeOpset(b []byte, op *OperatorSetID) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			op.Domain, err = f.str()
		case 2:
			op.Version = f.int64()
		}
		return err
	})
}

func decodeEntry(b []byte, e *StringStringEntry) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			e.Key, err = f.str()
		case 2:
			e.Value, err = f.str()
		}
		return err
	})
}

func decodeGraph(b []byte, g *GraphProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		var msg []byte
		switch f.num {
		case 1:
			if msg, err = f.message(); err == nil {
				var n NodeProto
				if err = decodeNode(msg, &n); err == nil {
					g.Nodes = append(g.Nodes, n)
				}
			}
		case 2:
			g.Name, err = f.str()
		case 5:
			if msg, err = f.message(); err == nil {
				var t TensorProto
				if err = decodeTensor(msg, &t); err == nil {
					g.Initializers = append(g.Initializers, t)
				}
			}
		case 10:
			g.DocString, err = f.str()
		case 11, 12, 13:
			if msg, err = f.message(); err == nil {
				var v ValueInfoProto
				if err = decodeValueInfo(msg, &v); err == nil {
					switch f.num {
					case 11:
						g.Inputs = append(g.Inputs, v)
					case 12:
						g.Outputs = append(g.Outputs, v)
					default:
						g.ValueInfo = append(g.ValueInfo, v)
					}
				}
			}
		}
		return err
	})
}

func decodeNode(b []byte, n *NodeProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		var s string
		switch f.num {
		case 1:
			if s, err = f.str(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2:
			if s, err = f.str(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3:
			n.Name, err = f.str()
		case 4:
			n.OpType, err = f.str()
		case 5:
			var msg []byte
			if msg, err = f.message(); err == nil {
				var a AttributeProto
				if err = decodeAttribute(msg, &a); err == nil {
					n.Attributes = append(n.Attributes, a)
				}
			}
		case 6:
			n.DocString, err = f.str()
		case 7:
			n.Domain, err = f.str()
		}
		return err
	})
}

func decodeAttribute(b []byte, a *AttributeProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name, err = f.str()
		case 2:
			if f.typ != protowire.Fixed32Type {
				return fmt.Errorf("%w: attribute f is %v", ErrWireType, f.typ)
			}
			a.F = math.Float32frombits(f.fixed32)
		case 3:
			a.I = f.int64()
		case 4:
			var msg []byte
			if msg, err = f.message(); err == nil {
				a.S = append([]byte(nil), msg...)
			}
		case 7:
			a.Floats, err = appendFloats(a.Floats, f)
		case 8:
			a.Ints, err = appendInt64s(a.Ints, f)
		case 9:
			var msg []byte
			if msg, err = f.message(); err == nil {
				a.Strings = append(a.Strings, append([]byte(nil), msg...))
			}
		case 13:
			a.DocString, err = f.str()
		case 20:
			a.Type = int32(f.varint)
		}
		return err
	})
}

func decodeTensor(b []byte, t *TensorProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = appendInt64s(t.Dims, f)
		case 2:
			t.DataType = int32(f.varint)
		case 4:
			t.FloatData, err = appendFloats(t.FloatData, f)
		case 5:
			var vs []int64
			if vs, err = appendInt64s(nil, f); err == nil {
				for _, v := range vs {
					t.Int32Data = append(t.Int32Data, int32(v))
				}
			}
		case 7:
			t.Int64Data, err = appendInt64s(t.Int64Data, f)
		case 8:
			t.Name, err = f.str()
		case 9:
			var msg []byte
			if msg, err = f.message(); err == nil {
				t.RawData = append([]byte(nil), msg...)
			}
		case 12:
			t.DocString, err = f.str()
		}
		return err
	})
}

func decodeValueInfo(b []byte, v *ValueInfoProto) error {
	return decodeFields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.Name, err = f.str()
		case 2:
			var msg []byte
			if msg, err = f.message(); err == nil {
				v.Type = &TypeProto{}
				err = decodeType(msg, v.Type)
			}
		case 3:
			v.DocString, err = f.str()
		}
		return err
	})
}

func decodeType(b []byte, t *TypeProto) error {
	return decodeFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		msg, err := f.message()
		if err != nil {
			return err
		}
		t.TensorType = &TensorTypeProto{}
		return decodeFields(msg, func(f field) error {
			switch f.num {
			case 1:
				t.TensorType.ElemType = int32(f.varint)
			case 2:
				shape, err := f.message()
				if err != nil {
					return err
				}
				t.TensorType.Shape = &TensorShapeProto{}
				return decodeShape(shape, t.TensorType.Shape)
			}
			return nil
		})
	})
}

func decodeShape(b []byte, s *TensorShapeProto) error {
	return decodeFields(b, func(f field) error {
		if f.num != 1 {
			return nil
		}
		msg, err := f.message()
		if err != nil {
			return err
		}
		var d DimensionProto
		err = decodeFields(msg, func(f field) error {
			var err error
			switch f.num {
			case 1:
				d.DimValue = f.int64()
			case 2:
				d.DimParam, err = f.str()
			}
			return err
		})
		if err != nil {
			return err
		}
		s.Dims = append(s.Dims, d)
		return nil
	})
}
