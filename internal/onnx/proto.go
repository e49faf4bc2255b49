package onnx

// ONNX protobuf messages. Only the fields used by the exporter and the
// runtime are modelled; unknown fields are skipped when decoding.

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (e.g. 7)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Producing framework
	ProducerVersion string              // Producing framework version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
	ValueInfo    []ValueInfoProto // Intermediate tensor info
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name (optional)
	OpType     string           // Operation type (e.g. "Conv", "Gemm", "Relu")
	Inputs     []string         // Input tensor names
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
	DocString  string           // Node description
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Little-endian element bytes
	FloatData []float32 // float32 data (legacy)
	Int32Data []int32   // int32 and smaller integer data (legacy)
	Int64Data []int64   // int64 data (legacy)
	DocString string    // Tensor description
}

// ValueInfoProto describes an input/output tensor.
type ValueInfoProto struct {
	Name      string     // Tensor name
	Type      *TypeProto // Tensor type information
	DocString string     // Description
}

// TypeProto describes a value type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32             // Element data type
	Shape    *TensorShapeProto // Tensor shape
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto describes a single dimension: either a static value or a
// named symbolic dimension such as "batch".
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto represents a node attribute.
type AttributeProto struct {
	Name      string    // Attribute name
	Type      int32     // Attribute type
	F         float32   // FLOAT value
	I         int64     // INT value
	S         []byte    // STRING value
	Floats    []float32 // FLOATS array
	Ints      []int64   // INTS array
	Strings   [][]byte  // STRINGS array
	DocString string    // Description
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string // Operator domain (empty for default)
	Version int64  // Opset version number
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1  // float32
	TensorProtoUint8     = 2  // uint8
	TensorProtoInt8      = 3  // int8
	TensorProtoInt32     = 6  // int32
	TensorProtoInt64     = 7  // int64
	TensorProtoBool      = 9  // bool
	TensorProtoDouble    = 11 // float64
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// Versions used for exported models.
const (
	IRVersion    = 7
	DefaultOpset = 13
)

// Opset returns the default-domain opset version of m, or 0.
func (m *ModelProto) Opset() int64 {
	for _, opset := range m.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

// FloatAttr builds a FLOAT attribute.
func FloatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// IntAttr builds an INT attribute.
func IntAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// IntsAttr builds an INTS attribute.
func IntsAttr(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// StringAttr builds a STRING attribute.
func StringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}
