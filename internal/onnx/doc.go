// Package onnx reads, writes and executes ONNX models.
//
// The protobuf messages are modelled as plain Go structs and encoded with
// google.golang.org/protobuf/encoding/protowire, so no generated code is
// needed:
//
//	data := onnx.Marshal(model)            // ModelProto -> wire bytes
//	proto, err := onnx.Parse(data)         // wire bytes -> ModelProto
//	m, err := onnx.LoadFromProto(proto, backend, onnx.DefaultLoadOptions())
//	out, err := m.Forward(input)           // run the graph
//
// The runtime executes graphs in topological order using the operator
// handlers in the operators subpackage. Initializers may be float32, int64
// or uint8.
package onnx
