package onnx

import (
	"errors"
	"fmt"

	"github.com/born-ml/template/internal/onnx/operators"
	"github.com/born-ml/template/internal/tensor"
)

// ErrUnsupportedDataType is returned for initializers of an element type the
// runtime cannot hold.
var ErrUnsupportedDataType = errors.New("onnx: unsupported tensor data type")

// Model represents a loaded ONNX model ready for inference.
// It executes the computation graph using the provided backend.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	backend      tensor.Backend
	tensors      map[string]*tensor.RawTensor // Initializers
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Proto returns the underlying model description.
func (m *Model) Proto() *ModelProto {
	return m.proto
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	meta["domain"] = m.proto.Domain
	return meta
}

// Forward runs inference with a single input tensor.
// For models with multiple inputs, use ForwardNamed.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputNames) != 1 {
		return nil, fmt.Errorf("model has %d inputs, use ForwardNamed", len(m.inputNames))
	}
	if len(m.outputNames) != 1 {
		return nil, fmt.Errorf("model has %d outputs, use ForwardNamed", len(m.outputNames))
	}

	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{
		m.inputNames[0]: input,
	})
	if err != nil {
		return nil, err
	}
	return outputs[m.outputNames[0]], nil
}

// ForwardNamed runs inference with named inputs and returns the graph
// outputs by name.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}

	for _, inputName := range m.inputNames {
		if _, ok := tensors[inputName]; !ok {
			return nil, fmt.Errorf("missing input: %s", inputName)
		}
	}

	ctx := &operators.Context{Backend: m.backend}
	for nodeIdx := range m.sortedNodes {
		node := &m.sortedNodes[nodeIdx]
		nodeInputs, err := gatherInputs(node, tensors)
		if err != nil {
			return nil, err
		}

		outputs, err := m.registry.Execute(ctx, nodeProtoToOperatorNode(node), nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, outputName := range node.Outputs {
			if i < len(outputs) {
				tensors[outputName] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, outputName := range m.outputNames {
		t, ok := tensors[outputName]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", outputName)
		}
		result[outputName] = t
	}
	return result, nil
}

func gatherInputs(node *NodeProto, tensors map[string]*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	inputs := make([]*tensor.RawTensor, len(node.Inputs))
	for i, name := range node.Inputs {
		if name == "" {
			continue // omitted optional input
		}
		t, ok := tensors[name]
		if !ok {
			return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
		}
		inputs[i] = t
	}
	return inputs, nil
}

// compile prepares the model for inference.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return errors.New("model has no graph")
	}

	m.tensors = make(map[string]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.tensors[init.Name] = t
	}

	// Inputs are graph inputs minus initializers.
	for i := range graph.Inputs {
		if _, isInit := m.tensors[graph.Inputs[i].Name]; !isInit {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	sorted, err := topologicalSort(graph.Nodes)
	if err != nil {
		return err
	}
	m.sortedNodes = sorted
	m.opsetVersion = m.proto.Opset()
	return nil
}

// tensorFromProto converts a TensorProto to a CPU RawTensor.
func tensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	dtype, err := protoTypeToTensorType(proto.DataType)
	if err != nil {
		return nil, err
	}

	if len(proto.RawData) > 0 {
		return tensor.FromBytes(proto.RawData, shape, dtype, tensor.CPU)
	}

	t, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	n := t.NumElements()
	switch dtype {
	case tensor.Float32:
		if len(proto.FloatData) != n {
			return nil, fmt.Errorf("float_data has %d values, shape %v needs %d", len(proto.FloatData), shape, n)
		}
		copy(t.AsFloat32(), proto.FloatData)
	case tensor.Int64:
		if len(proto.Int64Data) != n {
			return nil, fmt.Errorf("int64_data has %d values, shape %v needs %d", len(proto.Int64Data), shape, n)
		}
		copy(t.AsInt64(), proto.Int64Data)
	case tensor.Uint8:
		if len(proto.Int32Data) != n {
			return nil, fmt.Errorf("int32_data has %d values, shape %v needs %d", len(proto.Int32Data), shape, n)
		}
		dst := t.AsUint8()
		for i, v := range proto.Int32Data {
			dst[i] = uint8(v)
		}
	}
	return t, nil
}

// protoTypeToTensorType converts an ONNX element type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedDataType, onnxType)
	}
}

// TensorTypeToProto converts a tensor.DataType to its ONNX element type.
func TensorTypeToProto(dtype tensor.DataType) (int32, error) {
	switch dtype {
	case tensor.Float32:
		return TensorProtoFloat, nil
	case tensor.Int64:
		return TensorProtoInt64, nil
	case tensor.Uint8:
		return TensorProtoUint8, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dtype)
	}
}

// TensorToProto stores t as a raw-data initializer named name.
func TensorToProto(name string, t *tensor.RawTensor) (TensorProto, error) {
	dtype, err := TensorTypeToProto(t.DType())
	if err != nil {
		return TensorProto{}, err
	}
	dims := make([]int64, len(t.Shape()))
	for i, d := range t.Shape() {
		dims[i] = int64(d)
	}
	return TensorProto{
		Name:     name,
		DataType: dtype,
		Dims:     dims,
		RawData:  append([]byte(nil), t.Data()...),
	}, nil
}

// nodeProtoToOperatorNode converts NodeProto to operators.Node.
func nodeProtoToOperatorNode(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}
}

// topologicalSort orders nodes so every producer runs before its consumers.
func topologicalSort(nodes []NodeProto) ([]NodeProto, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %q", nodes[i].Name)
		}
		state[i] = visiting
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				if err := visit(depIdx); err != nil {
					return err
				}
			}
		}
		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
