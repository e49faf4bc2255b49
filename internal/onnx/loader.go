package onnx

import (
	"errors"
	"fmt"

	"github.com/born-ml/template/internal/onnx/operators"
	"github.com/born-ml/template/internal/tensor"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode fails at load time on unsupported operators instead of at
	// the first Forward that reaches them.
	StrictMode bool

	// CustomOps provides custom operator handlers.
	CustomOps map[string]operators.OpHandler
}

// DefaultLoadOptions returns strict loading with no custom operators.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictMode: true}
}

// Load loads an ONNX model from file and prepares it for inference.
//
//	model, err := onnx.Load("model.onnx", cpu.New())
//	if err != nil {
//	    return err
//	}
//	output, err := model.Forward(input)
func Load(path string, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}
	return LoadFromProto(proto, backend, pickOptions(opts))
}

// LoadFromBytes loads an ONNX model from its encoded form.
func LoadFromBytes(data []byte, backend tensor.Backend, opts ...LoadOptions) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}
	return LoadFromProto(proto, backend, pickOptions(opts))
}

func pickOptions(opts []LoadOptions) LoadOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return DefaultLoadOptions()
}

// LoadFromProto loads a model from a parsed ModelProto.
func LoadFromProto(proto *ModelProto, backend tensor.Backend, opt LoadOptions) (*Model, error) {
	if backend == nil {
		return nil, errors.New("onnx: backend is nil")
	}
	registry := operators.NewRegistry()
	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	model := &Model{
		proto:    proto,
		registry: registry,
		backend:  backend,
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return errors.New("model has no graph")
	}

	var unsupported []string
	for i := range graph.Nodes {
		if _, ok := registry.Get(graph.Nodes[i].OpType); !ok {
			unsupported = append(unsupported, graph.Nodes[i].OpType)
		}
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("unsupported operators: %v", unsupported)
	}
	return nil
}

// ModelInfo summarizes a model without preparing it for inference.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
}

// GetModelInfo summarizes proto.
func GetModelInfo(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.Opset(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
	}
	if proto.Graph == nil {
		return info
	}

	initNames := make(map[string]bool, len(proto.Graph.Initializers))
	for i := range proto.Graph.Initializers {
		initNames[proto.Graph.Initializers[i].Name] = true
	}
	for i := range proto.Graph.Inputs {
		if !initNames[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for _, output := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, output.Name)
	}
	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	return info
}

// ListSupportedOps returns all supported ONNX operators.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
