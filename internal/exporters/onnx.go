package exporters

import (
	"context"
	"fmt"
	"sort"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/nn"
	"github.com/born-ml/template/internal/onnx"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/serialization"
	"github.com/born-ml/template/internal/tensor"
)

// ONNXExporterType is the component type name of ONNXExporter.
const ONNXExporterType = "ONNXExporter"

// Graph input and output names of exported models.
const (
	ONNXInputName  = "input"
	ONNXOutputName = "output"
	onnxBatchParam = "batch"
)

// ONNXConfig configures ONNXExporter.
type ONNXConfig struct {
	Config `yaml:",inline"`
	// DynamicBatch declares the batch dimension symbolic; otherwise it is
	// fixed to the sample input's batch size.
	DynamicBatch bool `yaml:"DynamicBatch"`
}

// SetDefaults implements component.Defaulter.
func (c *ONNXConfig) SetDefaults() {
	c.Config.SetDefaults()
	c.DynamicBatch = true
}

// ONNXExporter writes an opset 13 ONNX model.
type ONNXExporter struct {
	base
	dynamicBatch bool
	backend      sample.Backend
}

// NewONNXExporter builds the exporter.
func NewONNXExporter(cfg *ONNXConfig, env component.Env) (*ONNXExporter, error) {
	b, err := newBase(ONNXExporterType, ".onnx", cfg.Config, env)
	if err != nil {
		return nil, err
	}
	backend := env.Backend
	if backend == nil {
		backend = cpu.New()
	}
	return &ONNXExporter{base: b, dynamicBatch: cfg.DynamicBatch, backend: backend}, nil
}

// Export implements Exporter.
func (e *ONNXExporter) Export(ctx context.Context, net *networks.Network, input *sample.Tensor) (Artifact, error) {
	a, err := e.prepare(ctx, net, input)
	if err != nil {
		return Artifact{}, err
	}

	batch := int64(0)
	if !e.dynamicBatch {
		batch = int64(input.Shape()[0])
	}
	model, err := BuildONNXModel(net, batch, e.metadata(a, net))
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", e.name, err)
	}
	if err := onnx.WriteFile(a.Path, model); err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", e.name, err)
	}
	e.logExported(a)
	return a, nil
}

// Validate implements Exporter by executing the decoded model.
func (e *ONNXExporter) Validate(ctx context.Context, a Artifact, net *networks.Network, validation *sample.Tensor) error {
	want, err := reference(ctx, net, validation)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	model, err := onnx.Load(a.Path, e.backend)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	if id := model.Metadata()[MetaArtifactID]; id != a.ID {
		return fmt.Errorf("%w: %s: artifact_id %q, want %q", ErrParityMismatch, a.Path, id, a.ID)
	}
	got, err := model.Forward(validation.Raw())
	if err != nil {
		return fmt.Errorf("%s: run model: %w", e.name, err)
	}
	return e.compare(a, want, got)
}

// BuildONNXModel translates net into an ONNX graph. batch fixes the batch
// dimension; 0 makes it symbolic.
func BuildONNXModel(net *networks.Network, batch int64, metadata map[string]string) (*onnx.ModelProto, error) {
	g := &graphBuilder{graph: &onnx.GraphProto{Name: net.Kind()}, current: ONNXInputName}

	for _, l := range net.Layers() {
		if err := g.addLayer(l); err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
	}
	// Rename the last value to the graph output.
	if n := len(g.graph.Nodes); n > 0 {
		last := &g.graph.Nodes[n-1]
		last.Outputs[0] = ONNXOutputName
	} else {
		g.node("Identity", "identity", nil)
		g.graph.Nodes[0].Outputs[0] = ONNXOutputName
	}

	inDims := []onnx.DimensionProto{batchDim(batch)}
	for _, d := range net.InputShape().HWCToCHW() {
		inDims = append(inDims, fixedDim(d))
	}
	g.graph.Inputs = []onnx.ValueInfoProto{valueInfo(ONNXInputName, inDims...)}
	outDims := []onnx.DimensionProto{batchDim(batch)}
	for _, d := range net.OutputShape() {
		outDims = append(outDims, fixedDim(d))
	}
	g.graph.Outputs = []onnx.ValueInfoProto{valueInfo(ONNXOutputName, outDims...)}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	props := make([]onnx.StringStringEntry, 0, len(keys))
	for _, k := range keys {
		props = append(props, onnx.StringStringEntry{Key: k, Value: metadata[k]})
	}

	return &onnx.ModelProto{
		IRVersion:       onnx.IRVersion,
		OpsetImport:     []onnx.OperatorSetID{{Version: onnx.DefaultOpset}},
		ProducerName:    serialization.Producer,
		ProducerVersion: "1",
		Graph:           g.graph,
		MetadataProps:   props,
	}, nil
}

type graphBuilder struct {
	graph   *onnx.GraphProto
	current string
	err     error
}

// node appends an op consuming the current value plus extra inputs and makes
// its output current.
func (g *graphBuilder) node(opType, name string, extra []string, attrs ...onnx.AttributeProto) {
	out := name + "_out"
	g.graph.Nodes = append(g.graph.Nodes, onnx.NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     append([]string{g.current}, extra...),
		Outputs:    []string{out},
		Attributes: attrs,
	})
	g.current = out
}

func (g *graphBuilder) weight(name string, t *tensor.RawTensor) string {
	if g.err != nil {
		return name
	}
	p, err := onnx.TensorToProto(name, t)
	if err != nil {
		g.err = fmt.Errorf("initializer %s: %w", name, err)
		return name
	}
	g.graph.Initializers = append(g.graph.Initializers, p)
	return name
}

func (g *graphBuilder) addLayer(l networks.LayerInfo) error {
	switch layer := l.Layer.(type) {
	case *nn.Convolution2D[sample.Backend]:
		g.addConvolution(l.Name, layer)
	case *nn.MaxPool2D[sample.Backend]:
		k, s := int64(layer.KernelSize()), int64(layer.Stride())
		g.node("MaxPool", l.Name, nil, onnx.IntsAttr("kernel_shape", k, k), onnx.IntsAttr("strides", s, s))
	case *nn.Flatten[sample.Backend]:
		g.node("Flatten", l.Name, nil, onnx.IntAttr("axis", 1))
	case *nn.Linear[sample.Backend]:
		w := g.weight(l.Name+".weight", layer.Weight().Tensor().Raw())
		b := g.weight(l.Name+".bias", layer.Bias().Tensor().Raw())
		g.node("Gemm", l.Name, []string{w, b},
			onnx.FloatAttr("alpha", 1), onnx.FloatAttr("beta", 1), onnx.IntAttr("transB", 1))
	default:
		return fmt.Errorf("no ONNX mapping for %T", l.Layer)
	}
	return g.err
}

func (g *graphBuilder) addConvolution(name string, block *nn.Convolution2D[sample.Backend]) {
	conv := block.Conv()
	k := conv.KernelSize()
	s, p := int64(conv.Stride()), int64(conv.Padding())
	inputs := []string{g.weight(name+".conv.weight", conv.Weight().Tensor().Raw())}
	if bias := conv.Bias(); bias != nil {
		inputs = append(inputs, g.weight(name+".conv.bias", bias.Tensor().Raw()))
	}
	g.node("Conv", name+"/conv", inputs,
		onnx.IntsAttr("kernel_shape", int64(k[0]), int64(k[1])),
		onnx.IntsAttr("strides", s, s),
		onnx.IntsAttr("pads", p, p, p, p))

	if bn := block.BatchNorm(); bn != nil {
		sd := bn.StateDict()
		g.node("BatchNormalization", name+"/bn", []string{
			g.weight(name+".bn.weight", sd["weight"]),
			g.weight(name+".bn.bias", sd["bias"]),
			g.weight(name+".bn.running_mean", sd["running_mean"]),
			g.weight(name+".bn.running_var", sd["running_var"]),
		}, onnx.FloatAttr("epsilon", bn.Eps()))
	}

	switch act := block.Activation().(type) {
	case nil:
	case *nn.ReLU[sample.Backend]:
		g.node("Relu", name+"/act", nil)
	case *nn.LeakyReLU[sample.Backend]:
		g.node("LeakyRelu", name+"/act", nil, onnx.FloatAttr("alpha", act.NegativeSlope()))
	case *nn.ELU[sample.Backend]:
		g.node("Elu", name+"/act", nil, onnx.FloatAttr("alpha", act.Alpha()))
	case *nn.Sigmoid[sample.Backend]:
		g.node("Sigmoid", name+"/act", nil)
	case *nn.Tanh[sample.Backend]:
		g.node("Tanh", name+"/act", nil)
	default:
		if g.err == nil {
			g.err = fmt.Errorf("no ONNX mapping for activation %T", act)
		}
	}
}

func batchDim(batch int64) onnx.DimensionProto {
	if batch > 0 {
		return onnx.DimensionProto{DimValue: batch}
	}
	return onnx.DimensionProto{DimParam: onnxBatchParam}
}

func fixedDim(d int) onnx.DimensionProto {
	return onnx.DimensionProto{DimValue: int64(d)}
}

func valueInfo(name string, dims ...onnx.DimensionProto) onnx.ValueInfoProto {
	return onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{
			ElemType: onnx.TensorProtoFloat,
			Shape:    &onnx.TensorShapeProto{Dims: dims},
		}},
	}
}
