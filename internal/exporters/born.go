package exporters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/serialization"
	"github.com/born-ml/template/internal/tensor"
)

// BornExporterType is the component type name of BornExporter.
const BornExporterType = "BornExporter"

// Born model header metadata keys.
const (
	MetaNetworkSpec = "network_spec"
	MetaInputShape  = "input_shape"
)

// ErrNotBornModel is returned when a .born file carries no network spec.
var ErrNotBornModel = errors.New("file is not an exported model")

// BornExporter writes the native .born model: the state dict plus the
// network spec and input shape needed to rebuild the architecture.
type BornExporter struct {
	base
	registry *component.Registry
	backend  sample.Backend
}

// NewBornExporter builds the exporter. The registry in env is used by
// Validate to rebuild the network from the artifact.
func NewBornExporter(cfg *Config, env component.Env) (*BornExporter, error) {
	b, err := newBase(BornExporterType, ".born", *cfg, env)
	if err != nil {
		return nil, err
	}
	if env.Registry == nil {
		return nil, fmt.Errorf("%s: registry is required", BornExporterType)
	}
	return &BornExporter{base: b, registry: env.Registry, backend: env.Backend}, nil
}

// Export implements Exporter.
func (e *BornExporter) Export(ctx context.Context, net *networks.Network, input *sample.Tensor) (Artifact, error) {
	a, err := e.prepare(ctx, net, input)
	if err != nil {
		return Artifact{}, err
	}

	spec, err := net.Spec()
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", e.name, err)
	}
	specYAML, err := yaml.Marshal(spec)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: encode network spec: %w", e.name, err)
	}
	shapeJSON, err := json.Marshal(net.InputShape())
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: encode input shape: %w", e.name, err)
	}

	meta := e.metadata(a, net)
	meta[MetaNetworkSpec] = string(specYAML)
	meta[MetaInputShape] = string(shapeJSON)
	header := serialization.Header{
		ModelType: net.Kind(),
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}
	if err := serialization.WriteFile(a.Path, net.StateDict(), header); err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", e.name, err)
	}
	e.logExported(a)
	return a, nil
}

// Validate implements Exporter by rebuilding the network from the artifact.
func (e *BornExporter) Validate(ctx context.Context, a Artifact, net *networks.Network, validation *sample.Tensor) error {
	want, err := reference(ctx, net, validation)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	loaded, header, err := LoadBornModel(a.Path, e.registry, e.backend)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	if id := header.Metadata[MetaArtifactID]; id != a.ID {
		return fmt.Errorf("%w: %s: artifact_id %q, want %q", ErrParityMismatch, a.Path, id, a.ID)
	}
	got := loaded.ForwardTensor(validation)
	return e.compare(a, want, got.Raw())
}

// LoadBornModel rebuilds the network stored in a .born model file.
func LoadBornModel(path string, registry *component.Registry, backend sample.Backend) (*networks.Network, serialization.Header, error) {
	stateDict, header, err := serialization.ReadFile(path)
	if err != nil {
		return nil, serialization.Header{}, err
	}

	specYAML, ok := header.Metadata[MetaNetworkSpec]
	if !ok {
		return nil, header, fmt.Errorf("%w: %s", ErrNotBornModel, path)
	}
	var spec component.Spec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, header, fmt.Errorf("decode network spec: %w", err)
	}
	var shape tensor.Shape
	if err := json.Unmarshal([]byte(header.Metadata[MetaInputShape]), &shape); err != nil {
		return nil, header, fmt.Errorf("decode input shape: %w", err)
	}

	opts := []component.BuildOption{component.WithInputShape(shape)}
	if backend != nil {
		opts = append(opts, component.WithBackend(backend))
	}
	net, err := component.BuildAs[*networks.Network](registry, spec, opts...)
	if err != nil {
		return nil, header, err
	}
	if err := net.LoadStateDict(stateDict); err != nil {
		return nil, header, fmt.Errorf("load weights: %w", err)
	}
	return net, header, nil
}
