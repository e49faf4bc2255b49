package exporters

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/serialization"
)

// SafeTensorsExporterType is the component type name of SafeTensorsExporter.
const SafeTensorsExporterType = "SafeTensorsExporter"

// SafeTensorsExporter writes the network weights as a SafeTensors file for
// consumption by other frameworks.
type SafeTensorsExporter struct {
	base
}

// NewSafeTensorsExporter builds the exporter.
func NewSafeTensorsExporter(cfg *Config, env component.Env) (*SafeTensorsExporter, error) {
	b, err := newBase(SafeTensorsExporterType, ".safetensors", *cfg, env)
	if err != nil {
		return nil, err
	}
	return &SafeTensorsExporter{base: b}, nil
}

// Export implements Exporter.
func (e *SafeTensorsExporter) Export(ctx context.Context, net *networks.Network, input *sample.Tensor) (Artifact, error) {
	a, err := e.prepare(ctx, net, input)
	if err != nil {
		return Artifact{}, err
	}
	if err := serialization.WriteSafeTensors(a.Path, net.StateDict(), e.metadata(a, net)); err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", e.name, err)
	}
	e.logExported(a)
	return a, nil
}

// Validate implements Exporter. The file holds weights only, so every tensor
// is compared byte for byte with the network's state dict.
func (e *SafeTensorsExporter) Validate(ctx context.Context, a Artifact, net *networks.Network, _ *sample.Tensor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tensors, meta, err := serialization.ReadSafeTensors(a.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	if id := meta[MetaArtifactID]; id != a.ID {
		return fmt.Errorf("%w: %s: artifact_id %q, want %q", ErrParityMismatch, a.Path, id, a.ID)
	}

	live := net.StateDict()
	if len(tensors) != len(live) {
		return fmt.Errorf("%w: %s: %d tensors, network has %d", ErrParityMismatch, a.Path, len(tensors), len(live))
	}
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		want := live[name]
		got, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: %s: missing tensor %s", ErrParityMismatch, a.Path, name)
		}
		if got.DType() != want.DType() || !got.Shape().Equal(want.Shape()) || !bytes.Equal(got.Data(), want.Data()) {
			return fmt.Errorf("%w: %s: tensor %s differs", ErrParityMismatch, a.Path, name)
		}
	}
	e.logger.Info("Validated artifact",
		zap.String("path", a.Path),
		zap.String("artifact_id", a.ID),
		zap.Int("tensors", len(names)))
	return nil
}
