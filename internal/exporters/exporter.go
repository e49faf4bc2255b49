// Package exporters turns a trained network into deployable artifacts and
// checks that each artifact reproduces the network's outputs.
//
// Every exporter writes into the experiment's exports folder:
//
//	<experiment folder>/exports/<experiment>.born
//	<experiment folder>/exports/<experiment>.onnx
//	<experiment folder>/exports/<experiment>.safetensors
//
// and stamps a fresh artifact_id (UUID) into the artifact metadata.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// DefaultTolerance is the maximum absolute output difference accepted by
// Validate unless configured otherwise.
const DefaultTolerance = 1e-4

// Metadata keys shared by all artifact formats.
const (
	MetaArtifactID = "artifact_id"
	MetaExperiment = "experiment"
	MetaNetwork    = "network"
)

var (
	// ErrParityMismatch is returned when an artifact's outputs differ from the
	// live network by more than the tolerance.
	ErrParityMismatch = errors.New("artifact output does not match network")
	// ErrNoExperimentFolder is returned when an exporter is built without an
	// experiment folder to write into.
	ErrNoExperimentFolder = errors.New("exporter requires an experiment folder")
)

// Artifact identifies one exported file.
type Artifact struct {
	ID       string
	Exporter string
	Path     string
}

// Exporter writes one artifact format.
type Exporter interface {
	// Name returns the component type name of the exporter.
	Name() string
	// Export writes the artifact for net. input is a sample batch used to
	// trace the network before writing.
	Export(ctx context.Context, net *networks.Network, input *sample.Tensor) (Artifact, error)
	// Validate loads artifact and checks it against net on validation.
	Validate(ctx context.Context, artifact Artifact, net *networks.Network, validation *sample.Tensor) error
}

// Config is shared by every exporter.
type Config struct {
	// FileName overrides the artifact file name inside the exports folder.
	// Defaults to the experiment name plus the format extension.
	FileName string `yaml:"FileName"`
	// Tolerance is the largest accepted absolute output difference.
	Tolerance float32 `yaml:"Tolerance"`
}

// SetDefaults implements component.Defaulter.
func (c *Config) SetDefaults() {
	c.Tolerance = DefaultTolerance
}

// Validate implements component.Validator.
func (c *Config) Validate() error {
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: Tolerance must not be negative, got %g", config.ErrInvalidConfig, c.Tolerance)
	}
	if strings.ContainsAny(c.FileName, `/\`) {
		return fmt.Errorf("%w: FileName %q must not contain a path", config.ErrInvalidConfig, c.FileName)
	}
	return nil
}

// base holds what every exporter needs: where to write and how to log.
type base struct {
	name       string
	ext        string
	cfg        Config
	experiment string
	dir        string
	logger     *zap.Logger
}

func newBase(name, ext string, cfg Config, env component.Env) (base, error) {
	if env.ExperimentFolder == "" {
		return base{}, fmt.Errorf("%s: %w", name, ErrNoExperimentFolder)
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		name:       name,
		ext:        ext,
		cfg:        cfg,
		experiment: env.ExperimentName,
		dir:        config.ExportsDir(env.ExperimentFolder),
		logger:     logger.With(zap.String("exporter", name)),
	}, nil
}

// Name implements Exporter.
func (b *base) Name() string {
	return b.name
}

// Tolerance returns the parity tolerance.
func (b *base) Tolerance() float32 {
	return b.cfg.Tolerance
}

// Path returns the artifact path.
func (b *base) Path() string {
	file := b.cfg.FileName
	if file == "" {
		stem := b.experiment
		if stem == "" {
			stem = "model"
		}
		file = stem + b.ext
	}
	return filepath.Join(b.dir, file)
}

// prepare checks the context, traces net on input and creates the exports
// folder. It returns a new artifact record.
func (b *base) prepare(ctx context.Context, net *networks.Network, input *sample.Tensor) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if input == nil {
		return Artifact{}, fmt.Errorf("%s: sample input is required", b.name)
	}
	out, err := net.Forward(sample.Batch{sample.DataSlot: input})
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: trace: %w", b.name, err)
	}
	y, err := out.Data()
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: trace: %w", b.name, err)
	}
	b.logger.Debug("Traced network",
		zap.String("network", net.Kind()),
		zap.Ints("input_shape", input.Shape()),
		zap.Ints("output_shape", y.Shape()))

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("%s: create exports folder: %w", b.name, err)
	}
	return Artifact{ID: uuid.NewString(), Exporter: b.name, Path: b.Path()}, nil
}

func (b *base) metadata(a Artifact, net *networks.Network) map[string]string {
	return map[string]string{
		MetaArtifactID: a.ID,
		MetaExperiment: b.experiment,
		MetaNetwork:    net.Kind(),
	}
}

// compare checks got against the network output want.
func (b *base) compare(a Artifact, want, got *tensor.RawTensor) error {
	diff, err := tensor.MaxAbsDiff(want, got)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParityMismatch, a.Path, err)
	}
	// Written as a negated <= so NaN fails.
	if !(diff <= b.cfg.Tolerance) {
		return fmt.Errorf("%w: %s: max abs diff %g exceeds tolerance %g", ErrParityMismatch, a.Path, diff, b.cfg.Tolerance)
	}
	b.logger.Info("Validated artifact",
		zap.String("path", a.Path),
		zap.String("artifact_id", a.ID),
		zap.Float32("max_abs_diff", diff))
	return nil
}

func (b *base) logExported(a Artifact) {
	b.logger.Info("Exported artifact", zap.String("path", a.Path), zap.String("artifact_id", a.ID))
}

// reference runs net on validation.
func reference(ctx context.Context, net *networks.Network, validation *sample.Tensor) (*tensor.RawTensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if validation == nil {
		return nil, errors.New("validation sample is required")
	}
	out, err := net.Forward(sample.Batch{sample.DataSlot: validation})
	if err != nil {
		return nil, err
	}
	y, err := out.Data()
	if err != nil {
		return nil, err
	}
	return y.Raw(), nil
}
