// Package export restores a trained module from a checkpoint and writes the
// configured deployment artifacts.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/born-ml/template/internal/checkpoint"
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/data"
	"github.com/born-ml/template/internal/exporters"
	"github.com/born-ml/template/internal/logging"
	"github.com/born-ml/template/internal/sample"
)

var (
	// ErrNoTrainLoader is returned when the data module has no train loader to
	// draw sample batches from.
	ErrNoTrainLoader = errors.New("data module has no train loader")
	// ErrCheckpointNotFound is returned when an explicitly named checkpoint
	// does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrNotEnoughSamples is returned when the train loader yields fewer than
	// two batches.
	ErrNotEnoughSamples = errors.New("train loader must yield at least two batches")
)

// TrainModule is what Run needs from the module named in the checkpoint's
// train configuration.
type TrainModule interface {
	LoadFromCheckpoint(path string) error
	Export(ctx context.Context, exps []exporters.Exporter, input, validation *sample.Tensor) ([]exporters.Artifact, error)
}

// Deps are the collaborators of Run.
type Deps struct {
	Registry *component.Registry
	Logger   *zap.Logger
}

// Run exports the checkpoint named checkpointName, or the most recent one in
// the experiment's checkpoint folder when the name is empty.
func Run(ctx context.Context, deps Deps, cfg *config.ExportConfig, checkpointName string) error {
	if deps.Registry == nil {
		return errors.New("export: registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("experiment", cfg.Name))
	opts := []component.BuildOption{
		component.WithExperiment(cfg.Name, cfg.ExperimentFolder),
		component.WithLogger(logger),
	}

	logging.Phase(logger, "Building data module", zap.String("type", cfg.DataModule.Type))
	dm, err := component.BuildAs[data.DataModule](deps.Registry, cfg.DataModule, opts...)
	if err != nil {
		return fmt.Errorf("data module: %w", err)
	}
	loader := dm.TrainLoader()
	if loader == nil {
		return ErrNoTrainLoader
	}

	ckpt, err := resolveCheckpoint(cfg.ExperimentFolder, checkpointName)
	if err != nil {
		return err
	}
	logging.Phase(logger, "Loading checkpoint", zap.String("path", ckpt))

	trainCfg, err := checkpoint.LoadConfiguration(ckpt)
	if err != nil {
		return err
	}
	module, err := component.BuildAs[TrainModule](deps.Registry, trainCfg.TrainModule, opts...)
	if err != nil {
		return fmt.Errorf("train module: %w", err)
	}
	if err := module.LoadFromCheckpoint(ckpt); err != nil {
		return err
	}

	logging.Phase(logger, "Building exporters", zap.Int("count", len(cfg.Exporters)))
	exps := make([]exporters.Exporter, 0, len(cfg.Exporters))
	for i, spec := range cfg.Exporters {
		e, err := component.BuildAs[exporters.Exporter](deps.Registry, spec, opts...)
		if err != nil {
			return fmt.Errorf("exporter %d: %w", i, err)
		}
		exps = append(exps, e)
	}

	input, validation, err := drawSamples(ctx, loader)
	if err != nil {
		return err
	}

	logging.Phase(logger, "Exporting",
		zap.Ints("input_shape", input.Shape()),
		zap.Ints("validation_shape", validation.Shape()))
	artifacts, err := module.Export(ctx, exps, input, validation)
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		logger.Info("Artifact ready",
			zap.String("exporter", a.Exporter),
			zap.String("path", a.Path),
			zap.String("artifact_id", a.ID))
	}
	logging.Phase(logger, "Export finished", zap.Int("artifacts", len(artifacts)))
	return nil
}

// resolveCheckpoint returns the explicitly named checkpoint, which must exist,
// or the latest one.
func resolveCheckpoint(experimentFolder, name string) (string, error) {
	dir := config.CheckpointsDir(experimentFolder)
	if name == "" {
		return checkpoint.Latest(dir)
	}
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrCheckpointNotFound, path)
	}
	return path, nil
}

// drawSamples returns the data slot of the first two batches of a fresh pass.
func drawSamples(ctx context.Context, loader *data.Loader) (input, validation *sample.Tensor, err error) {
	loader.Reset()
	next := func() (*sample.Tensor, error) {
		batch, _, err := loader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: got %d", ErrNotEnoughSamples, loader.NumBatches())
		}
		if err != nil {
			return nil, fmt.Errorf("draw sample batch: %w", err)
		}
		return batch.Data()
	}
	if input, err = next(); err != nil {
		return nil, nil, err
	}
	if validation, err = next(); err != nil {
		return nil, nil, err
	}
	return input, validation, nil
}
