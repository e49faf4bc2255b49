// Package trainmodule wraps a network with the configuration needed to
// rebuild it, restores it from checkpoints and drives its export.
package trainmodule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/template/internal/checkpoint"
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/exporters"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// Type is the component type name of the train module.
const Type = "TrainModule"

// Config configures a TrainModule.
type Config struct {
	// Network is the architecture spec.
	Network component.Spec `yaml:"Network"`
	// InputShape is the [H, W, C] shape of one sample.
	InputShape []int `yaml:"InputShape"`
}

// Validate implements component.Validator.
func (c *Config) Validate() error {
	if c.Network.IsZero() {
		return fmt.Errorf("%w: Network.type is required", config.ErrInvalidConfig)
	}
	if len(c.InputShape) != 3 || tensor.Shape(c.InputShape).Validate() != nil {
		return fmt.Errorf("%w: InputShape must be [H, W, C] with positive dimensions, got %v",
			config.ErrInvalidConfig, c.InputShape)
	}
	return nil
}

// TrainModule owns one network.
type TrainModule struct {
	cfg    Config
	net    *networks.Network
	logger *zap.Logger
}

// New builds the configured network through env.Registry.
func New(cfg *Config, env component.Env) (*TrainModule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env.Registry == nil {
		return nil, errors.New("train module: registry is required")
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(env.Options(), component.WithInputShape(cfg.InputShape))
	net, err := component.BuildAs[*networks.Network](env.Registry, cfg.Network, opts...)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}

	m := &TrainModule{cfg: *cfg, net: net, logger: logger}
	m.logSummary()
	return m, nil
}

// Network returns the wrapped network.
func (m *TrainModule) Network() *networks.Network {
	return m.net
}

// Config returns the module configuration.
func (m *TrainModule) Config() Config {
	return m.cfg
}

// LoadFromCheckpoint replaces the network weights with those stored at path.
func (m *TrainModule) LoadFromCheckpoint(path string) error {
	stateDict, err := checkpoint.LoadStateDict(path)
	if err != nil {
		return err
	}
	if err := m.net.LoadStateDict(stateDict); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	m.logger.Info("Loaded checkpoint", zap.String("path", path), zap.Int("tensors", len(stateDict)))
	return nil
}

// Export runs every exporter in order: each writes its artifact from input
// and then validates it against the live network on validation. It stops at
// the first failure.
func (m *TrainModule) Export(ctx context.Context, exps []exporters.Exporter, input, validation *sample.Tensor) ([]exporters.Artifact, error) {
	artifacts := make([]exporters.Artifact, 0, len(exps))
	for _, e := range exps {
		a, err := e.Export(ctx, m.net, input)
		if err != nil {
			return artifacts, fmt.Errorf("export %s: %w", e.Name(), err)
		}
		if err := e.Validate(ctx, a, m.net, validation); err != nil {
			return artifacts, fmt.Errorf("validate %s: %w", e.Name(), err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (m *TrainModule) logSummary() {
	m.logger.Info("Network built",
		zap.String("network", m.net.Kind()),
		zap.Ints("input_shape", m.net.InputShape()),
		zap.Ints("output_shape", m.net.OutputShape()),
		zap.Int("parameters", m.net.NumParameters()))
	for _, l := range m.net.Layers() {
		m.logger.Debug("Layer",
			zap.String("name", l.Name),
			zap.String("type", fmt.Sprintf("%T", l.Layer)),
			zap.Ints("output_shape", l.OutputShape))
	}
}
