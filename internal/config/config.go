// Package config loads experiment configuration files and resolves the
// experiment folder layout.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/template/internal/component"
)

// Folder and file naming conventions under the project root.
const (
	ExperimentsFolder  = "experiments"
	CheckpointsFolder  = "checkpoints"
	ExportsFolder      = "exports"
	ExportConfigSuffix = "_export"
	TrainConfigSuffix  = "_train"
	RunFolderPrefix    = "run_"
	ConfigExtension    = ".yaml"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ExportConfig drives the export command.
type ExportConfig struct {
	// Name is the experiment name. Defaults to the experiment folder name.
	Name string `yaml:"Name"`

	// ExperimentFolder is the run folder holding checkpoints/ and exports/.
	// It is resolved from the command line, never read from the file.
	ExperimentFolder string `yaml:"-"`

	// DataModule supplies the sample batches used for tracing and validation.
	DataModule component.Spec `yaml:"DataModule"`

	// Exporters are built in order and each produces one artifact.
	Exporters []component.Spec `yaml:"Exporters"`
}

// Validate checks required fields.
func (c *ExportConfig) Validate() error {
	if c.DataModule.IsZero() {
		return fmt.Errorf("%w: DataModule.type is required", ErrInvalidConfig)
	}
	for i, e := range c.Exporters {
		if e.IsZero() {
			return fmt.Errorf("%w: Exporters[%d].type is required", ErrInvalidConfig, i)
		}
	}
	return nil
}

// TrainConfig is the training-time configuration. It is persisted inside
// every checkpoint so export can rebuild the exact architecture.
type TrainConfig struct {
	Name        string         `yaml:"Name"`
	TrainModule component.Spec `yaml:"TrainModule"`
	DataModule  component.Spec `yaml:"DataModule,omitempty"`
	Seed        int64          `yaml:"Seed,omitempty"`
}

// Validate checks required fields.
func (c *TrainConfig) Validate() error {
	if c.TrainModule.IsZero() {
		return fmt.Errorf("%w: TrainModule.type is required", ErrInvalidConfig)
	}
	return nil
}

// MarshalTrain encodes a train configuration as YAML.
func MarshalTrain(cfg *TrainConfig) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal train config: %w", err)
	}
	return out, nil
}

// ParseTrain decodes and validates a YAML train configuration.
func ParseTrain(data []byte) (*TrainConfig, error) {
	var cfg TrainConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse train config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseExport decodes and validates a YAML export configuration.
func ParseExport(data []byte) (*ExportConfig, error) {
	var cfg ExportConfig
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse export config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Paths resolves the on-disk layout of one experiment run:
//
//	<root>/experiments/<experiment>/<experiment>_export.yaml
//	<root>/experiments/<experiment>/run_<run>/checkpoints/
//	<root>/experiments/<experiment>/run_<run>/exports/
type Paths struct {
	Root       string
	Experiment string
	Run        string
}

// ExperimentDir is the folder holding the experiment's configuration files.
func (p Paths) ExperimentDir() string {
	return filepath.Join(p.Root, ExperimentsFolder, p.Experiment)
}

// ConfigFile returns the configuration file path for suffix.
func (p Paths) ConfigFile(suffix string) string {
	return filepath.Join(p.ExperimentDir(), p.Experiment+suffix+ConfigExtension)
}

// RunFolder is the experiment folder for this run.
func (p Paths) RunFolder() string {
	return filepath.Join(p.ExperimentDir(), RunFolderPrefix+p.Run)
}

// CheckpointsDir returns the checkpoint folder inside an experiment folder.
func CheckpointsDir(experimentFolder string) string {
	return filepath.Join(experimentFolder, CheckpointsFolder)
}

// ExportsDir returns the exports folder inside an experiment folder.
func ExportsDir(experimentFolder string) string {
	return filepath.Join(experimentFolder, ExportsFolder)
}

// LoadExport reads the export configuration of an experiment and resolves its
// run folder.
func LoadExport(p Paths) (*ExportConfig, error) {
	if p.Experiment == "" || p.Run == "" {
		return nil, fmt.Errorf("%w: experiment and run are required", ErrInvalidConfig)
	}

	path := p.ConfigFile(ExportConfigSuffix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export config: %w", err)
	}

	cfg, err := ParseExport(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = p.Experiment
	}
	cfg.ExperimentFolder = p.RunFolder()
	return cfg, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}
