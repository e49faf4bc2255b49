package data

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/template/internal/component"
)

// DataModule supplies loaders for each stage of an experiment.
type DataModule interface {
	// TrainLoader returns nil when no train dataset is configured.
	TrainLoader() *Loader
	// ValLoader returns nil when no validation dataset is configured.
	ValLoader() *Loader
}

// ModuleConfig configures the generic data module component.
type ModuleConfig struct {
	TrainDataset component.Spec   `yaml:"TrainDataset,omitempty"`
	ValDataset   component.Spec   `yaml:"ValDataset,omitempty"`
	Transforms   []component.Spec `yaml:"Transforms,omitempty"`
	BatchSize    int              `yaml:"BatchSize"`
	Shuffle      bool             `yaml:"Shuffle"`
	Seed         int64            `yaml:"Seed"`
	NumWorkers   int              `yaml:"NumWorkers"`
	DropLast     bool             `yaml:"DropLast"`
}

// SetDefaults implements component.Defaulter.
func (c *ModuleConfig) SetDefaults() {
	c.BatchSize = 32
}

// Validate implements component.Validator.
func (c *ModuleConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be > 0, got %d", c.BatchSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("NumWorkers must be >= 0, got %d", c.NumWorkers)
	}
	return nil
}

// Module is the generic DataModule: registered datasets wrapped with the
// configured transforms and served by Loaders. Validation loaders never
// shuffle and never drop samples.
type Module struct {
	train *Loader
	val   *Loader
}

// NewModule builds the datasets and transforms of cfg through env.Registry.
func NewModule(cfg *ModuleConfig, env component.Env) (*Module, error) {
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	transforms := make([]Transform, 0, len(cfg.Transforms))
	for i, spec := range cfg.Transforms {
		t, err := component.BuildAs[Transform](env.Registry, spec, env.Options()...)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		transforms = append(transforms, t)
	}

	m := &Module{}
	var err error
	m.train, err = buildLoader(cfg.TrainDataset, transforms, LoaderConfig{
		BatchSize:  cfg.BatchSize,
		Shuffle:    cfg.Shuffle,
		Seed:       cfg.Seed,
		NumWorkers: cfg.NumWorkers,
		DropLast:   cfg.DropLast,
	}, env)
	if err != nil {
		return nil, fmt.Errorf("train dataset: %w", err)
	}
	m.val, err = buildLoader(cfg.ValDataset, transforms, LoaderConfig{
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
	}, env)
	if err != nil {
		return nil, fmt.Errorf("val dataset: %w", err)
	}

	for name, l := range map[string]*Loader{"train": m.train, "val": m.val} {
		if l == nil {
			continue
		}
		logger.Debug("Dataset ready",
			zap.String("split", name),
			zap.Int("samples", l.Dataset().Len()),
			zap.Ints("shape", l.Dataset().Shape()),
			zap.Int("batches", l.NumBatches()))
	}
	return m, nil
}

func buildLoader(spec component.Spec, transforms []Transform, cfg LoaderConfig, env component.Env) (*Loader, error) {
	if spec.IsZero() {
		return nil, nil
	}
	ds, err := component.BuildAs[Dataset](env.Registry, spec, env.Options()...)
	if err != nil {
		return nil, err
	}
	return NewLoader(WithTransforms(ds, transforms...), cfg, env.Backend)
}

// TrainLoader implements DataModule.
func (m *Module) TrainLoader() *Loader {
	return m.train
}

// ValLoader implements DataModule.
func (m *Module) ValLoader() *Loader {
	return m.val
}
