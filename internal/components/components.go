// Package components registers every component a configuration file can
// name: the toolkit components and the project's own networks and transforms.
package components

import (
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/data"
	"github.com/born-ml/template/internal/exporters"
	"github.com/born-ml/template/internal/networks"
	"github.com/born-ml/template/internal/trainmodule"
	"github.com/born-ml/template/internal/transforms"
)

// Component type names not owned by a Type constant of their package.
const (
	DataModuleType       = "DataModule"
	CIFAR10Type          = "CIFAR10"
	FashionMNISTType     = "FashionMNIST"
	ExampleGrayscaleType = "ExampleGrayscale"
)

// Register adds all components to r.
func Register(r *component.Registry) error {
	factories := map[string]component.Factory{
		// Toolkit.
		DataModuleType: component.Typed(data.NewModule),
		CIFAR10Type: component.Typed(func(cfg *data.CIFAR10Config, _ component.Env) (*data.CIFAR10, error) {
			return data.NewCIFAR10(cfg)
		}),
		FashionMNISTType: component.Typed(func(cfg *data.FashionMNISTConfig, _ component.Env) (*data.FashionMNIST, error) {
			return data.NewFashionMNIST(cfg)
		}),
		trainmodule.Type:                  component.Typed(trainmodule.New),
		exporters.BornExporterType:        component.Typed(exporters.NewBornExporter),
		exporters.ONNXExporterType:        component.Typed(exporters.NewONNXExporter),
		exporters.SafeTensorsExporterType: component.Typed(exporters.NewSafeTensorsExporter),

		// Project.
		networks.SimpleCNNType: component.Typed(func(cfg *networks.SimpleCNNConfig, env component.Env) (*networks.Network, error) {
			return networks.NewSimpleCNN(cfg, env.InputShape, env.Backend)
		}),
		networks.ExtendedSimpleCNNType: component.Typed(func(cfg *networks.ExtendedSimpleCNNConfig, env component.Env) (*networks.Network, error) {
			return networks.NewExtendedSimpleCNN(cfg, env.InputShape, env.Backend)
		}),
		ExampleGrayscaleType: component.Typed(func(cfg *transforms.GrayscaleConfig, _ component.Env) (*transforms.Grayscale, error) {
			return transforms.NewGrayscale(cfg), nil
		}),
	}
	for name, f := range factories {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding all components.
func NewRegistry() (*component.Registry, error) {
	r := component.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
