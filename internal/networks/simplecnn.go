package networks

import (
	"fmt"

	"github.com/born-ml/template/internal/nn"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// Component type names.
const (
	SimpleCNNType         = "SimpleCNN"
	ExtendedSimpleCNNType = "ExtendedSimpleCNN"
)

// SimpleCNNConfig configures SimpleCNN.
type SimpleCNNConfig struct {
	NumOutputs *int `yaml:"NumOutputs"`
}

// Validate implements component.Validator.
func (c *SimpleCNNConfig) Validate() error {
	return validateNumOutputs(c.NumOutputs)
}

// ExtendedSimpleCNNConfig configures ExtendedSimpleCNN.
type ExtendedSimpleCNNConfig struct {
	NumOutputs *int `yaml:"NumOutputs"`
	// Activation follows every convolution.
	Activation nn.ActivationType `yaml:"Activation"`
	// ActivationNegativeSlope is used by LeakyReLU only.
	ActivationNegativeSlope float32 `yaml:"ActivationNegativeSlope"`
	// BatchNorm inserts batch normalization between each convolution and its activation.
	BatchNorm bool `yaml:"BatchNorm"`
}

// SetDefaults implements component.Defaulter.
func (c *ExtendedSimpleCNNConfig) SetDefaults() {
	c.Activation = nn.ActivationReLU
	c.ActivationNegativeSlope = nn.DefaultNegativeSlope
}

// Validate implements component.Validator.
func (c *ExtendedSimpleCNNConfig) Validate() error {
	if err := validateNumOutputs(c.NumOutputs); err != nil {
		return err
	}
	if !c.Activation.Valid() {
		return fmt.Errorf("%w: %q (supported: %v)", nn.ErrUnsupportedActivation, c.Activation, nn.ActivationTypes())
	}
	return nil
}

func validateNumOutputs(n *int) error {
	if n == nil {
		return fmt.Errorf("%w: NumOutputs is not set", ErrInvalidNumOutputs)
	}
	if *n <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidNumOutputs, *n)
	}
	return nil
}

// simpleCNNMinSide is the smallest height and width that two 2x2 poolings
// reduce to at least one pixel.
const simpleCNNMinSide = 4

// NewSimpleCNN builds
//
//	conv_1 -> conv_2 -> pool_1 -> conv_3 -> pool_2 -> conv_4 -> flatten -> linear
//
// with 3x3 ReLU convolutions (8, 8, 8, 16 filters) and 2x2 max pooling.
func NewSimpleCNN(cfg *SimpleCNNConfig, inputShape tensor.Shape, backend sample.Backend) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateInputShape(inputShape, simpleCNNMinSide); err != nil {
		return nil, err
	}

	net := NewNetwork(SimpleCNNType, inputShape, cfg)
	err := build(net, *cfg.NumOutputs, func(in, out int) nn.ConvolutionConfig {
		return nn.ConvolutionConfig{
			InChannels:  in,
			OutChannels: out,
			KernelSize:  3,
			Stride:      1,
			Padding:     1,
			Activation:  nn.ActivationReLU,
		}
	}, backend)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// NewExtendedSimpleCNN builds the SimpleCNN architecture with a configurable
// activation and optional batch normalization.
func NewExtendedSimpleCNN(cfg *ExtendedSimpleCNNConfig, inputShape tensor.Shape, backend sample.Backend) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateInputShape(inputShape, simpleCNNMinSide); err != nil {
		return nil, err
	}

	net := NewNetwork(ExtendedSimpleCNNType, inputShape, cfg)
	err := build(net, *cfg.NumOutputs, func(in, out int) nn.ConvolutionConfig {
		return nn.ConvolutionConfig{
			InChannels:    in,
			OutChannels:   out,
			KernelSize:    3,
			Stride:        1,
			Padding:       1,
			BatchNorm:     cfg.BatchNorm,
			Activation:    cfg.Activation,
			NegativeSlope: cfg.ActivationNegativeSlope,
		}
	}, backend)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// build adds the shared SimpleCNN topology to net.
func build(net *Network, numOutputs int, conv func(in, out int) nn.ConvolutionConfig, backend sample.Backend) error {
	addConv := func(name string, out int) error {
		block, err := nn.NewConvolution2D(conv(net.OutputShape()[2], out), backend)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		net.AddLayer(name, block)
		return nil
	}
	addPool := func(name string) {
		net.AddLayer(name, nn.NewMaxPool2D(2, 2, backend))
	}

	if err := addConv("conv_1", 8); err != nil {
		return err
	}
	if err := addConv("conv_2", 8); err != nil {
		return err
	}
	addPool("pool_1")
	if err := addConv("conv_3", 8); err != nil {
		return err
	}
	addPool("pool_2")
	if err := addConv("conv_4", 16); err != nil {
		return err
	}
	flat := net.AddLayer("flatten", nn.NewFlatten[sample.Backend]())
	net.AddLayer("linear", nn.NewLinear(flat[0], numOutputs, backend))
	return nil
}
