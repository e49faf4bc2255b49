package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// ConvolutionConfig describes a Convolution2D block.
type ConvolutionConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	// BatchNorm inserts a BatchNorm2D after the convolution.
	BatchNorm bool
	// Activation is applied last; empty means no activation.
	Activation    ActivationType
	NegativeSlope float32
}

// Convolution2D is a conv → [batch norm] → [activation] block.
//
// State dict keys are "conv.weight", "conv.bias" and, with batch norm,
// "bn.weight", "bn.bias", "bn.running_mean", "bn.running_var".
type Convolution2D[B tensor.Backend] struct {
	cfg  ConvolutionConfig
	conv *Conv2D[B]
	bn   *BatchNorm2D[B]
	act  Module[B]
}

// NewConvolution2D builds the block. It returns ErrUnsupportedActivation for
// unknown activation kinds and panics on invalid geometry.
func NewConvolution2D[B tensor.Backend](cfg ConvolutionConfig, backend B) (*Convolution2D[B], error) {
	if cfg.Stride == 0 {
		cfg.Stride = 1
	}

	block := &Convolution2D[B]{
		cfg:  cfg,
		conv: NewConv2D(cfg.InChannels, cfg.OutChannels, cfg.KernelSize, cfg.KernelSize, cfg.Stride, cfg.Padding, true, backend),
	}
	if cfg.BatchNorm {
		block.bn = NewBatchNorm2D(cfg.OutChannels, backend)
	}
	if cfg.Activation != "" {
		act, err := NewActivation[B](cfg.Activation, cfg.NegativeSlope)
		if err != nil {
			return nil, err
		}
		block.act = act
	}
	return block, nil
}

// Forward applies the block.
func (c *Convolution2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out := c.conv.Forward(input)
	if c.bn != nil {
		out = c.bn.Forward(out)
	}
	if c.act != nil {
		out = c.act.Forward(out)
	}
	return out
}

// Parameters returns the conv and batch norm parameters.
func (c *Convolution2D[B]) Parameters() []*Parameter[B] {
	params := c.conv.Parameters()
	if c.bn != nil {
		params = append(params, c.bn.Parameters()...)
	}
	return params
}

// StateDict returns the block's tensors under "conv." and "bn." prefixes.
func (c *Convolution2D[B]) StateDict() map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor)
	for k, v := range c.conv.StateDict() {
		sd["conv."+k] = v
	}
	if c.bn != nil {
		for k, v := range c.bn.StateDict() {
			sd["bn."+k] = v
		}
	}
	return sd
}

// LoadStateDict loads the block's tensors.
func (c *Convolution2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := c.conv.LoadStateDict(prefixed(stateDict, "conv")); err != nil {
		return fmt.Errorf("conv: %w", err)
	}
	if c.bn != nil {
		if err := c.bn.LoadStateDict(prefixed(stateDict, "bn")); err != nil {
			return fmt.Errorf("bn: %w", err)
		}
	}
	return nil
}

// OutputShape maps an [H, W, C] input descriptor to the block's [H, W, C]
// output descriptor.
func (c *Convolution2D[B]) OutputShape(input tensor.Shape) tensor.Shape {
	if len(input) != 3 || input[2] != c.cfg.InChannels {
		panic(fmt.Sprintf("convolution2d: input shape %v does not match in_channels %d", input, c.cfg.InChannels))
	}
	hw := c.conv.ComputeOutputSize(input[0], input[1])
	return tensor.Shape{hw[0], hw[1], c.cfg.OutChannels}
}

// Config returns a copy of the block configuration.
func (c *Convolution2D[B]) Config() ConvolutionConfig {
	return c.cfg
}

// Conv returns the convolution layer.
func (c *Convolution2D[B]) Conv() *Conv2D[B] {
	return c.conv
}

// BatchNorm returns the batch norm layer, or nil.
func (c *Convolution2D[B]) BatchNorm() *BatchNorm2D[B] {
	return c.bn
}

// Activation returns the activation module, or nil.
func (c *Convolution2D[B]) Activation() Module[B] {
	return c.act
}
