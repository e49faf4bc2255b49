// Package transforms holds the project's sample transforms.
package transforms

import (
	"fmt"

	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// ITU-R BT.601 luma weights.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// GrayscaleConfig configures ExampleGrayscale.
type GrayscaleConfig struct {
	// SplitChannels replicates the gray plane into every input channel so the
	// sample shape is unchanged. When false a single channel is produced.
	SplitChannels bool `yaml:"SplitChannels"`
}

// SetDefaults implements component.Defaulter.
func (c *GrayscaleConfig) SetDefaults() {
	c.SplitChannels = true
}

// Grayscale converts RGB samples to luminance. Single-channel samples pass
// through unchanged.
type Grayscale struct {
	splitChannels bool
}

// NewGrayscale returns the transform described by cfg.
func NewGrayscale(cfg *GrayscaleConfig) *Grayscale {
	return &Grayscale{splitChannels: cfg.SplitChannels}
}

// SplitChannels reports whether the output keeps the input channel count.
func (g *Grayscale) SplitChannels() bool {
	return g.splitChannels
}

// OutputShape maps an [H, W, C] shape to the transformed shape.
func (g *Grayscale) OutputShape(input tensor.Shape) tensor.Shape {
	out := input.Clone()
	if !g.splitChannels && len(out) == 3 {
		out[2] = 1
	}
	return out
}

// Apply converts one [C, H, W] item.
func (g *Grayscale) Apply(item sample.Item) (sample.Item, error) {
	if len(item.Shape) != 3 {
		return sample.Item{}, fmt.Errorf("grayscale: expected [C, H, W] item, got shape %v", item.Shape)
	}
	channels, plane := item.Shape[0], item.Shape[1]*item.Shape[2]
	switch channels {
	case 1:
		return item.Clone(), nil
	case 3:
	default:
		return sample.Item{}, fmt.Errorf("grayscale: expected 1 or 3 channels, got %d", channels)
	}

	r, gr, b := item.Image[:plane], item.Image[plane:2*plane], item.Image[2*plane:3*plane]
	gray := make([]float32, plane)
	for i := range gray {
		gray[i] = lumaR*r[i] + lumaG*gr[i] + lumaB*b[i]
	}

	out := sample.Item{Label: item.Label}
	if g.splitChannels {
		out.Shape = item.Shape.Clone()
		out.Image = make([]float32, 0, channels*plane)
		for c := 0; c < channels; c++ {
			out.Image = append(out.Image, gray...)
		}
	} else {
		out.Shape = tensor.Shape{1, item.Shape[1], item.Shape[2]}
		out.Image = gray
	}
	return out, nil
}
