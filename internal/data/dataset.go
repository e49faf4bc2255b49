// Package data provides datasets, sample transforms, batch loaders and the
// data module that ties them together.
package data

import (
	"errors"
	"fmt"

	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// Dataset splits.
const (
	SplitTrain = "train"
	SplitTest  = "test"
)

// ErrIndexOutOfRange is returned by Dataset.Get for an invalid index.
var ErrIndexOutOfRange = errors.New("dataset index out of range")

// Dataset is a random-access collection of samples.
type Dataset interface {
	// Len returns the number of samples.
	Len() int
	// Get returns sample i. Implementations must be safe for concurrent use.
	Get(i int) (sample.Item, error)
	// Shape returns the [H, W, C] shape of every sample.
	Shape() tensor.Shape
}

// memoryDataset holds decoded images as bytes, channel-first, one per sample.
type memoryDataset struct {
	images [][]byte
	labels []byte
	shape  tensor.Shape // [H, W, C]
}

func (d *memoryDataset) Len() int {
	return len(d.images)
}

func (d *memoryDataset) Shape() tensor.Shape {
	return d.shape.Clone()
}

// Get scales pixels to [0, 1].
func (d *memoryDataset) Get(i int) (sample.Item, error) {
	if i < 0 || i >= len(d.images) {
		return sample.Item{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(d.images))
	}
	pixels := d.images[i]
	image := make([]float32, len(pixels))
	for j, p := range pixels {
		image[j] = float32(p) / 255
	}
	return sample.Item{
		Image: image,
		Shape: d.shape.HWCToCHW(),
		Label: int64(d.labels[i]),
	}, nil
}

func (d *memoryDataset) limit(maxSamples int) {
	if maxSamples > 0 && len(d.images) > maxSamples {
		d.images = d.images[:maxSamples]
		d.labels = d.labels[:maxSamples]
	}
}

func validateSplit(split string) error {
	if split != SplitTrain && split != SplitTest {
		return fmt.Errorf("Split must be %q or %q, got %q", SplitTrain, SplitTest, split)
	}
	return nil
}
