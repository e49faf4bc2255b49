package data

import (
	"fmt"

	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// Transform maps one sample to another.
type Transform interface {
	// Apply returns the transformed item. item must not be modified.
	Apply(item sample.Item) (sample.Item, error)
	// OutputShape returns the [H, W, C] shape produced for an input shape.
	OutputShape(input tensor.Shape) tensor.Shape
}

// Transformed applies transforms in order to every sample of a dataset.
type Transformed struct {
	base       Dataset
	transforms []Transform
	shape      tensor.Shape
}

// WithTransforms wraps ds. With no transforms ds is returned unchanged.
func WithTransforms(ds Dataset, transforms ...Transform) Dataset {
	if len(transforms) == 0 {
		return ds
	}
	shape := ds.Shape()
	for _, t := range transforms {
		shape = t.OutputShape(shape)
	}
	return &Transformed{base: ds, transforms: transforms, shape: shape}
}

// Len returns the length of the wrapped dataset.
func (d *Transformed) Len() int {
	return d.base.Len()
}

// Shape returns the shape after every transform.
func (d *Transformed) Shape() tensor.Shape {
	return d.shape.Clone()
}

// Get returns the transformed sample i.
func (d *Transformed) Get(i int) (sample.Item, error) {
	item, err := d.base.Get(i)
	if err != nil {
		return sample.Item{}, err
	}
	for j, t := range d.transforms {
		if item, err = t.Apply(item); err != nil {
			return sample.Item{}, fmt.Errorf("transform %d on sample %d: %w", j, i, err)
		}
	}
	return item, nil
}
