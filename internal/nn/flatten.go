package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// Flatten reshapes [N, d1, d2, ...] to [N, d1*d2*...], keeping the batch
// dimension.
type Flatten[B tensor.Backend] struct{ stateless[B] }

// NewFlatten creates a new Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward flattens all non-batch dimensions.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got %v", shape))
	}
	return input.Reshape(shape[0], input.NumElements()/shape[0])
}

// OutputShape collapses any descriptor into [N].
func (f *Flatten[B]) OutputShape(input tensor.Shape) tensor.Shape {
	return tensor.Shape{input.NumElements()}
}
