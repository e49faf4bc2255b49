package tensor

import (
	"fmt"
	"math"
)

// Add performs element-wise addition with broadcasting.
//
// Example:
//
//	a := tensor.Ones[float32](Shape{3, 1}, backend)
//	b := tensor.Ones[float32](Shape{3, 5}, backend)
//	c := a.Add(b) // Shape: [3, 5] (broadcasted)
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// MatMul performs 2D matrix multiplication: (M, K) @ (K, N) → (M, N).
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data but different shape.
// The new shape must have the same number of elements.
func (t *Tensor[T, B]) Reshape(newShape ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Reshape(t.raw, Shape(newShape)), t.backend)
}

// Transpose permutes the tensor's dimensions.
// With no axes all dimensions are reversed (standard 2D transpose).
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// MaxAbsDiff returns the largest absolute element-wise difference between two
// float32 tensors of identical shape.
func MaxAbsDiff(a, b *RawTensor) (float32, error) {
	if !a.Shape().Equal(b.Shape()) {
		return 0, fmt.Errorf("shape mismatch: %v vs %v", a.Shape(), b.Shape())
	}
	if a.DType() != Float32 || b.DType() != Float32 {
		return 0, fmt.Errorf("max abs diff requires float32 tensors, got %s and %s", a.DType(), b.DType())
	}

	var worst float64
	av, bv := a.AsFloat32(), b.AsFloat32()
	for i := range av {
		d := math.Abs(float64(av[i] - bv[i]))
		if math.IsNaN(d) {
			return float32(math.NaN()), nil
		}
		worst = max(worst, d)
	}
	return float32(worst), nil
}
