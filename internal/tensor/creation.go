package tensor

import (
	"math"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros[float32](Shape{3, 4}, backend)
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), b.Device())
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return New[T, B](raw, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, T(1), b)
}

// Full creates a tensor filled with a specific value.
//
// Example:
//
//	t := tensor.Full[float32](Shape{3, 3}, 3.14, backend)
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Randn creates a float32 tensor with values from N(0, 1) drawn from rng.
// Uses the Box-Muller transform. A nil rng uses the global math/rand source.
func Randn[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	uniform := rand.Float64 //nolint:gosec // G404: ML uses math/rand intentionally
	if rng != nil {
		uniform = rng.Float64
	}

	for i := 0; i < len(data); i += 2 {
		u1 := 1 - uniform() // (0, 1] keeps Log finite
		u2 := uniform()
		r := math.Sqrt(-2.0 * math.Log(u1))
		data[i] = float32(r * math.Cos(2.0*math.Pi*u2))
		if i+1 < len(data) {
			data[i+1] = float32(r * math.Sin(2.0*math.Pi*u2))
		}
	}
	return t
}

// Uniform creates a float32 tensor with values drawn from U(low, high).
// A nil rng uses the global math/rand source.
func Uniform[B Backend](shape Shape, low, high float64, rng *rand.Rand, b B) *Tensor[float32, B] {
	t := Zeros[float32, B](shape, b)
	data := t.Data()
	uniform := rand.Float64 //nolint:gosec // G404: ML uses math/rand intentionally
	if rng != nil {
		uniform = rng.Float64
	}
	for i := range data {
		data[i] = float32(low + uniform()*(high-low))
	}
	return t
}
