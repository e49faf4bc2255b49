package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// MaxPool2D implements 2D max pooling.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, (height-k)/s+1, (width-k)/s+1]
type MaxPool2D[B tensor.Backend] struct {
	stateless[B]
	kernelSize int
	stride     int
	backend    B
}

// NewMaxPool2D creates a new MaxPool2D layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}

	return &MaxPool2D[B]{
		kernelSize: kernelSize,
		stride:     stride,
		backend:    backend,
	}
}

// Forward performs max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}

	return tensor.New[float32, B](m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// String returns a human-readable description of the layer.
func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel_size=%d, stride=%d)", m.kernelSize, m.stride)
}

// KernelSize returns the pooling window size.
func (m *MaxPool2D[B]) KernelSize() int {
	return m.kernelSize
}

// Stride returns the stride.
func (m *MaxPool2D[B]) Stride() int {
	return m.stride
}

// ComputeOutputSize returns [out_h, out_w] for the given input size.
func (m *MaxPool2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	outH := (inputH-m.kernelSize)/m.stride + 1
	outW := (inputW-m.kernelSize)/m.stride + 1
	return [2]int{outH, outW}
}

// OutputShape maps an [H, W, C] descriptor to the pooled [H, W, C].
func (m *MaxPool2D[B]) OutputShape(input tensor.Shape) tensor.Shape {
	if len(input) != 3 {
		panic(fmt.Sprintf("maxpool2d: expected [H, W, C] shape, got %v", input))
	}
	if input[0] < m.kernelSize || input[1] < m.kernelSize {
		panic(fmt.Sprintf("maxpool2d: input %v is smaller than kernel %d", input, m.kernelSize))
	}
	hw := m.ComputeOutputSize(input[0], input[1])
	return tensor.Shape{hw[0], hw[1], input[2]}
}
