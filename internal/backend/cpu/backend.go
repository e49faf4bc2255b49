// Package cpu implements the float32 CPU backend used for inference and export validation.
package cpu

import (
	"fmt"

	"github.com/born-ml/template/internal/parallel"
	"github.com/born-ml/template/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.DefaultConfig(),
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("add", a, b)

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("add: %v", err))
	}

	result := cpu.alloc("add", outShape)
	dst := result.AsFloat32()
	av, bv := a.AsFloat32(), b.AsFloat32()

	if !needsBroadcast {
		for i := range dst {
			dst[i] = av[i] + bv[i]
		}
		return result
	}

	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	outStrides := outShape.ComputeStrides()
	for i := range dst {
		aIdx, bIdx := 0, 0
		rem := i
		for d, s := range outStrides {
			coord := rem / s
			rem %= s
			aIdx += coord * aStrides[d]
			bIdx += coord * bStrides[d]
		}
		dst[i] = av[aIdx] + bv[bIdx]
	}
	return result
}

// MulScalar multiplies every element by s.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return cpu.mapFloat32("mulscalar", x, func(v float32) float32 { return v * s })
}

// Reshape returns a tensor with the same data but different shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}

	view, err := t.Clone().WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose transposes the tensor by permuting its dimensions.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	// Default: reverse all dimensions
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result, err := tensor.NewRaw(newShape, t.DType(), t.Device())
	if err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	// Byte-level copy keeps transpose dtype agnostic.
	elem := t.DType().Size()
	src, dst := t.Data(), result.Data()
	srcStrides := t.Strides()
	dstStrides := result.Strides()
	for i := 0; i < result.NumElements(); i++ {
		rem := i
		srcIdx := 0
		for d, s := range dstStrides {
			coord := rem / s
			rem %= s
			srcIdx += coord * srcStrides[axes[d]]
		}
		copy(dst[i*elem:(i+1)*elem], src[srcIdx*elem:(srcIdx+1)*elem])
	}

	return result
}

// broadcastStrides maps each output dimension to the stride of the source,
// with zero stride for broadcast dimensions.
func broadcastStrides(src, out tensor.Shape) []int {
	strides := make([]int, len(out))
	srcStrides := src.ComputeStrides()
	offset := len(out) - len(src)
	for i := range out {
		j := i - offset
		if j < 0 || src[j] == 1 {
			continue
		}
		strides[i] = srcStrides[j]
	}
	return strides
}

func (cpu *CPUBackend) alloc(op string, shape tensor.Shape) *tensor.RawTensor {
	result, err := tensor.NewRaw(shape, tensor.Float32, cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", op, err))
	}
	return result
}

func (cpu *CPUBackend) mapFloat32(op string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	requireFloat32(op, x)
	result := cpu.alloc(op, x.Shape())
	dst := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		dst[i] = f(v)
	}
	return result
}

func requireFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s", op, t.DType()))
		}
	}
}
