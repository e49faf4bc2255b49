package cpu

import (
	"math"

	"github.com/born-ml/template/internal/tensor"
)

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mapFloat32("relu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// LeakyReLU computes x for x > 0 and negativeSlope*x otherwise.
func (cpu *CPUBackend) LeakyReLU(x *tensor.RawTensor, negativeSlope float32) *tensor.RawTensor {
	return cpu.mapFloat32("leakyrelu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return negativeSlope * v
	})
}

// ELU computes x for x > 0 and alpha*(exp(x)-1) otherwise.
func (cpu *CPUBackend) ELU(x *tensor.RawTensor, alpha float32) *tensor.RawTensor {
	return cpu.mapFloat32("elu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return alpha * float32(math.Expm1(float64(v)))
	})
}

// Sigmoid computes 1 / (1 + exp(-x)) element-wise.
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mapFloat32("sigmoid", x, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

// Tanh computes the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.mapFloat32("tanh", x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}
