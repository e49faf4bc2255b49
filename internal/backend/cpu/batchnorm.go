package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/template/internal/parallel"
	"github.com/born-ml/template/internal/tensor"
)

// BatchNorm2D applies inference-mode batch normalization per channel:
//
//	y = gamma * (x - mean) / sqrt(variance + eps) + beta
//
// input is [N, C, H, W]; mean, variance, gamma and beta are [C].
func (cpu *CPUBackend) BatchNorm2D(input, mean, variance, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	requireFloat32("batchnorm2d", input, mean, variance, gamma, beta)

	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(shape)))
	}
	N, C := shape[0], shape[1]
	plane := shape[2] * shape[3]

	for name, p := range map[string]*tensor.RawTensor{"mean": mean, "variance": variance, "gamma": gamma, "beta": beta} {
		if p.NumElements() != C {
			panic(fmt.Sprintf("batchnorm2d: %s has %d elements, expected %d", name, p.NumElements(), C))
		}
	}

	scale := make([]float32, C)
	shift := make([]float32, C)
	mv, vv, gv, bv := mean.AsFloat32(), variance.AsFloat32(), gamma.AsFloat32(), beta.AsFloat32()
	for c := 0; c < C; c++ {
		scale[c] = gv[c] / float32(math.Sqrt(float64(vv[c]+eps)))
		shift[c] = bv[c] - mv[c]*scale[c]
	}

	output := cpu.alloc("batchnorm2d", shape)
	src, dst := input.AsFloat32(), output.AsFloat32()
	parallel.ForBatch(N, C, func(n, c int) {
		off := (n*C + c) * plane
		for i := off; i < off+plane; i++ {
			dst[i] = src[i]*scale[c] + shift[c]
		}
	}, cpu.parallel)

	return output
}
