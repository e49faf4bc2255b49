package cpu

import (
	"fmt"

	"github.com/born-ml/template/internal/parallel"
	"github.com/born-ml/template/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N)
// Rows of the result are computed concurrently.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a, b)

	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := cpu.alloc("matmul", tensor.Shape{m, n})
	c, av, bv := result.AsFloat32(), a.AsFloat32(), b.AsFloat32()

	// i-k-j loop order walks b and c row-major.
	parallel.For(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for kIdx := 0; kIdx < k; kIdx++ {
			aik := av[i*k+kIdx]
			if aik == 0 {
				continue
			}
			bRow := bv[kIdx*n : (kIdx+1)*n]
			for j, bkj := range bRow {
				row[j] += aik * bkj
			}
		}
	}, cpu.parallel)

	return result
}
