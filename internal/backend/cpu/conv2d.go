package cpu

import (
	"fmt"

	"github.com/born-ml/template/internal/parallel"
	"github.com/born-ml/template/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Each batch element is unfolded into a [C_in*K_h*K_w, H_out*W_out] column
// matrix once, then every output channel is a dot product over it. Output
// channels are computed concurrently via parallel.ForBatch.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel)

	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d or padding %d", stride, padding))
	}

	N, CIn, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	COut, CInK, KH, KW := kernelShape[0], kernelShape[1], kernelShape[2], kernelShape[3]

	if CIn != CInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", CIn, CInK))
	}

	HOut := (H+2*padding-KH)/stride + 1
	WOut := (W+2*padding-KW)/stride + 1
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut))
	}

	output := cpu.alloc("conv2d", tensor.Shape{N, COut, HOut, WOut})

	inputData := input.AsFloat32()
	kernelData := kernel.AsFloat32()
	outputData := output.AsFloat32()

	colWidth := CIn * KH * KW
	plane := HOut * WOut

	cols := make([][]float32, N)
	parallel.For(N, func(n int) {
		cols[n] = im2col(inputData[n*CIn*H*W:(n+1)*CIn*H*W], CIn, H, W, KH, KW, HOut, WOut, stride, padding)
	}, cpu.parallel)

	parallel.ForBatch(N, COut, func(n, c int) {
		col := cols[n]
		weights := kernelData[c*colWidth : (c+1)*colWidth]
		out := outputData[(n*COut+c)*plane : (n*COut+c+1)*plane]
		for k, w := range weights {
			if w == 0 {
				continue
			}
			row := col[k*plane : (k+1)*plane]
			for p, v := range row {
				out[p] += w * v
			}
		}
	}, cpu.parallel)

	return output
}

// im2col unfolds one [C, H, W] image into a row-major
// [C*K_h*K_w, H_out*W_out] matrix. Out-of-bounds taps read as zero padding.
func im2col(img []float32, C, H, W, KH, KW, HOut, WOut, stride, padding int) []float32 {
	plane := HOut * WOut
	col := make([]float32, C*KH*KW*plane)

	row := 0
	for c := 0; c < C; c++ {
		for kh := 0; kh < KH; kh++ {
			for kw := 0; kw < KW; kw++ {
				dst := col[row*plane : (row+1)*plane]
				for outH := 0; outH < HOut; outH++ {
					h := outH*stride - padding + kh
					if h < 0 || h >= H {
						continue
					}
					for outW := 0; outW < WOut; outW++ {
						w := outW*stride - padding + kw
						if w >= 0 && w < W {
							dst[outH*WOut+outW] = img[(c*H+h)*W+w]
						}
					}
				}
				row++
			}
		}
	}
	return col
}
