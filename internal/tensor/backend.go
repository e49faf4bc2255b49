package tensor

// Backend defines the operations a compute backend must provide to run the
// template's networks and the ONNX runtime used for export validation.
//
// All operations work on float32 tensors in NCHW layout unless noted.
type Backend interface {
	// Add performs element-wise addition with broadcasting.
	Add(a, b *RawTensor) *RawTensor
	// MulScalar multiplies every element by s.
	MulScalar(x *RawTensor, s float32) *RawTensor

	// MatMul multiplies [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D convolves [N, C_in, H, W] with [C_out, C_in, K_h, K_w].
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	// MaxPool2D pools square windows of kernelSize with the given stride.
	MaxPool2D(input *RawTensor, kernelSize, stride int) *RawTensor
	// BatchNorm2D normalizes [N, C, H, W] per channel with running statistics.
	BatchNorm2D(input, mean, variance, gamma, beta *RawTensor, eps float32) *RawTensor

	// Activations (element-wise).
	ReLU(x *RawTensor) *RawTensor
	LeakyReLU(x *RawTensor, negativeSlope float32) *RawTensor
	ELU(x *RawTensor, alpha float32) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Metadata
	Name() string
	Device() Device
}
