package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// DefaultBatchNormEps is the variance epsilon used by NewBatchNorm2D.
const DefaultBatchNormEps = 1e-5

// BatchNorm2D normalizes [N, C, H, W] inputs per channel using running
// statistics (inference mode):
//
//	y = weight * (x - running_mean) / sqrt(running_var + eps) + bias
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32

	weight      *Parameter[B] // gamma, [C]
	bias        *Parameter[B] // beta, [C]
	runningMean *tensor.Tensor[float32, B]
	runningVar  *tensor.Tensor[float32, B]

	backend B
}

// NewBatchNorm2D creates a BatchNorm2D layer with gamma=1, beta=0, running
// mean 0 and running variance 1.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid num_features %d", numFeatures))
	}
	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         DefaultBatchNormEps,
		weight:      NewParameter("weight", Ones(shape, backend)),
		bias:        NewParameter("bias", Zeros(shape, backend)),
		runningMean: Zeros(shape, backend),
		runningVar:  Ones(shape, backend),
		backend:     backend,
	}
}

// Forward normalizes the input.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: expected [N,%d,H,W] input, got %v", bn.numFeatures, shape))
	}
	out := bn.backend.BatchNorm2D(input.Raw(),
		bn.runningMean.Raw(), bn.runningVar.Raw(),
		bn.weight.Tensor().Raw(), bn.bias.Tensor().Raw(), bn.eps)
	return tensor.New[float32, B](out, bn.backend)
}

// Parameters returns [weight, bias].
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns weight, bias and the running statistics.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":       bn.weight.Tensor().Raw(),
		"bias":         bn.bias.Tensor().Raw(),
		"running_mean": bn.runningMean.Raw(),
		"running_var":  bn.runningVar.Raw(),
	}
}

// LoadStateDict loads weight, bias and running statistics.
func (bn *BatchNorm2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for key, dst := range map[string]*tensor.Tensor[float32, B]{
		"weight":       bn.weight.Tensor(),
		"bias":         bn.bias.Tensor(),
		"running_mean": bn.runningMean,
		"running_var":  bn.runningVar,
	} {
		if err := loadInto(stateDict, key, dst); err != nil {
			return err
		}
	}
	return nil
}

// NumFeatures returns the number of normalized channels.
func (bn *BatchNorm2D[B]) NumFeatures() int {
	return bn.numFeatures
}

// Eps returns the variance epsilon.
func (bn *BatchNorm2D[B]) Eps() float32 {
	return bn.eps
}

// String returns a human-readable description of the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(num_features=%d, eps=%g)", bn.numFeatures, bn.eps)
}
