package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// ActivationType names an activation function in configuration files.
type ActivationType string

// Supported activation kinds. The set is closed: any other value is rejected
// by NewActivation.
const (
	ActivationReLU      ActivationType = "ReLU"
	ActivationLeakyReLU ActivationType = "LeakyReLU"
	ActivationELU       ActivationType = "ELU"
	ActivationSigmoid   ActivationType = "Sigmoid"
	ActivationTanh      ActivationType = "Tanh"
)

// DefaultNegativeSlope is the LeakyReLU slope used when none is configured.
const DefaultNegativeSlope = 0.01

// ErrUnsupportedActivation is returned for activation names outside the
// supported set.
var ErrUnsupportedActivation = errors.New("unsupported activation")

// ActivationTypes lists the supported activation kinds.
func ActivationTypes() []ActivationType {
	return []ActivationType{ActivationReLU, ActivationLeakyReLU, ActivationELU, ActivationSigmoid, ActivationTanh}
}

// Valid reports whether a is one of the supported activation kinds.
func (a ActivationType) Valid() bool {
	for _, known := range ActivationTypes() {
		if a == known {
			return true
		}
	}
	return false
}

// NewActivation builds the activation module for kind. negativeSlope is only
// used by LeakyReLU.
func NewActivation[B tensor.Backend](kind ActivationType, negativeSlope float32) (Module[B], error) {
	switch kind {
	case ActivationReLU:
		return NewReLU[B](), nil
	case ActivationLeakyReLU:
		return NewLeakyReLU[B](negativeSlope), nil
	case ActivationELU:
		return NewELU[B](1.0), nil
	case ActivationSigmoid:
		return NewSigmoid[B](), nil
	case ActivationTanh:
		return NewTanh[B](), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedActivation, kind, ActivationTypes())
	}
}

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
type ReLU[B tensor.Backend] struct{ stateless[B] }

// NewReLU creates a new ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.ReLU(input.Raw()), backend)
}

// LeakyReLU applies f(x) = x for x > 0, negativeSlope*x otherwise.
type LeakyReLU[B tensor.Backend] struct {
	stateless[B]
	negativeSlope float32
}

// NewLeakyReLU creates a new LeakyReLU activation module.
func NewLeakyReLU[B tensor.Backend](negativeSlope float32) *LeakyReLU[B] {
	return &LeakyReLU[B]{negativeSlope: negativeSlope}
}

// Forward applies LeakyReLU activation.
func (l *LeakyReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.LeakyReLU(input.Raw(), l.negativeSlope), backend)
}

// NegativeSlope returns the slope applied to negative inputs.
func (l *LeakyReLU[B]) NegativeSlope() float32 {
	return l.negativeSlope
}

// ELU applies f(x) = x for x > 0, alpha*(exp(x)-1) otherwise.
type ELU[B tensor.Backend] struct {
	stateless[B]
	alpha float32
}

// NewELU creates a new ELU activation module.
func NewELU[B tensor.Backend](alpha float32) *ELU[B] {
	return &ELU[B]{alpha: alpha}
}

// Forward applies ELU activation.
func (e *ELU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.ELU(input.Raw(), e.alpha), backend)
}

// Alpha returns the saturation value for negative inputs.
func (e *ELU[B]) Alpha() float32 {
	return e.alpha
}

// Sigmoid applies f(x) = 1 / (1 + exp(-x)).
type Sigmoid[B tensor.Backend] struct{ stateless[B] }

// NewSigmoid creates a new Sigmoid activation module.
func NewSigmoid[B tensor.Backend]() *Sigmoid[B] {
	return &Sigmoid[B]{}
}

// Forward applies Sigmoid activation.
func (s *Sigmoid[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.Sigmoid(input.Raw()), backend)
}

// Tanh applies the hyperbolic tangent.
type Tanh[B tensor.Backend] struct{ stateless[B] }

// NewTanh creates a new Tanh activation module.
func NewTanh[B tensor.Backend]() *Tanh[B] {
	return &Tanh[B]{}
}

// Forward applies Tanh activation.
func (t *Tanh[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.Tanh(input.Raw()), backend)
}
