package nn

import (
	"fmt"

	"github.com/born-ml/template/internal/tensor"
)

// Sequential is a container that chains named modules in order.
//
// Example:
//
//	model := nn.NewSequential[Backend]()
//	model.Add("linear", nn.NewLinear(784, 10, backend))
//	output := model.Forward(input)
type Sequential[B tensor.Backend] struct {
	names   []string
	modules []Module[B]
}

// NewSequential creates an empty Sequential container.
func NewSequential[B tensor.Backend]() *Sequential[B] {
	return &Sequential[B]{}
}

// Forward passes the input through each module in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of every module in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module under name.
// Panics on an empty or duplicate name.
func (s *Sequential[B]) Add(name string, module Module[B]) {
	if name == "" {
		panic("Sequential.Add: empty module name")
	}
	for _, existing := range s.names {
		if existing == name {
			panic(fmt.Sprintf("Sequential.Add: duplicate module name %q", name))
		}
	}
	s.names = append(s.names, name)
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at index.
// Panics if index is out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// Name returns the name of the module at index.
func (s *Sequential[B]) Name(index int) string {
	return s.names[index]
}

// Names returns the module names in order.
func (s *Sequential[B]) Names() []string {
	return append([]string(nil), s.names...)
}

// StateDict returns a map of parameter names to raw tensors.
//
// Keys are prefixed with the module name (e.g., "conv_1.conv.weight",
// "linear.bias").
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, module := range s.modules {
		for name, raw := range module.StateDict() {
			stateDict[s.names[i]+"."+name] = raw
		}
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary keyed as StateDict
// produces. Every module with parameters must find its tensors.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, module := range s.modules {
		if len(module.StateDict()) == 0 {
			continue
		}
		if err := module.LoadStateDict(prefixed(stateDict, s.names[i])); err != nil {
			return fmt.Errorf("failed to load module %s: %w", s.names[i], err)
		}
	}
	return nil
}
