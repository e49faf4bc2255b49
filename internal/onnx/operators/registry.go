package operators

import (
	"fmt"
	"sort"

	"github.com/born-ml/template/internal/tensor"
)

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context provides the backend used by operators.
type Context struct {
	Backend tensor.Backend
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with every supported operator.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerActivations()
	r.registerNNOps()
	r.registerShapeOps()

	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs. Backend panics caused by
// malformed models are reported as errors.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) (outputs []*tensor.RawTensor, err error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("unsupported operator: %s", node.OpType)
	}
	defer func() {
		if p := recover(); p != nil {
			outputs, err = nil, fmt.Errorf("%s: %v", node.OpType, p)
		}
	}()
	return handler(ctx, node, inputs)
}

// SupportedOps returns the supported operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func requireInputs(op string, inputs []*tensor.RawTensor, minCount, maxCount int) error {
	if len(inputs) < minCount || len(inputs) > maxCount {
		if minCount == maxCount {
			return fmt.Errorf("%s requires %d inputs, got %d", op, minCount, len(inputs))
		}
		return fmt.Errorf("%s requires %d to %d inputs, got %d", op, minCount, maxCount, len(inputs))
	}
	for i := 0; i < minCount; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is required", op, i)
		}
	}
	return nil
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}
