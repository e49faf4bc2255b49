// Package component resolves declarative component specs to constructed
// components through an explicit registry.
//
// A Spec names a registered component type and carries its parameters as an
// undecoded YAML node. Each factory decodes the parameters into its own typed
// configuration, so configuration files can nest components (a data module
// holding dataset specs, a train module holding a network spec) without the
// registry knowing their shape.
package component

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// Registry errors.
var (
	ErrUnknownComponent   = errors.New("unknown component type")
	ErrDuplicateComponent = errors.New("component type already registered")
	ErrComponentType      = errors.New("component has unexpected type")
)

// Spec is the declarative description of one component.
type Spec struct {
	Type   string    `yaml:"type"`
	Params yaml.Node `yaml:"params,omitempty"`
}

// NewSpec builds a Spec from a typed parameter value.
func NewSpec(typeName string, params any) (Spec, error) {
	spec := Spec{Type: typeName}
	if params == nil {
		return spec, nil
	}
	if err := spec.Params.Encode(params); err != nil {
		return Spec{}, fmt.Errorf("encode %s params: %w", typeName, err)
	}
	return spec, nil
}

// MustSpec is like NewSpec but panics on error. Intended for tests and
// static tables.
func MustSpec(typeName string, params any) Spec {
	spec, err := NewSpec(typeName, params)
	if err != nil {
		panic(err)
	}
	return spec
}

// IsZero reports whether the spec names no component.
func (s Spec) IsZero() bool {
	return s.Type == ""
}

// Decode decodes the spec parameters into v. Unknown fields are rejected.
// An absent params block leaves v untouched.
func (s Spec) Decode(v any) error {
	if s.Params.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(&s.Params)
	if err != nil {
		return fmt.Errorf("%s params: %w", s.Type, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%s params: %w", s.Type, err)
	}
	return nil
}

// Env is the build environment handed to factories. It replaces keyword
// arguments such as the experiment name and folder.
type Env struct {
	Registry         *Registry
	ExperimentName   string
	ExperimentFolder string
	Logger           *zap.Logger
	Backend          sample.Backend
	// InputShape is the [H, W, C] data shape for network components.
	InputShape tensor.Shape
}

// BuildOption configures an Env.
type BuildOption func(*Env)

// WithExperiment sets the experiment name and folder.
func WithExperiment(name, folder string) BuildOption {
	return func(e *Env) {
		e.ExperimentName = name
		e.ExperimentFolder = folder
	}
}

// WithLogger sets the logger passed to components.
func WithLogger(l *zap.Logger) BuildOption {
	return func(e *Env) { e.Logger = l }
}

// WithInputShape sets the [H, W, C] input shape for network components.
func WithInputShape(shape tensor.Shape) BuildOption {
	return func(e *Env) { e.InputShape = shape.Clone() }
}

// WithBackend sets the compute backend.
func WithBackend(b sample.Backend) BuildOption {
	return func(e *Env) { e.Backend = b }
}

// Options returns build options reproducing e, for building nested
// components with the same environment.
func (e Env) Options() []BuildOption {
	return []BuildOption{
		WithExperiment(e.ExperimentName, e.ExperimentFolder),
		WithLogger(e.Logger),
		WithBackend(e.Backend),
		WithInputShape(e.InputShape),
	}
}

// Factory constructs a component from its spec.
type Factory func(spec Spec, env Env) (any, error)

// Registry maps component type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under typeName.
func (r *Registry) Register(typeName string, f Factory) error {
	if typeName == "" || f == nil {
		return fmt.Errorf("register: empty type name or nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typeName]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, typeName)
	}
	r.factories[typeName] = f
	return nil
}

// Build constructs the component described by spec.
func (r *Registry) Build(spec Spec, opts ...BuildOption) (any, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownComponent, spec.Type, r.Types())
	}

	env := Env{Registry: r}
	for _, opt := range opts {
		opt(&env)
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Backend == nil {
		env.Backend = cpu.New()
	}

	c, err := f(spec, env)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", spec.Type, err)
	}
	return c, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}

// BuildAs builds spec and asserts the result to T.
func BuildAs[T any](r *Registry, spec Spec, opts ...BuildOption) (T, error) {
	var zero T
	c, err := r.Build(spec, opts...)
	if err != nil {
		return zero, err
	}
	typed, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s built %T, want %T", ErrComponentType, spec.Type, c, zero)
	}
	return typed, nil
}

// Defaulter is implemented by configs with non-zero defaults. SetDefaults
// runs before decoding, so explicit parameters override it.
type Defaulter interface {
	SetDefaults()
}

// Validator is implemented by configs that check themselves after defaults
// are applied.
type Validator interface {
	Validate() error
}

// Typed adapts a constructor taking a typed config into a Factory. The spec
// parameters are decoded over a fresh C prepared by SetDefaults, then
// Validate runs when C implements it.
func Typed[C any, T any](build func(cfg *C, env Env) (T, error)) Factory {
	return func(spec Spec, env Env) (any, error) {
		cfg := new(C)
		if d, ok := any(cfg).(Defaulter); ok {
			d.SetDefaults()
		}
		if err := spec.Decode(cfg); err != nil {
			return nil, err
		}
		if v, ok := any(cfg).(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, fmt.Errorf("invalid %s config: %w", spec.Type, err)
			}
		}
		c, err := build(cfg, env)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
