package component

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/template/internal/tensor"
)

type widgetConfig struct {
	Size    int    `yaml:"Size"`
	Label   string `yaml:"Label"`
	Enabled bool   `yaml:"Enabled"`
}

func (c *widgetConfig) SetDefaults() {
	c.Enabled = true
	c.Label = "default"
}

func (c *widgetConfig) Validate() error {
	if c.Size < 0 {
		return errors.New("Size must be non-negative")
	}
	return nil
}

type widget struct {
	cfg widgetConfig
	env Env
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register("Widget", Typed(func(cfg *widgetConfig, env Env) (*widget, error) {
		return &widget{cfg: *cfg, env: env}, nil
	})))
	return r
}

func TestRegistry_Build(t *testing.T) {
	r := newTestRegistry(t)

	var spec Spec
	require.NoError(t, yaml.Unmarshal([]byte("type: Widget\nparams:\n  Size: 3\n  Enabled: false\n"), &spec))

	w, err := BuildAs[*widget](r, spec,
		WithExperiment("exp", "/tmp/exp/run_1"),
		WithInputShape(tensor.Shape{32, 32, 3}))
	require.NoError(t, err)

	want := widgetConfig{Size: 3, Label: "default", Enabled: false}
	if diff := cmp.Diff(want, w.cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "exp", w.env.ExperimentName)
	assert.Equal(t, "/tmp/exp/run_1", w.env.ExperimentFolder)
	assert.Equal(t, tensor.Shape{32, 32, 3}, w.env.InputShape)
	assert.NotNil(t, w.env.Logger, "a no-op logger is supplied by default")
	assert.NotNil(t, w.env.Backend)
	assert.Same(t, r, w.env.Registry)
}

func TestRegistry_BuildWithoutParamsUsesDefaults(t *testing.T) {
	r := newTestRegistry(t)

	w, err := BuildAs[*widget](r, Spec{Type: "Widget"})
	require.NoError(t, err)
	assert.Equal(t, widgetConfig{Label: "default", Enabled: true}, w.cfg)
}

func TestRegistry_Errors(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("Duplicate", func(t *testing.T) {
		err := r.Register("Widget", func(Spec, Env) (any, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrDuplicateComponent)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := r.Build(Spec{Type: "Gadget"})
		assert.ErrorIs(t, err, ErrUnknownComponent)
		assert.ErrorContains(t, err, "Widget")
	})

	t.Run("WrongType", func(t *testing.T) {
		_, err := BuildAs[string](r, Spec{Type: "Widget"})
		assert.ErrorIs(t, err, ErrComponentType)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := r.Build(MustSpec("Widget", map[string]any{"Colour": "red"}))
		require.Error(t, err)
		assert.ErrorContains(t, err, "Colour")
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := r.Build(MustSpec("Widget", map[string]any{"Size": -1}))
		assert.ErrorContains(t, err, "invalid Widget config")
	})
}

func TestRegistry_Types(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register("Alpha", func(Spec, Env) (any, error) { return 1, nil }))
	assert.Equal(t, []string{"Alpha", "Widget"}, r.Types())
}

func TestSpec_YAMLRoundTrip(t *testing.T) {
	spec := MustSpec("Widget", widgetConfig{Size: 7, Label: "x"})

	out, err := yaml.Marshal(spec)
	require.NoError(t, err)

	var back Spec
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "Widget", back.Type)

	var cfg widgetConfig
	require.NoError(t, back.Decode(&cfg))
	assert.Equal(t, widgetConfig{Size: 7, Label: "x"}, cfg)

	empty, err := yaml.Marshal(Spec{Type: "Widget"})
	require.NoError(t, err)
	assert.Equal(t, "type: Widget\n", string(empty))
}
