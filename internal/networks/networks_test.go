package networks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/nn"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

func intPtr(v int) *int { return &v }

func TestSimpleCNN_Shapes(t *testing.T) {
	net, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: intPtr(10)}, tensor.Shape{32, 32, 3}, cpu.New())
	require.NoError(t, err)

	want := []struct {
		name  string
		shape tensor.Shape
	}{
		{"conv_1", tensor.Shape{32, 32, 8}},
		{"conv_2", tensor.Shape{32, 32, 8}},
		{"pool_1", tensor.Shape{16, 16, 8}},
		{"conv_3", tensor.Shape{16, 16, 8}},
		{"pool_2", tensor.Shape{8, 8, 8}},
		{"conv_4", tensor.Shape{8, 8, 16}},
		{"flatten", tensor.Shape{1024}},
		{"linear", tensor.Shape{10}},
	}
	layers := net.Layers()
	require.Len(t, layers, len(want))
	for i, w := range want {
		assert.Equal(t, w.name, layers[i].Name)
		assert.Equal(t, w.shape, layers[i].OutputShape, w.name)
	}

	linear, ok := net.Layer("linear")
	require.True(t, ok)
	assert.Equal(t, 1024, linear.(*nn.Linear[sample.Backend]).InFeatures())

	conv1, _ := net.Layer("conv_1")
	block := conv1.(*nn.Convolution2D[sample.Backend])
	assert.Nil(t, block.BatchNorm())
	assert.IsType(t, &nn.ReLU[sample.Backend]{}, block.Activation())
	assert.Equal(t, 3, block.Config().InChannels)

	assert.Equal(t, SimpleCNNType, net.Kind())
	assert.Equal(t, tensor.Shape{32, 32, 3}, net.InputShape())
	assert.Equal(t, tensor.Shape{10}, net.OutputShape())
}

func TestSimpleCNN_Forward(t *testing.T) {
	backend := cpu.New()
	net, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: intPtr(10)}, tensor.Shape{32, 32, 3}, backend)
	require.NoError(t, err)

	x := tensor.Full[float32](tensor.Shape{4, 3, 32, 32}, 0.5, backend)
	target := tensor.Zeros[float32](tensor.Shape{4}, backend)
	in := sample.Batch{sample.DataSlot: x, sample.TargetSlot: target}

	out, err := net.Forward(in)
	require.NoError(t, err)

	y, err := out.Data()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 10}, y.Shape())
	assert.Same(t, target, out[sample.TargetSlot], "other slots are preserved")
	assert.Same(t, x, in[sample.DataSlot], "input batch is not modified")

	bare := net.ForwardTensor(x)
	assert.Equal(t, y.Data(), bare.Data())
}

func TestNetwork_ForwardErrors(t *testing.T) {
	backend := cpu.New()
	net, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: intPtr(2)}, tensor.Shape{8, 8, 1}, backend)
	require.NoError(t, err)

	_, err = net.Forward(sample.Batch{})
	assert.ErrorContains(t, err, `"data"`)

	wrong := tensor.Zeros[float32](tensor.Shape{1, 3, 8, 8}, backend)
	_, err = net.Forward(sample.Batch{sample.DataSlot: wrong})
	assert.ErrorContains(t, err, "does not match")
}

func TestNumOutputsValidation(t *testing.T) {
	backend := cpu.New()
	shape := tensor.Shape{32, 32, 3}

	for _, n := range []*int{nil, intPtr(0), intPtr(-3)} {
		_, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: n}, shape, backend)
		assert.ErrorIs(t, err, ErrInvalidNumOutputs)

		cfg := &ExtendedSimpleCNNConfig{NumOutputs: n}
		cfg.SetDefaults()
		_, err = NewExtendedSimpleCNN(cfg, shape, backend)
		assert.ErrorIs(t, err, ErrInvalidNumOutputs)
	}
}

func TestInputShapeValidation(t *testing.T) {
	backend := cpu.New()
	for _, shape := range []tensor.Shape{nil, {32, 32}, {32, 0, 3}, {3, 3, 3}, {32, 3, 1}} {
		_, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: intPtr(10)}, shape, backend)
		assert.ErrorIs(t, err, ErrInvalidInputShape, "%v", shape)

		cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(10)}
		cfg.SetDefaults()
		_, err = NewExtendedSimpleCNN(cfg, shape, backend)
		assert.ErrorIs(t, err, ErrInvalidInputShape, "%v", shape)
	}

	net, err := NewSimpleCNN(&SimpleCNNConfig{NumOutputs: intPtr(10)}, tensor.Shape{4, 4, 1}, backend)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 16}, net.Layers()[5].OutputShape)
}

func TestExtendedSimpleCNN(t *testing.T) {
	backend := cpu.New()

	t.Run("LeakyReLUWithBatchNorm", func(t *testing.T) {
		cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(5)}
		cfg.SetDefaults()
		cfg.Activation = nn.ActivationLeakyReLU
		cfg.ActivationNegativeSlope = 0.2
		cfg.BatchNorm = true

		net, err := NewExtendedSimpleCNN(cfg, tensor.Shape{28, 28, 1}, backend)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{5}, net.OutputShape())

		layer, _ := net.Layer("conv_4")
		block := layer.(*nn.Convolution2D[sample.Backend])
		require.NotNil(t, block.BatchNorm())
		leaky, ok := block.Activation().(*nn.LeakyReLU[sample.Backend])
		require.True(t, ok)
		assert.InDelta(t, 0.2, leaky.NegativeSlope(), 1e-7)

		sd := net.StateDict()
		for _, key := range []string{
			"conv_1.conv.weight", "conv_1.conv.bias",
			"conv_1.bn.weight", "conv_1.bn.bias", "conv_1.bn.running_mean", "conv_1.bn.running_var",
			"linear.weight", "linear.bias",
		} {
			assert.Contains(t, sd, key)
		}
		assert.Equal(t, tensor.Shape{5, 7 * 7 * 16}, sd["linear.weight"].Shape())
	})

	t.Run("Defaults", func(t *testing.T) {
		cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(3)}
		cfg.SetDefaults()
		net, err := NewExtendedSimpleCNN(cfg, tensor.Shape{16, 16, 3}, backend)
		require.NoError(t, err)
		layer, _ := net.Layer("conv_1")
		block := layer.(*nn.Convolution2D[sample.Backend])
		assert.Nil(t, block.BatchNorm())
		assert.IsType(t, &nn.ReLU[sample.Backend]{}, block.Activation())
	})

	t.Run("AllActivations", func(t *testing.T) {
		for _, act := range nn.ActivationTypes() {
			cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(2), Activation: act}
			net, err := NewExtendedSimpleCNN(cfg, tensor.Shape{8, 8, 3}, backend)
			require.NoError(t, err, act)
			y := net.ForwardTensor(tensor.Ones[float32](tensor.Shape{1, 3, 8, 8}, backend))
			assert.Equal(t, tensor.Shape{1, 2}, y.Shape(), act)
		}
	})

	t.Run("UnsupportedActivation", func(t *testing.T) {
		cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(2), Activation: "Swish"}
		_, err := NewExtendedSimpleCNN(cfg, tensor.Shape{8, 8, 3}, backend)
		assert.ErrorIs(t, err, nn.ErrUnsupportedActivation)
	})
}

func TestNetwork_StateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(4), Activation: nn.ActivationTanh, BatchNorm: true}

	a, err := NewExtendedSimpleCNN(cfg, tensor.Shape{8, 8, 3}, backend)
	require.NoError(t, err)
	b, err := NewExtendedSimpleCNN(cfg, tensor.Shape{8, 8, 3}, backend)
	require.NoError(t, err)

	require.NoError(t, b.LoadStateDict(a.StateDict()))

	x := tensor.Full[float32](tensor.Shape{2, 3, 8, 8}, 0.25, backend)
	assert.Equal(t, a.ForwardTensor(x).Data(), b.ForwardTensor(x).Data())
	assert.Equal(t, a.NumParameters(), b.NumParameters())
	assert.Positive(t, a.NumParameters())
}

func TestNetwork_Spec(t *testing.T) {
	cfg := &ExtendedSimpleCNNConfig{NumOutputs: intPtr(7), Activation: nn.ActivationELU, BatchNorm: true}
	net, err := NewExtendedSimpleCNN(cfg, tensor.Shape{8, 8, 3}, cpu.New())
	require.NoError(t, err)

	spec, err := net.Spec()
	require.NoError(t, err)
	assert.Equal(t, ExtendedSimpleCNNType, spec.Type)

	var back ExtendedSimpleCNNConfig
	require.NoError(t, spec.Decode(&back))
	require.NotNil(t, back.NumOutputs)
	assert.Equal(t, 7, *back.NumOutputs)
	assert.Equal(t, nn.ActivationELU, back.Activation)
	assert.True(t, back.BatchNorm)
}

func TestAddLayer_InconsistentPanics(t *testing.T) {
	backend := cpu.New()
	net := NewNetwork("Custom", tensor.Shape{8, 8, 3}, nil)
	block, err := nn.NewConvolution2D(nn.ConvolutionConfig{InChannels: 4, OutChannels: 8, KernelSize: 3, Padding: 1}, backend)
	require.NoError(t, err)

	assert.Panics(t, func() { net.AddLayer("conv", block) })
	assert.Empty(t, net.Layers())
}
