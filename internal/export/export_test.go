package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/born-ml/template/internal/checkpoint"
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/components"
	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/exporters"
	"github.com/born-ml/template/internal/serialization"
	"github.com/born-ml/template/internal/tensor"
	"github.com/born-ml/template/internal/trainmodule"
)

const cifarRecord = 1 + 3*32*32

// fixture is an experiment tree with a CIFAR-10 test split on disk.
type fixture struct {
	registry *component.Registry
	dataRoot string
	folder   string
}

func newFixture(t *testing.T, samples int) *fixture {
	t.Helper()
	r, err := components.NewRegistry()
	require.NoError(t, err)

	root := t.TempDir()
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(dataRoot, 0o755))
	buf := make([]byte, 0, samples*cifarRecord)
	for i := 0; i < samples; i++ {
		buf = append(buf, byte(i%10))
		for p := 0; p < cifarRecord-1; p++ {
			buf = append(buf, byte((i*7+p)%256))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dataRoot, "test_batch.bin"), buf, 0o600))

	paths := config.Paths{Root: root, Experiment: "cifar", Run: "1"}
	return &fixture{registry: r, dataRoot: dataRoot, folder: paths.RunFolder()}
}

func (f *fixture) trainConfig() *config.TrainConfig {
	return &config.TrainConfig{
		Name: "cifar",
		TrainModule: component.MustSpec(trainmodule.Type, map[string]any{
			"InputShape": []int{32, 32, 3},
			"Network": map[string]any{
				"type":   "ExtendedSimpleCNN",
				"params": map[string]any{"NumOutputs": 10, "Activation": "LeakyReLU", "BatchNorm": true},
			},
		}),
	}
}

// saveCheckpoint trains nothing: it stores freshly initialised weights, which
// differ between calls.
func (f *fixture) saveCheckpoint(t *testing.T, name string, mtime time.Time) map[string]*tensor.RawTensor {
	t.Helper()
	cfg := f.trainConfig()
	m, err := component.BuildAs[*trainmodule.TrainModule](f.registry, cfg.TrainModule)
	require.NoError(t, err)
	sd := m.Network().StateDict()

	dir := config.CheckpointsDir(f.folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, checkpoint.Save(path, sd, cfg, checkpoint.Meta{}))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return sd
}

func (f *fixture) exportConfig(batchSize int, exps ...string) *config.ExportConfig {
	specs := make([]component.Spec, 0, len(exps))
	for _, e := range exps {
		specs = append(specs, component.MustSpec(e, nil))
	}
	return &config.ExportConfig{
		Name:             "cifar",
		ExperimentFolder: f.folder,
		DataModule: component.MustSpec(components.DataModuleType, map[string]any{
			"TrainDataset": map[string]any{
				"type":   components.CIFAR10Type,
				"params": map[string]any{"Root": f.dataRoot, "Split": "test"},
			},
			"BatchSize": batchSize,
		}),
		Exporters: specs,
	}
}

func (f *fixture) deps(logger *zap.Logger) Deps {
	return Deps{Registry: f.registry, Logger: logger}
}

func assertSameWeights(t *testing.T, want, got map[string]*tensor.RawTensor) {
	t.Helper()
	require.Len(t, got, len(want))
	for name, w := range want {
		require.Contains(t, got, name)
		assert.Equal(t, w.Data(), got[name].Data(), name)
	}
}

var allExporters = []string{
	exporters.BornExporterType,
	exporters.ONNXExporterType,
	exporters.SafeTensorsExporterType,
}

func TestRun(t *testing.T) {
	f := newFixture(t, 6)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.saveCheckpoint(t, "epoch=0-step=10.born", base)
	latest := f.saveCheckpoint(t, "epoch=1-step=20.born", base.Add(time.Minute))

	core, logs := observer.New(zap.InfoLevel)
	err := Run(context.Background(), f.deps(zap.New(core)), f.exportConfig(2, allExporters...), "")
	require.NoError(t, err)

	exportsDir := config.ExportsDir(f.folder)
	for _, name := range []string{"cifar.born", "cifar.onnx", "cifar.safetensors"} {
		assert.FileExists(t, filepath.Join(exportsDir, name))
	}

	net, header, err := exporters.LoadBornModel(filepath.Join(exportsDir, "cifar.born"), f.registry, nil)
	require.NoError(t, err)
	assert.Equal(t, "ExtendedSimpleCNN", header.ModelType)
	assertSameWeights(t, latest, net.StateDict())

	tensors, _, err := serialization.ReadSafeTensors(filepath.Join(exportsDir, "cifar.safetensors"))
	require.NoError(t, err)
	assertSameWeights(t, latest, tensors)

	phases := make([]string, 0)
	for _, e := range logs.All() {
		if _, ok := e.ContextMap()["phase"]; ok {
			phases = append(phases, e.Message)
		}
	}
	assert.Equal(t, []string{
		"Building data module", "Loading checkpoint", "Building exporters", "Exporting", "Export finished",
	}, phases)
	assert.Equal(t, 3, logs.FilterMessage("Artifact ready").Len())
}

func TestRun_ExplicitCheckpoint(t *testing.T) {
	f := newFixture(t, 4)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	older := f.saveCheckpoint(t, "epoch=0-step=10.born", base)
	f.saveCheckpoint(t, "epoch=1-step=20.born", base.Add(time.Minute))

	err := Run(context.Background(), f.deps(nil), f.exportConfig(2, exporters.SafeTensorsExporterType), "epoch=0-step=10.born")
	require.NoError(t, err)

	tensors, _, err := serialization.ReadSafeTensors(filepath.Join(config.ExportsDir(f.folder), "cifar.safetensors"))
	require.NoError(t, err)
	assertSameWeights(t, older, tensors)
}

func TestRun_NoExporters(t *testing.T) {
	f := newFixture(t, 4)
	f.saveCheckpoint(t, "last.born", time.Now())

	require.NoError(t, Run(context.Background(), f.deps(nil), f.exportConfig(2), ""))
	assert.NoDirExists(t, config.ExportsDir(f.folder))
}

func TestRun_Errors(t *testing.T) {
	t.Run("MissingExplicitCheckpoint", func(t *testing.T) {
		f := newFixture(t, 4)
		f.saveCheckpoint(t, "last.born", time.Now())

		err := Run(context.Background(), f.deps(nil), f.exportConfig(2, allExporters...), "missing.born")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
		assert.NoDirExists(t, config.ExportsDir(f.folder))
	})

	t.Run("CheckpointIsDirectory", func(t *testing.T) {
		f := newFixture(t, 4)
		require.NoError(t, os.MkdirAll(filepath.Join(config.CheckpointsDir(f.folder), "dir.born"), 0o755))

		err := Run(context.Background(), f.deps(nil), f.exportConfig(2), "dir.born")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("NoCheckpoints", func(t *testing.T) {
		f := newFixture(t, 4)
		err := Run(context.Background(), f.deps(nil), f.exportConfig(2), "")
		assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoints)
	})

	t.Run("NoTrainLoader", func(t *testing.T) {
		f := newFixture(t, 4)
		f.saveCheckpoint(t, "last.born", time.Now())
		cfg := f.exportConfig(2)
		cfg.DataModule = component.MustSpec(components.DataModuleType, map[string]any{
			"ValDataset": map[string]any{
				"type":   components.CIFAR10Type,
				"params": map[string]any{"Root": f.dataRoot, "Split": "test"},
			},
		})

		err := Run(context.Background(), f.deps(nil), cfg, "")
		assert.ErrorIs(t, err, ErrNoTrainLoader)
	})

	t.Run("NotEnoughSamples", func(t *testing.T) {
		f := newFixture(t, 4)
		f.saveCheckpoint(t, "last.born", time.Now())

		err := Run(context.Background(), f.deps(nil), f.exportConfig(4, exporters.BornExporterType), "")
		assert.ErrorIs(t, err, ErrNotEnoughSamples)
		assert.NoDirExists(t, config.ExportsDir(f.folder))
	})

	t.Run("UnknownExporter", func(t *testing.T) {
		f := newFixture(t, 4)
		f.saveCheckpoint(t, "last.born", time.Now())

		err := Run(context.Background(), f.deps(nil), f.exportConfig(2, "TorchScriptExporter"), "")
		assert.ErrorIs(t, err, component.ErrUnknownComponent)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		f := newFixture(t, 4)
		err := Run(context.Background(), f.deps(nil), &config.ExportConfig{ExperimentFolder: f.folder}, "")
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("Canceled", func(t *testing.T) {
		f := newFixture(t, 4)
		f.saveCheckpoint(t, "last.born", time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Run(ctx, f.deps(nil), f.exportConfig(2, exporters.BornExporterType), "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
