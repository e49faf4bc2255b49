package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/template/internal/component"
)

const exportYAML = `
DataModule:
  type: DataModule
  params:
    BatchSize: 4
Exporters:
  - type: ONNXExporter
  - type: BornExporter
`

func TestLoadExport(t *testing.T) {
	root := t.TempDir()
	p := Paths{Root: root, Experiment: "cifar", Run: "3"}
	require.NoError(t, os.MkdirAll(p.ExperimentDir(), 0o755))
	require.NoError(t, os.WriteFile(p.ConfigFile(ExportConfigSuffix), []byte(exportYAML), 0o600))

	cfg, err := LoadExport(p)
	require.NoError(t, err)

	assert.Equal(t, "cifar", cfg.Name)
	assert.Equal(t, filepath.Join(root, "experiments", "cifar", "run_3"), cfg.ExperimentFolder)
	assert.Equal(t, "DataModule", cfg.DataModule.Type)

	types := make([]string, 0, len(cfg.Exporters))
	for _, e := range cfg.Exporters {
		types = append(types, e.Type)
	}
	if diff := cmp.Diff([]string{"ONNXExporter", "BornExporter"}, types); diff != "" {
		t.Errorf("exporters mismatch (-want +got):\n%s", diff)
	}

	var dm struct {
		BatchSize int `yaml:"BatchSize"`
	}
	require.NoError(t, cfg.DataModule.Decode(&dm))
	assert.Equal(t, 4, dm.BatchSize)
}

func TestLoadExport_Errors(t *testing.T) {
	root := t.TempDir()

	_, err := LoadExport(Paths{Root: root, Experiment: "missing", Run: "1"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadExport(Paths{Root: root, Experiment: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p := Paths{Root: root, Experiment: "bad", Run: "1"}
	require.NoError(t, os.MkdirAll(p.ExperimentDir(), 0o755))
	require.NoError(t, os.WriteFile(p.ConfigFile(ExportConfigSuffix), []byte("Exporters: []\n"), 0o600))
	_, err = LoadExport(p)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(p.ConfigFile(ExportConfigSuffix), []byte("DataModule: {type: X}\nTypo: 1\n"), 0o600))
	_, err = LoadExport(p)
	assert.ErrorContains(t, err, "Typo")
}

func TestTrainConfigRoundTrip(t *testing.T) {
	cfg := &TrainConfig{
		Name: "cifar",
		TrainModule: component.MustSpec("TrainModule", map[string]any{
			"InputShape": []int{32, 32, 3},
		}),
		Seed: 42,
	}

	data, err := MarshalTrain(cfg)
	require.NoError(t, err)

	back, err := ParseTrain(data)
	require.NoError(t, err)
	assert.Equal(t, "cifar", back.Name)
	assert.Equal(t, int64(42), back.Seed)
	assert.Equal(t, "TrainModule", back.TrainModule.Type)
	assert.True(t, back.DataModule.IsZero())

	var params struct {
		InputShape []int `yaml:"InputShape"`
	}
	require.NoError(t, back.TrainModule.Decode(&params))
	assert.Equal(t, []int{32, 32, 3}, params.InputShape)

	_, err = ParseTrain([]byte("Name: x\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPaths(t *testing.T) {
	p := Paths{Root: "/proj", Experiment: "e", Run: "7"}
	assert.Equal(t, filepath.FromSlash("/proj/experiments/e/e_export.yaml"), p.ConfigFile(ExportConfigSuffix))
	assert.Equal(t, filepath.FromSlash("/proj/experiments/e/run_7/checkpoints"), CheckpointsDir(p.RunFolder()))
	assert.Equal(t, filepath.FromSlash("/proj/experiments/e/run_7/exports"), ExportsDir(p.RunFolder()))
}
