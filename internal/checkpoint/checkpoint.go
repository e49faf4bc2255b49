// Package checkpoint stores network weights together with the train
// configuration that produced them, and selects checkpoints inside a run's
// checkpoint folder.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/born-ml/template/internal/config"
	"github.com/born-ml/template/internal/serialization"
	"github.com/born-ml/template/internal/tensor"
)

// Extension is the file extension of checkpoint files.
const Extension = ".born"

// ModelType marks a .born file as a checkpoint.
const ModelType = "Checkpoint"

// TrainConfigKey is the header metadata key holding the train configuration as YAML.
const TrainConfigKey = "train_config"

var (
	// ErrNoCheckpoints is returned by Latest when the folder holds no checkpoint.
	ErrNoCheckpoints = errors.New("no checkpoints found")
	// ErrNotCheckpoint is returned when a .born file was not written by Save.
	ErrNotCheckpoint = errors.New("file is not a checkpoint")
)

// Meta records training progress.
type Meta struct {
	Epoch int
	Step  int64
}

// Save writes stateDict and the train configuration to path.
func Save(path string, stateDict map[string]*tensor.RawTensor, trainCfg *config.TrainConfig, meta Meta) error {
	if trainCfg == nil {
		return fmt.Errorf("%w: train configuration is required", config.ErrInvalidConfig)
	}
	if err := trainCfg.Validate(); err != nil {
		return err
	}
	cfgYAML, err := config.MarshalTrain(trainCfg)
	if err != nil {
		return err
	}

	header := serialization.Header{
		ModelType: ModelType,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			TrainConfigKey: string(cfgYAML),
			"name":         trainCfg.Name,
		},
		Checkpoint: &serialization.CheckpointMeta{Epoch: meta.Epoch, Step: meta.Step},
	}
	if err := serialization.WriteFile(path, stateDict, header); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Info is the decoded header of a checkpoint.
type Info struct {
	Path        string
	Meta        Meta
	CreatedAt   time.Time
	TrainConfig *config.TrainConfig
}

// ReadInfo reads the header of a checkpoint without loading its tensors.
func ReadInfo(path string) (*Info, error) {
	header, err := serialization.ReadHeader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if header.ModelType != ModelType || header.Checkpoint == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCheckpoint, path)
	}

	raw, ok := header.Metadata[TrainConfigKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotCheckpoint, path, TrainConfigKey)
	}
	cfg, err := config.ParseTrain([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return &Info{
		Path:        path,
		Meta:        Meta{Epoch: header.Checkpoint.Epoch, Step: header.Checkpoint.Step},
		CreatedAt:   header.CreatedAt,
		TrainConfig: cfg,
	}, nil
}

// LoadConfiguration returns the train configuration stored in a checkpoint.
func LoadConfiguration(path string) (*config.TrainConfig, error) {
	info, err := ReadInfo(path)
	if err != nil {
		return nil, err
	}
	return info.TrainConfig, nil
}

// LoadStateDict returns the weights stored in a checkpoint.
func LoadStateDict(path string) (map[string]*tensor.RawTensor, error) {
	stateDict, header, err := serialization.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if header.ModelType != ModelType || header.Checkpoint == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCheckpoint, path)
	}
	return stateDict, nil
}

// Latest returns the most recent checkpoint in dir: the greatest modification
// time, with ties broken by natural name order.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoCheckpoints, dir)
		}
		return "", fmt.Errorf("failed to list checkpoints: %w", err)
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != Extension {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		candidates = append(candidates, candidate{name: entry.Name(), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoints, dir)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.Before(b.modTime)
		}
		return NaturalLess(a.name, b.name)
	})
	return filepath.Join(dir, candidates[len(candidates)-1].name), nil
}

// NaturalLess orders strings with embedded numbers numerically, so
// "epoch=9" sorts before "epoch=10".
func NaturalLess(a, b string) bool {
	for a != "" && b != "" {
		da, db := isDigit(a[0]), isDigit(b[0])
		switch {
		case da && db:
			na, ra := splitDigits(a)
			nb, rb := splitDigits(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = ra, rb
		case a[0] != b[0]:
			return a[0] < b[0]
		default:
			a, b = a[1:], b[1:]
		}
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func splitDigits(s string) (digits, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}
