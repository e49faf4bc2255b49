package data

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/template/internal/tensor"
)

// CIFAR-10 binary layout: one label byte followed by a 32x32x3 image stored
// as three 1024-byte planes (red, green, blue).
const (
	cifarSide        = 32
	cifarChannels    = 3
	cifarImageBytes  = cifarSide * cifarSide * cifarChannels
	cifarRecordBytes = 1 + cifarImageBytes
	cifarTrainFiles  = 5
)

// CIFAR10Config configures the CIFAR10 dataset.
type CIFAR10Config struct {
	// Root is the folder holding data_batch_1.bin ... data_batch_5.bin and test_batch.bin.
	Root string `yaml:"Root"`
	// Split is "train" or "test".
	Split string `yaml:"Split"`
	// MaxSamples truncates the dataset when positive.
	MaxSamples int `yaml:"MaxSamples"`
}

// SetDefaults implements component.Defaulter.
func (c *CIFAR10Config) SetDefaults() {
	c.Root = filepath.Join("data", "cifar-10-batches-bin")
	c.Split = SplitTrain
}

// Validate implements component.Validator.
func (c *CIFAR10Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("Root is required")
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("MaxSamples must be >= 0, got %d", c.MaxSamples)
	}
	return validateSplit(c.Split)
}

// CIFAR10Files returns the batch files of a split.
func CIFAR10Files(root, split string) []string {
	if split == SplitTest {
		return []string{filepath.Join(root, "test_batch.bin")}
	}
	files := make([]string, cifarTrainFiles)
	for i := range files {
		files[i] = filepath.Join(root, fmt.Sprintf("data_batch_%d.bin", i+1))
	}
	return files
}

// CIFAR10 is the CIFAR-10 dataset read from its binary distribution. Samples
// have shape [32, 32, 3].
type CIFAR10 struct {
	memoryDataset
}

// NewCIFAR10 loads the batch files of cfg.Split into memory.
func NewCIFAR10(cfg *CIFAR10Config) (*CIFAR10, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ds := &CIFAR10{memoryDataset{shape: tensor.Shape{cifarSide, cifarSide, cifarChannels}}}
	for _, path := range CIFAR10Files(cfg.Root, cfg.Split) {
		if cfg.MaxSamples > 0 && ds.Len() >= cfg.MaxSamples {
			break
		}
		if err := ds.readBatch(path); err != nil {
			return nil, err
		}
	}
	ds.limit(cfg.MaxSamples)
	return ds, nil
}

func (d *CIFAR10) readBatch(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cifar10: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("cifar10: %w", err)
	}
	if info.Size()%cifarRecordBytes != 0 {
		return fmt.Errorf("cifar10: %s: size %d is not a multiple of %d", path, info.Size(), cifarRecordBytes)
	}

	n := int(info.Size() / cifarRecordBytes)
	record := make([]byte, cifarRecordBytes)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(f, record); err != nil {
			return fmt.Errorf("cifar10: %s: record %d: %w", path, i, err)
		}
		d.labels = append(d.labels, record[0])
		d.images = append(d.images, append([]byte(nil), record[1:]...))
	}
	return nil
}
