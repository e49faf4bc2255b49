package data

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/template/internal/tensor"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// FashionMNISTConfig configures the FashionMNIST dataset.
type FashionMNISTConfig struct {
	// Root is the folder holding the four IDX files.
	Root string `yaml:"Root"`
	// Split is "train" or "test".
	Split string `yaml:"Split"`
	// MaxSamples truncates the dataset when positive.
	MaxSamples int `yaml:"MaxSamples"`
}

// SetDefaults implements component.Defaulter.
func (c *FashionMNISTConfig) SetDefaults() {
	c.Root = filepath.Join("data", "FashionMNIST", "raw")
	c.Split = SplitTrain
}

// Validate implements component.Validator.
func (c *FashionMNISTConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("Root is required")
	}
	if c.MaxSamples < 0 {
		return fmt.Errorf("MaxSamples must be >= 0, got %d", c.MaxSamples)
	}
	return validateSplit(c.Split)
}

// FashionMNISTFiles returns the image and label files of a split.
func FashionMNISTFiles(root, split string) (images, labels string) {
	prefix := "train"
	if split == SplitTest {
		prefix = "t10k"
	}
	return filepath.Join(root, prefix+"-images-idx3-ubyte"), filepath.Join(root, prefix+"-labels-idx1-ubyte")
}

// FashionMNIST is the Fashion-MNIST dataset read from IDX files. Samples have
// shape [28, 28, 1].
type FashionMNIST struct {
	memoryDataset
}

// NewFashionMNIST loads the IDX files of cfg.Split into memory.
func NewFashionMNIST(cfg *FashionMNISTConfig) (*FashionMNIST, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	imagesPath, labelsPath := FashionMNISTFiles(cfg.Root, cfg.Split)
	images, rows, cols, err := readIDXImages(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("fashionmnist: %w", err)
	}
	labels, err := readIDXLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("fashionmnist: %w", err)
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("fashionmnist: %d images but %d labels", len(images), len(labels))
	}

	ds := &FashionMNIST{memoryDataset{images: images, labels: labels, shape: tensor.Shape{rows, cols, 1}}}
	ds.limit(cfg.MaxSamples)
	return ds, nil
}

// readIDXImages reads an IDX3 image file:
//
//	magic number: 0x00000803 (2051)
//	number of images, rows, cols: uint32 big endian each
//	pixel data: unsigned bytes (0-255)
func readIDXImages(path string) (images [][]byte, rows, cols int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() { _ = f.Close() }()

	var header [4]uint32
	if err := binary.Read(f, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("%s: failed to read header: %w", path, err)
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("%s: invalid magic number: got %d, want %d", path, header[0], idxImagesMagic)
	}

	rows, cols = int(header[2]), int(header[3])
	images = make([][]byte, header[1])
	for i := range images {
		images[i] = make([]byte, rows*cols)
		if _, err := io.ReadFull(f, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("%s: failed to read image %d: %w", path, i, err)
		}
	}
	return images, rows, cols, nil
}

// readIDXLabels reads an IDX1 label file:
//
//	magic number: 0x00000801 (2049)
//	number of labels: uint32 big endian
//	label data: unsigned bytes
func readIDXLabels(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var header [2]uint32
	if err := binary.Read(f, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", path, err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("%s: invalid magic number: got %d, want %d", path, header[0], idxLabelsMagic)
	}

	labels := make([]byte, header[1])
	if _, err := io.ReadFull(f, labels); err != nil {
		return nil, fmt.Errorf("%s: failed to read labels: %w", path, err)
	}
	return labels, nil
}
