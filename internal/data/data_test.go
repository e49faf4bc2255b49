package data

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/component"
	"github.com/born-ml/template/internal/sample"
	"github.com/born-ml/template/internal/tensor"
)

// writeCIFAR writes n records to path; record i has label i%10 and every
// pixel of channel c set to i+c.
func writeCIFAR(t *testing.T, path string, n int) {
	t.Helper()
	buf := make([]byte, 0, n*cifarRecordBytes)
	for i := 0; i < n; i++ {
		buf = append(buf, byte(i%10))
		for c := 0; c < cifarChannels; c++ {
			for p := 0; p < cifarSide*cifarSide; p++ {
				buf = append(buf, byte(i+c))
			}
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func cifarTestRoot(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	writeCIFAR(t, filepath.Join(root, "test_batch.bin"), n)
	return root
}

func TestCIFAR10(t *testing.T) {
	root := cifarTestRoot(t, 6)

	ds, err := NewCIFAR10(&CIFAR10Config{Root: root, Split: SplitTest})
	require.NoError(t, err)
	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, tensor.Shape{32, 32, 3}, ds.Shape())

	item, err := ds.Get(4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), item.Label)
	assert.Equal(t, tensor.Shape{3, 32, 32}, item.Shape)
	require.Len(t, item.Image, cifarImageBytes)
	assert.InDelta(t, 4.0/255, item.Image[0], 1e-7)
	assert.InDelta(t, 5.0/255, item.Image[1024], 1e-7)
	assert.InDelta(t, 6.0/255, item.Image[2048], 1e-7)

	_, err = ds.Get(6)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestCIFAR10_MaxSamplesAndTrainFiles(t *testing.T) {
	root := t.TempDir()
	for _, path := range CIFAR10Files(root, SplitTrain) {
		writeCIFAR(t, path, 3)
	}

	ds, err := NewCIFAR10(&CIFAR10Config{Root: root, Split: SplitTrain})
	require.NoError(t, err)
	assert.Equal(t, 15, ds.Len())

	ds, err = NewCIFAR10(&CIFAR10Config{Root: root, Split: SplitTrain, MaxSamples: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
}

func TestCIFAR10_Errors(t *testing.T) {
	_, err := NewCIFAR10(&CIFAR10Config{Root: t.TempDir(), Split: SplitTest})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewCIFAR10(&CIFAR10Config{Root: t.TempDir(), Split: "valid"})
	assert.ErrorContains(t, err, "Split")

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "test_batch.bin"), make([]byte, 100), 0o600))
	_, err = NewCIFAR10(&CIFAR10Config{Root: root, Split: SplitTest})
	assert.ErrorContains(t, err, "not a multiple")
}

func writeIDX(t *testing.T, root, split string, n, rows, cols int) {
	t.Helper()
	imagesPath, labelsPath := FashionMNISTFiles(root, split)

	images := binary.BigEndian.AppendUint32(nil, idxImagesMagic)
	images = binary.BigEndian.AppendUint32(images, uint32(n))
	images = binary.BigEndian.AppendUint32(images, uint32(rows))
	images = binary.BigEndian.AppendUint32(images, uint32(cols))
	labels := binary.BigEndian.AppendUint32(nil, idxLabelsMagic)
	labels = binary.BigEndian.AppendUint32(labels, uint32(n))
	for i := 0; i < n; i++ {
		for p := 0; p < rows*cols; p++ {
			images = append(images, byte(p))
		}
		labels = append(labels, byte(9-i))
	}
	require.NoError(t, os.WriteFile(imagesPath, images, 0o600))
	require.NoError(t, os.WriteFile(labelsPath, labels, 0o600))
}

func TestFashionMNIST(t *testing.T) {
	root := t.TempDir()
	writeIDX(t, root, SplitTest, 3, 28, 28)

	ds, err := NewFashionMNIST(&FashionMNISTConfig{Root: root, Split: SplitTest})
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, tensor.Shape{28, 28, 1}, ds.Shape())

	item, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), item.Label)
	assert.Equal(t, tensor.Shape{1, 28, 28}, item.Shape)
	assert.InDelta(t, 2.0/255, item.Image[2], 1e-7)

	ds, err = NewFashionMNIST(&FashionMNISTConfig{Root: root, Split: SplitTest, MaxSamples: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}

func TestFashionMNIST_BadMagic(t *testing.T) {
	root := t.TempDir()
	writeIDX(t, root, SplitTrain, 1, 2, 2)
	imagesPath, labelsPath := FashionMNISTFiles(root, SplitTrain)

	images, err := os.ReadFile(imagesPath)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(images, idxLabelsMagic)
	require.NoError(t, os.WriteFile(imagesPath, images, 0o600))

	_, err = NewFashionMNIST(&FashionMNISTConfig{Root: root, Split: SplitTrain})
	assert.ErrorContains(t, err, "invalid magic number")

	labels, err := os.ReadFile(labelsPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(imagesPath, labels, 0o600))
	_, err = NewFashionMNIST(&FashionMNISTConfig{Root: root, Split: SplitTrain})
	assert.ErrorContains(t, err, "failed to read header")
}

// sliceDataset is an in-memory dataset whose item i has a single pixel i.
type sliceDataset struct {
	n       int
	failAt  int
	failErr error
}

func (d *sliceDataset) Len() int            { return d.n }
func (d *sliceDataset) Shape() tensor.Shape { return tensor.Shape{1, 1, 1} }
func (d *sliceDataset) Get(i int) (sample.Item, error) {
	if d.failErr != nil && i == d.failAt {
		return sample.Item{}, d.failErr
	}
	return sample.Item{Image: []float32{float32(i)}, Shape: tensor.Shape{1, 1, 1}, Label: int64(i)}, nil
}

func drain(t *testing.T, l *Loader) ([]int, []int) {
	t.Helper()
	var indices, sizes []int
	for {
		batch, meta, err := l.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return indices, sizes
		}
		require.NoError(t, err)
		x, err := batch.Data()
		require.NoError(t, err)
		sizes = append(sizes, x.Shape()[0])
		for i, idx := range meta.Indices {
			assert.Equal(t, float32(idx), x.Data()[i])
			assert.Equal(t, float32(idx), batch[sample.TargetSlot].Data()[i])
		}
		indices = append(indices, meta.Indices...)
	}
}

func TestLoader(t *testing.T) {
	defer goleak.VerifyNone(t)
	backend := cpu.New()

	tests := []struct {
		name      string
		cfg       LoaderConfig
		wantSizes []int
	}{
		{"Sequential", LoaderConfig{BatchSize: 4}, []int{4, 4, 2}},
		{"DropLast", LoaderConfig{BatchSize: 4, DropLast: true}, []int{4, 4}},
		{"Workers", LoaderConfig{BatchSize: 3, NumWorkers: 4}, []int{3, 3, 3, 1}},
		{"Shuffle", LoaderConfig{BatchSize: 5, Shuffle: true, Seed: 7, NumWorkers: 2}, []int{5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLoader(&sliceDataset{n: 10}, tt.cfg, backend)
			require.NoError(t, err)
			assert.Equal(t, len(tt.wantSizes), l.NumBatches())

			indices, sizes := drain(t, l)
			assert.Equal(t, tt.wantSizes, sizes)

			if !tt.cfg.Shuffle && !tt.cfg.DropLast {
				assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)
			}
			sorted := append([]int(nil), indices...)
			sort.Ints(sorted)
			for i := 1; i < len(sorted); i++ {
				assert.NotEqual(t, sorted[i-1], sorted[i], "index repeated within a pass")
			}
		})
	}
}

func TestLoader_ShuffleDeterministic(t *testing.T) {
	backend := cpu.New()
	cfg := LoaderConfig{BatchSize: 4, Shuffle: true, Seed: 42}

	a, err := NewLoader(&sliceDataset{n: 20}, cfg, backend)
	require.NoError(t, err)
	b, err := NewLoader(&sliceDataset{n: 20}, cfg, backend)
	require.NoError(t, err)

	first, _ := drain(t, a)
	second, _ := drain(t, b)
	assert.Equal(t, first, second)
	assert.NotEqual(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, first)

	a.Reset()
	again, _ := drain(t, a)
	assert.Len(t, again, 20)
	assert.NotEqual(t, first, again, "a new pass draws a new order")
}

func TestLoader_Errors(t *testing.T) {
	defer goleak.VerifyNone(t)
	backend := cpu.New()

	_, err := NewLoader(&sliceDataset{n: 1}, LoaderConfig{}, backend)
	assert.ErrorContains(t, err, "BatchSize")

	boom := errors.New("boom")
	l, err := NewLoader(&sliceDataset{n: 8, failAt: 5, failErr: boom}, LoaderConfig{BatchSize: 8, NumWorkers: 3}, backend)
	require.NoError(t, err)
	_, _, err = l.Next(context.Background())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, err = NewLoader(&sliceDataset{n: 8}, LoaderConfig{BatchSize: 2}, backend)
	require.NoError(t, err)
	_, _, err = l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// scaleTransform multiplies every pixel and doubles the width.
type scaleTransform struct{ factor float32 }

func (s *scaleTransform) Apply(item sample.Item) (sample.Item, error) {
	out := sample.Item{Shape: tensor.Shape{item.Shape[0], item.Shape[1], item.Shape[2] * 2}, Label: item.Label}
	for _, v := range item.Image {
		out.Image = append(out.Image, v*s.factor, v*s.factor)
	}
	return out, nil
}

func (s *scaleTransform) OutputShape(in tensor.Shape) tensor.Shape {
	return tensor.Shape{in[0], in[1] * 2, in[2]}
}

func TestWithTransforms(t *testing.T) {
	base := &sliceDataset{n: 3}
	assert.Same(t, Dataset(base), WithTransforms(base))

	ds := WithTransforms(base, &scaleTransform{factor: 2}, &scaleTransform{factor: 3})
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, tensor.Shape{1, 4, 1}, ds.Shape())

	item, err := ds.Get(2)
	require.NoError(t, err)
	assert.Equal(t, []float32{12, 12, 12, 12}, item.Image)
	assert.Equal(t, tensor.Shape{1, 1, 4}, item.Shape)

	base.failErr, base.failAt = errors.New("bad"), 1
	_, err = ds.Get(1)
	assert.ErrorContains(t, err, "bad")
}

func newDataRegistry(t *testing.T) *component.Registry {
	t.Helper()
	r := component.NewRegistry()
	require.NoError(t, r.Register("CIFAR10", component.Typed(func(cfg *CIFAR10Config, _ component.Env) (*CIFAR10, error) {
		return NewCIFAR10(cfg)
	})))
	require.NoError(t, r.Register("Scale", component.Typed(func(cfg *struct {
		Factor float32 `yaml:"Factor"`
	}, _ component.Env) (*scaleTransform, error) {
		return &scaleTransform{factor: cfg.Factor}, nil
	})))
	require.NoError(t, r.Register("DataModule", component.Typed(func(cfg *ModuleConfig, env component.Env) (*Module, error) {
		return NewModule(cfg, env)
	})))
	return r
}

func TestModule(t *testing.T) {
	defer goleak.VerifyNone(t)
	root := cifarTestRoot(t, 5)
	r := newDataRegistry(t)

	spec := component.MustSpec("DataModule", map[string]any{
		"TrainDataset": map[string]any{"type": "CIFAR10", "params": map[string]any{"Root": root, "Split": "test"}},
		"ValDataset":   map[string]any{"type": "CIFAR10", "params": map[string]any{"Root": root, "Split": "test", "MaxSamples": 3}},
		"Transforms":   []any{map[string]any{"type": "Scale", "params": map[string]any{"Factor": 2}}},
		"BatchSize":    2,
		"NumWorkers":   2,
	})
	dm, err := component.BuildAs[DataModule](r, spec)
	require.NoError(t, err)

	train := dm.TrainLoader()
	require.NotNil(t, train)
	assert.Equal(t, 3, train.NumBatches())
	assert.Equal(t, tensor.Shape{32, 64, 3}, train.Dataset().Shape())

	batch, meta, err := train.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, meta.Indices)
	x, err := batch.Data()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 32, 64}, x.Shape())

	val := dm.ValLoader()
	require.NotNil(t, val)
	assert.Equal(t, 2, val.NumBatches())
}

func TestModule_NoTrainDataset(t *testing.T) {
	r := newDataRegistry(t)
	dm, err := component.BuildAs[DataModule](r, component.MustSpec("DataModule", map[string]any{"BatchSize": 4}))
	require.NoError(t, err)
	assert.Nil(t, dm.TrainLoader())
	assert.Nil(t, dm.ValLoader())

	_, err = r.Build(component.MustSpec("DataModule", map[string]any{"BatchSize": 0}))
	assert.ErrorContains(t, err, "BatchSize")
}
