package data

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/template/internal/sample"
)

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize int
	// Shuffle draws a new sample order from Seed on every pass.
	Shuffle bool
	Seed    int64
	// NumWorkers bounds the goroutines decoding samples of one batch. Values
	// below 2 decode sequentially.
	NumWorkers int
	// DropLast discards a final batch smaller than BatchSize.
	DropLast bool
}

// Loader iterates over a dataset in batches. A Loader is not safe for
// concurrent use.
type Loader struct {
	ds      Dataset
	cfg     LoaderConfig
	backend sample.Backend
	rng     *rand.Rand
	order   []int
	pos     int
}

// NewLoader returns a loader positioned at the first batch.
func NewLoader(ds Dataset, cfg LoaderConfig, backend sample.Backend) (*Loader, error) {
	if ds == nil {
		return nil, fmt.Errorf("loader: nil dataset")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("loader: BatchSize must be > 0, got %d", cfg.BatchSize)
	}
	l := &Loader{
		ds:      ds,
		cfg:     cfg,
		backend: backend,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	l.Reset()
	return l, nil
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset {
	return l.ds
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int {
	return l.cfg.BatchSize
}

// NumBatches returns the number of batches in one pass.
func (l *Loader) NumBatches() int {
	n := l.ds.Len() / l.cfg.BatchSize
	if !l.cfg.DropLast && l.ds.Len()%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Reset starts a new pass, reshuffling when Shuffle is set.
func (l *Loader) Reset() {
	n := l.ds.Len()
	if l.cfg.Shuffle {
		l.order = l.rng.Perm(n)
	} else {
		l.order = make([]int, n)
		for i := range l.order {
			l.order[i] = i
		}
	}
	l.pos = 0
}

// Next returns the next batch and the dataset indices it holds. It returns
// io.EOF once the pass is exhausted.
func (l *Loader) Next(ctx context.Context) (sample.Batch, sample.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, sample.Metadata{}, err
	}

	n := len(l.order)
	if l.pos >= n {
		return nil, sample.Metadata{}, io.EOF
	}
	end := min(l.pos+l.cfg.BatchSize, n)
	if l.cfg.DropLast && end-l.pos < l.cfg.BatchSize {
		l.pos = n
		return nil, sample.Metadata{}, io.EOF
	}

	indices := append([]int(nil), l.order[l.pos:end]...)
	items, err := l.fetch(ctx, indices)
	if err != nil {
		return nil, sample.Metadata{}, err
	}
	batch, err := sample.Collate(items, l.backend)
	if err != nil {
		return nil, sample.Metadata{}, err
	}

	l.pos = end
	return batch, sample.Metadata{Indices: indices}, nil
}

func (l *Loader) fetch(ctx context.Context, indices []int) ([]sample.Item, error) {
	items := make([]sample.Item, len(indices))

	if l.cfg.NumWorkers < 2 {
		for i, idx := range indices {
			item, err := l.ds.Get(idx)
			if err != nil {
				return nil, fmt.Errorf("loader: sample %d: %w", idx, err)
			}
			items[i] = item
		}
		return items, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.NumWorkers)
	for i, idx := range indices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := l.ds.Get(idx)
			if err != nil {
				return fmt.Errorf("loader: sample %d: %w", idx, err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
