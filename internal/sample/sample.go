// Package sample defines the named-slot batch container that carries tensors
// between datasets, loaders, networks and exporters.
package sample

import (
	"fmt"
	"maps"

	"github.com/born-ml/template/internal/backend/cpu"
	"github.com/born-ml/template/internal/tensor"
)

// Backend is the compute backend used throughout the application layer.
type Backend = *cpu.CPUBackend

// Tensor is the float32 CPU tensor type carried in batches.
type Tensor = tensor.Tensor[float32, Backend]

// Conventional slot names.
const (
	// DataSlot holds the primary input, replaced by network output on forward.
	DataSlot = "data"
	// TargetSlot holds the ground truth.
	TargetSlot = "target"
)

// Batch maps slot names to tensors. The first dimension of every slot is the
// batch dimension.
type Batch map[string]*Tensor

// Data returns the primary slot.
func (b Batch) Data() (*Tensor, error) {
	x, ok := b[DataSlot]
	if !ok || x == nil {
		return nil, fmt.Errorf("batch has no %q slot", DataSlot)
	}
	return x, nil
}

// With returns a shallow copy of b with slot set to x. b is not modified.
func (b Batch) With(slot string, x *Tensor) Batch {
	out := maps.Clone(b)
	if out == nil {
		out = make(Batch, 1)
	}
	out[slot] = x
	return out
}

// Metadata describes where the samples of a batch came from.
type Metadata struct {
	// Indices are the dataset indices of each sample, in batch order.
	Indices []int
}

// Item is a single sample produced by a dataset: an [H, W, C] image stored
// channel-first as [C, H, W] float32 values plus an integer label.
type Item struct {
	Image []float32
	Shape tensor.Shape // [C, H, W]
	Label int64
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	return Item{
		Image: append([]float32(nil), it.Image...),
		Shape: it.Shape.Clone(),
		Label: it.Label,
	}
}

// Collate stacks items into a Batch with a [N, C, H, W] data slot and an [N]
// int64-valued target slot stored as float32.
func Collate(items []Item, backend Backend) (Batch, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("collate: no items")
	}

	shape := items[0].Shape
	per := shape.NumElements()
	data := make([]float32, 0, len(items)*per)
	targets := make([]float32, len(items))
	for i, it := range items {
		if !it.Shape.Equal(shape) {
			return nil, fmt.Errorf("collate: item %d has shape %v, expected %v", i, it.Shape, shape)
		}
		if len(it.Image) != per {
			return nil, fmt.Errorf("collate: item %d has %d values, expected %d", i, len(it.Image), per)
		}
		data = append(data, it.Image...)
		targets[i] = float32(it.Label)
	}

	batchShape := append(tensor.Shape{len(items)}, shape...)
	x, err := tensor.FromSlice(data, batchShape, backend)
	if err != nil {
		return nil, fmt.Errorf("collate: %w", err)
	}
	y, err := tensor.FromSlice(targets, tensor.Shape{len(items)}, backend)
	if err != nil {
		return nil, fmt.Errorf("collate: %w", err)
	}
	return Batch{DataSlot: x, TargetSlot: y}, nil
}
