package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// InMemory is a Source backed by slices. Labels may be nil for an unlabeled set.
type InMemory struct {
	images [][]byte
	labels []int
}

var _ Source = (*InMemory)(nil)

// NewInMemory creates a Source over images and (optionally) labels.
func NewInMemory(images [][]byte, labels []int) (*InMemory, error) {
	if labels != nil && len(labels) != len(images) {
		return nil, errors.Errorf("%d images but %d labels", len(images), len(labels))
	}
	return &InMemory{images: images, labels: labels}, nil
}

// Len implements Source.
func (m *InMemory) Len() int { return len(m.images) }

// Item implements Source.
func (m *InMemory) Item(i int) ([]byte, int, bool, error) {
	if i < 0 || i >= len(m.images) {
		return nil, 0, false, errors.Wrapf(ErrIndexOutOfRange, "index %d, size %d", i, len(m.images))
	}
	if m.labels == nil {
		return m.images[i], 0, false, nil
	}
	return m.images[i], m.labels[i], true, nil
}

// Range returns the indices [0, n).
func Range(n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// BatchFlat stores a batch in a flat contiguous buffer.
type BatchFlat struct {
	Inputs    []float32
	Labels    []int32
	BatchSize int
	InputDim  int
}

// MakeBatchFlat flattens a batch into a contiguous buffer.
func MakeBatchFlat(inputs [][]float32, labels []int) (*BatchFlat, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("inputs and labels batch sizes don't match: %d != %d", len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return &BatchFlat{}, nil
	}
	batchSize := len(inputs)
	inputDim := len(inputs[0])
	flat := &BatchFlat{
		Inputs:    make([]float32, batchSize*inputDim),
		Labels:    make([]int32, batchSize),
		BatchSize: batchSize,
		InputDim:  inputDim,
	}
	for i := range batchSize {
		if len(inputs[i]) != inputDim {
			return nil, errors.Errorf("inconsistent input dimensions at example %d: expected %d, got %d",
				i, inputDim, len(inputs[i]))
		}
		copy(flat.Inputs[i*inputDim:], inputs[i])
		flat.Labels[i] = int32(labels[i])
	}
	return flat, nil
}

// ToGomlxTensors converts the batch into gomlx tensors shaped [batch, inputDim] and [batch].
func (b *BatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	if b.BatchSize == 0 || b.InputDim == 0 {
		return nil, nil, errors.New("cannot convert an empty batch to tensors")
	}
	inT := tensors.FromFlatDataAndDimensions(b.Inputs, b.BatchSize, b.InputDim)
	labT := tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize)
	return inT, labT, nil
}
