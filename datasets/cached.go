package datasets

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TestingModeSize is the number of samples exposed by a CachedDataset in testing mode.
const TestingModeSize = 128

// PixelScale is the constant every raw pixel byte is multiplied by.
const PixelScale = 0.02

// ErrIndexOutOfRange is returned for reads outside [0, Len()).
var ErrIndexOutOfRange = errors.New("index out of range")

// Device is where materialized samples are placed.
type Device int

const (
	DeviceCPU Device = iota
	DeviceAccelerator
)

func (d Device) String() string {
	if d == DeviceAccelerator {
		return "accelerator"
	}
	return "cpu"
}

// Transform converts raw image bytes into a feature vector.
type Transform func(pixels []byte) []float32

// ScaleTransform returns a Transform that multiplies every byte by factor.
// There is no mean/variance normalization.
func ScaleTransform(factor float32) Transform {
	return func(pixels []byte) []float32 {
		out := make([]float32, len(pixels))
		for i, p := range pixels {
			out[i] = float32(p) * factor
		}
		return out
	}
}

// Sample is one transformed item.
type Sample struct {
	Features []float32
	Label    int
	HasLabel bool

	// Tensor holds Features as a [len(Features)] gomlx tensor. It is only set
	// for samples materialized for DeviceAccelerator.
	Tensor *tensors.Tensor
}

// CachedOptions configures a CachedDataset.
type CachedOptions struct {
	// Transform applied once per index. Defaults to ScaleTransform(PixelScale).
	Transform Transform

	// Device decides, at cache-fill time, where samples are materialized.
	Device Device

	// TestingMode caps Len() to TestingModeSize.
	TestingMode bool
}

// CachedDataset wraps a Source and memoizes the transformed Sample for each
// index on first read. Entries are never invalidated or evicted.
//
// CachedDataset is not safe for concurrent use.
type CachedDataset struct {
	src         Source
	transform   Transform
	device      Device
	testingMode bool

	// slots[i] is nil until index i is first read.
	slots  []*Sample
	filled int
}

var _ TensorDataset = (*CachedDataset)(nil)

// NewCachedDataset creates a CachedDataset over src.
func NewCachedDataset(src Source, opts CachedOptions) *CachedDataset {
	if opts.Transform == nil {
		opts.Transform = ScaleTransform(PixelScale)
	}
	ds := &CachedDataset{
		src:         src,
		transform:   opts.Transform,
		device:      opts.Device,
		testingMode: opts.TestingMode,
	}
	ds.slots = make([]*Sample, ds.Len())
	return ds
}

// Len returns TestingModeSize in testing mode and the source size otherwise.
func (c *CachedDataset) Len() int {
	if c.testingMode {
		return TestingModeSize
	}
	return c.src.Len()
}

// Device returns the placement chosen at construction.
func (c *CachedDataset) Device() Device { return c.device }

// Source returns the wrapped source.
func (c *CachedDataset) Source() Source { return c.src }

// Filled returns how many indices have been materialized so far.
func (c *CachedDataset) Filled() int { return c.filled }

// Get returns the transformed sample at index, computing it on first access only.
// Repeated reads return the same *Sample.
func (c *CachedDataset) Get(index int) (*Sample, error) {
	if index < 0 || index >= len(c.slots) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, dataset size %d", index, len(c.slots))
	}
	if s := c.slots[index]; s != nil {
		return s, nil
	}
	pixels, label, hasLabel, err := c.src.Item(index)
	if err != nil {
		return nil, err
	}
	s := &Sample{
		Features: c.transform(pixels),
		Label:    label,
		HasLabel: hasLabel,
	}
	if c.device == DeviceAccelerator {
		s.Tensor = tensors.FromFlatDataAndDimensions(s.Features, len(s.Features))
	}
	c.slots[index] = s
	c.filled++
	if c.filled == len(c.slots) {
		klog.V(1).Infof("cached dataset fully materialized: %d samples (~%s) on %s",
			c.filled, humanize.Bytes(uint64(c.filled*len(s.Features)*4)), c.device)
	}
	return s, nil
}

// Pixels returns the raw bytes of index i from the source, bypassing the cache.
func (c *CachedDataset) Pixels(i int) ([]byte, error) {
	if i < 0 || i >= len(c.slots) {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, dataset size %d", i, len(c.slots))
	}
	pixels, _, _, err := c.src.Item(i)
	return pixels, err
}

// Batch implements Dataset. Labels are -1 for unlabeled samples.
func (c *CachedDataset) Batch(indices []int) ([][]float32, []int, error) {
	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		s, err := c.Get(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = s.Features
		labels[i] = -1
		if s.HasLabel {
			labels[i] = s.Label
		}
	}
	return inputs, labels, nil
}

// Tensors reads a batch of examples and returns them as gomlx tensors shaped
// [len(indices), featureDim] and [len(indices)]. On DeviceAccelerator the
// batch is stacked from the per-sample tensors.
func (c *CachedDataset) Tensors(indices []int) (*tensors.Tensor, *tensors.Tensor, error) {
	if c.device == DeviceAccelerator {
		return c.stackTensors(indices)
	}
	inputs, labels, err := c.Batch(indices)
	if err != nil {
		return nil, nil, err
	}
	flat, err := MakeBatchFlat(inputs, labels)
	if err != nil {
		return nil, nil, err
	}
	return flat.ToGomlxTensors()
}

func (c *CachedDataset) stackTensors(indices []int) (*tensors.Tensor, *tensors.Tensor, error) {
	if len(indices) == 0 {
		return nil, nil, errors.New("cannot convert an empty batch to tensors")
	}
	var inputs []float32
	labels := make([]int32, len(indices))
	dim := 0
	for i, idx := range indices {
		s, err := c.Get(idx)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			dim = s.Tensor.Shape().Size()
			inputs = make([]float32, len(indices)*dim)
		} else if size := s.Tensor.Shape().Size(); size != dim {
			return nil, nil, errors.Errorf("inconsistent input dimensions at example %d: expected %d, got %d", i, dim, size)
		}
		tensors.ConstFlatData(s.Tensor, func(flat []float32) {
			copy(inputs[i*dim:], flat)
		})
		labels[i] = -1
		if s.HasLabel {
			labels[i] = int32(s.Label)
		}
	}
	return tensors.FromFlatDataAndDimensions(inputs, len(indices), dim),
		tensors.FromFlatDataAndDimensions(labels, len(indices)), nil
}
