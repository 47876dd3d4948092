// Package datasets provides the MNIST data used by the clustering pipeline.
//
// Layout and intended usage:
//
// Source
//   - Anything that can hand out raw image bytes by index: the decoded MNIST
//     IDX files (MNIST) or an in-memory set of images (InMemory).
//
// CachedDataset
//   - Wraps a Source, applies a fixed per-item transform (bytes * 0.02) and
//     memoizes the transformed Sample per index after first access.
//   - Implements Dataset so it can be fed to the sdae trainers.
//
// Converting batches into gomlx tensors is done by Tensors / ToGomlxTensors.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Source is a labeled (or unlabeled) collection of raw images.
type Source interface {
	Len() int
	// Item returns the raw pixel bytes of image i and, if available, its label.
	Item(i int) (pixels []byte, label int, hasLabel bool, err error)
}

// Dataset is what the trainers and the orchestrator consume.
type Dataset interface {
	Len() int
	Batch(indices []int) (inputs [][]float32, labels []int, err error)
}

// TensorDataset is a Dataset that can also materialize batches as gomlx tensors.
type TensorDataset interface {
	Dataset
	Tensors(indices []int) (inputs *tensors.Tensor, labels *tensors.Tensor, err error)
}
