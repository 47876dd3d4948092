package sdae

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Dataset is the minimal interface the trainers need. It matches
// datasets.CachedDataset without importing it.
type Dataset interface {
	Len() int
	// Batch returns the feature vectors (and labels, ignored here) for the given indices.
	Batch(indices []int) ([][]float32, []int, error)
}

// UpdateCallback is invoked once per epoch with the epoch index, the learning
// rate used for it, the mean training loss and the validation loss (-1 when
// there is no validation set). The training loss is averaged over every batch
// of the epoch, weighted by batch size, rather than taken from the last batch.
// Each batch loss is measured before that batch's update.
type UpdateCallback func(epoch int, lr, loss, validationLoss float64)

// TrainOptions configures Train.
type TrainOptions struct {
	Epochs    int
	BatchSize int

	// Corruption is the probability of zeroing each input value (inverted
	// dropout) before the forward pass. The loss is always against the clean input.
	Corruption float64

	Optimizer *SGD
	Scheduler *StepLR // optional, stepped at the start of each epoch

	Validation     Dataset // optional
	UpdateCallback UpdateCallback
	EpochCallback  func(epoch int, model Model)

	// Workers > 1 splits the gradient computation of each batch across goroutines.
	Workers int

	// Seed for shuffling and corruption. If zero, a time-based seed is used.
	Seed int64

	// Name prefixes progress bars and logs.
	Name   string
	Silent bool
}

// Train trains model end-to-end to reconstruct its inputs with a mean squared
// error loss.
func Train(ds Dataset, model Model, opts TrainOptions) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return errors.New("dataset has no examples")
	}
	if opts.Optimizer == nil {
		return errors.New("no optimizer given")
	}
	if opts.BatchSize <= 0 {
		return errors.Errorf("invalid batch size %d", opts.BatchSize)
	}
	if opts.Corruption < 0 || opts.Corruption >= 1 {
		return errors.Errorf("corruption must be in [0, 1), got %g", opts.Corruption)
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Name == "" {
		opts.Name = "train"
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	net := model.Network()
	numBatches := (n + opts.BatchSize - 1) / opts.BatchSize

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if opts.Scheduler != nil {
			opts.Scheduler.Step()
		}
		lr := opts.Optimizer.LearningRate
		perm := rng.Perm(n)

		var bar *progressbar.ProgressBar
		if !opts.Silent {
			bar = progressbar.NewOptions(numBatches,
				progressbar.OptionSetDescription(fmt.Sprintf("%s epoch %d/%d", opts.Name, epoch+1, opts.Epochs)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish())
		}

		var lossSum float64
		for start := 0; start < n; start += opts.BatchSize {
			end := min(start+opts.BatchSize, n)
			inputs, _, err := ds.Batch(perm[start:end])
			if err != nil {
				return errors.WithMessagef(err, "reading batch [%d, %d)", start, end)
			}
			x, err := toDense(inputs)
			if err != nil {
				return err
			}
			loss, err := trainStep(net, opts.Optimizer, x, opts.Corruption, opts.Workers, rng)
			if err != nil {
				return err
			}
			lossSum += loss * float64(end-start)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		loss := lossSum / float64(n)

		validationLoss := -1.0
		if opts.Validation != nil && opts.Validation.Len() > 0 {
			var err error
			validationLoss, err = Evaluate(opts.Validation, net, opts.BatchSize)
			if err != nil {
				return errors.WithMessage(err, "validation")
			}
		}
		klog.V(1).Infof("%s epoch=%d lr=%g loss=%.6f validation_loss=%.6f", opts.Name, epoch, lr, loss, validationLoss)
		if opts.UpdateCallback != nil {
			opts.UpdateCallback(epoch, lr, loss, validationLoss)
		}
		if opts.EpochCallback != nil {
			opts.EpochCallback(epoch, model)
		}
	}
	return nil
}

// trainStep runs forward/backward over x and applies one optimizer step. It
// returns the batch mean loss.
func trainStep(net Network, opt *SGD, x *mat.Dense, corruption float64, workers int, rng *rand.Rand) (float64, error) {
	rows, cols := x.Dims()
	denominator := float64(rows * cols)
	if workers < 1 {
		workers = 1
	}
	shards := min(workers, rows)
	seeds := make([]int64, shards)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	grads := make([]*gradients, shards)
	losses := make([]float64, shards)
	var g errgroup.Group
	for s := range shards {
		r0, r1 := s*rows/shards, (s+1)*rows/shards
		g.Go(func() error {
			shardRng := rand.New(rand.NewSource(seeds[s]))
			target := x.Slice(r0, r1, 0, cols).(*mat.Dense)
			input := target
			if corruption > 0 {
				input = mat.DenseCopyOf(target)
				raw := input.RawMatrix()
				mask := dropoutMask(len(raw.Data), corruption, shardRng)
				for i := range raw.Data {
					raw.Data[i] *= mask[i]
				}
			}
			out, caches, err := net.forward(input, true, shardRng)
			if err != nil {
				return err
			}
			loss, dOut, err := mseLoss(out, target, denominator)
			if err != nil {
				return err
			}
			grads[s] = net.newGradients()
			net.backward(caches, dOut, grads[s])
			losses[s] = loss
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	opt.ZeroGrad()
	var loss float64
	for s := range shards {
		net.accumulate(grads[s])
		loss += losses[s]
	}
	opt.Step()
	return loss, nil
}

// Evaluate returns the mean squared reconstruction error of net over ds, without corruption.
func Evaluate(ds Dataset, net Network, batchSize int) (float64, error) {
	n := ds.Len()
	if batchSize <= 0 {
		batchSize = n
	}
	var sum float64
	var count int
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		inputs, _, err := ds.Batch(rangeIndices(start, end))
		if err != nil {
			return 0, err
		}
		x, err := toDense(inputs)
		if err != nil {
			return 0, err
		}
		out, err := net.Infer(x)
		if err != nil {
			return 0, err
		}
		r, c := x.Dims()
		loss, _, err := mseLoss(out, x, 1)
		if err != nil {
			return 0, err
		}
		sum += loss
		count += r * c
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

// Predict runs net over ds in order (no shuffling) and returns the outputs
// stacked as [ds.Len(), outDim] together with the dataset labels.
func Predict(ds Dataset, net Network, batchSize int) (*mat.Dense, []int, error) {
	n := ds.Len()
	if n == 0 {
		return nil, nil, errors.New("dataset has no examples")
	}
	if batchSize <= 0 {
		return nil, nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	var result *mat.Dense
	labels := make([]int, 0, n)
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		inputs, batchLabels, err := ds.Batch(rangeIndices(start, end))
		if err != nil {
			return nil, nil, err
		}
		x, err := toDense(inputs)
		if err != nil {
			return nil, nil, err
		}
		out, err := net.Infer(x)
		if err != nil {
			return nil, nil, err
		}
		if result == nil {
			_, outDim := out.Dims()
			result = mat.NewDense(n, outDim, nil)
		}
		_, outDim := out.Dims()
		result.Slice(start, end, 0, outDim).(*mat.Dense).Copy(out)
		labels = append(labels, batchLabels...)
	}
	return result, labels, nil
}

func rangeIndices(start, end int) []int {
	indices := make([]int, end-start)
	for i := range indices {
		indices[i] = start + i
	}
	return indices
}

// featureDataset is an in-memory Dataset over already encoded features.
type featureDataset struct {
	rows   [][]float32
	labels []int
}

func (f *featureDataset) Len() int { return len(f.rows) }

func (f *featureDataset) Batch(indices []int) ([][]float32, []int, error) {
	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(f.rows) {
			return nil, nil, errors.Errorf("batch index %d out of range [0, %d)", idx, len(f.rows))
		}
		inputs[i] = f.rows[idx]
		labels[i] = f.labels[idx]
	}
	return inputs, labels, nil
}

// encodeDataset runs net over ds and wraps the outputs as the next dataset.
func encodeDataset(ds Dataset, net Network, batchSize int) (Dataset, error) {
	out, labels, err := Predict(ds, net, batchSize)
	if err != nil {
		return nil, err
	}
	return &featureDataset{rows: fromDense(out), labels: labels}, nil
}
