package sdae

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PretrainOptions configures Pretrain.
type PretrainOptions struct {
	// Epochs per sub-autoencoder.
	Epochs    int
	BatchSize int

	// Corruption is the dropout probability on the hidden units of each
	// sub-autoencoder while it is trained.
	Corruption float64

	Optimizer OptimizerFactory
	Scheduler SchedulerFactory // optional

	Validation Dataset // optional

	// Callback, if set, receives the per-epoch updates of every sub-autoencoder.
	Callback func(index, epoch int, lr, loss, validationLoss float64)

	Workers int
	Seed    int64
	Silent  bool
}

// Pretrain initializes the stack greedily: for each pair of consecutive
// dimensions a DenoisingAutoencoder is trained on the current dataset, its
// weights are copied into the stack, and the dataset is re-encoded through it
// to feed the next one.
func Pretrain(ds Dataset, model *StackedDenoisingAutoEncoder, opts PretrainOptions) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	if opts.Optimizer == nil {
		return errors.New("no optimizer factory given")
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	current := ds
	currentValidation := opts.Validation
	numSubAutoencoders := len(model.Encoder)
	for index := 0; index < numSubAutoencoders; index++ {
		encoder, decoder, err := model.Stack(index)
		if err != nil {
			return err
		}
		act := ActivationReLU
		if index == numSubAutoencoders-1 {
			act = ActivationNone
		}
		dae := NewDenoisingAutoencoder(encoder.In, encoder.Out, act, opts.Corruption, rng)

		opt, err := opts.Optimizer(dae.Network().Params())
		if err != nil {
			return err
		}
		var sched *StepLR
		if opts.Scheduler != nil {
			if sched, err = opts.Scheduler(opt); err != nil {
				return err
			}
		}

		klog.Infof("Pretraining sub-autoencoder %d/%d [%d -> %d]", index+1, numSubAutoencoders, encoder.In, encoder.Out)
		var callback UpdateCallback
		if opts.Callback != nil {
			callback = func(epoch int, lr, loss, validationLoss float64) {
				opts.Callback(index, epoch, lr, loss, validationLoss)
			}
		}
		err = Train(current, dae, TrainOptions{
			Epochs:         opts.Epochs,
			BatchSize:      opts.BatchSize,
			Optimizer:      opt,
			Scheduler:      sched,
			Validation:     currentValidation,
			UpdateCallback: callback,
			Workers:        opts.Workers,
			Seed:           rng.Int63(),
			Name:           fmt.Sprintf("pretrain %d", index),
			Silent:         opts.Silent,
		})
		if err != nil {
			return errors.WithMessagef(err, "pretraining sub-autoencoder %d", index)
		}
		if err := dae.CopyWeights(encoder, decoder); err != nil {
			return err
		}

		if index == numSubAutoencoders-1 {
			break
		}
		encoderOnly := Network{dae.Encoder}
		if current, err = encodeDataset(current, encoderOnly, opts.BatchSize); err != nil {
			return errors.WithMessagef(err, "encoding dataset through sub-autoencoder %d", index)
		}
		if currentValidation != nil {
			if currentValidation, err = encodeDataset(currentValidation, encoderOnly, opts.BatchSize); err != nil {
				return errors.WithMessagef(err, "encoding validation through sub-autoencoder %d", index)
			}
		}
	}
	return nil
}
