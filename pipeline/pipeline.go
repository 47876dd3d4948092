// Package pipeline runs the full experiment: greedy layer-wise pretraining of
// a stacked denoising autoencoder, end-to-end finetuning, and k-means
// clustering of the learned embedding scored against the true labels.
package pipeline

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Noofbiz/mnistcluster/cluster"
	"github.com/Noofbiz/mnistcluster/datasets"
	"github.com/Noofbiz/mnistcluster/report"
	"github.com/Noofbiz/mnistcluster/sdae"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// EmbeddingTag names the embedding log of the clustered features.
const EmbeddingTag = "predicted"

// Result is the outcome of a Run.
type Result struct {
	// Accuracy is the best cluster accuracy over all cluster -> label mappings.
	Accuracy float64
	// Reassignment maps k-means cluster ids to labels.
	Reassignment map[int]int
	// Predicted holds the k-means cluster id of every training sample, Actual its label.
	Predicted []int
	Actual    []int
	// Confusion counts samples by (actual, reassigned predicted) label.
	Confusion *mat.Dense

	// ConfusionID and ConfusionPath are empty in testing mode.
	ConfusionID   string
	ConfusionPath string
	EmbeddingDir  string
	LossCurvePath string
	RunDir        string
}

// Pipeline holds the datasets, model and outputs of one run.
type Pipeline struct {
	Config     Config
	Train      *datasets.CachedDataset
	Validation *datasets.CachedDataset // optional
	Model      *sdae.StackedDenoisingAutoEncoder

	writer  *report.ScalarWriter
	history []report.LossPoint
	workers int
}

// New validates cfg and builds the (untrained) autoencoder. validation may be nil.
func New(cfg Config, train, validation *datasets.CachedDataset) (*Pipeline, error) {
	if train == nil {
		return nil, errors.New("training dataset is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
		if cfg.Accelerator {
			workers = runtime.NumCPU()
		}
	}
	model, err := sdae.NewStackedDenoisingAutoEncoder(sdae.Config{
		Dimensions:      cfg.Dimensions,
		FinalActivation: sdae.ActivationNone,
		Seed:            cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	klog.Infof("Autoencoder %v, seed=%d, workers=%d, accelerator=%v, testing_mode=%v",
		cfg.Dimensions, cfg.Seed, workers, cfg.Accelerator, cfg.TestingMode)
	return &Pipeline{
		Config:     cfg,
		Train:      train,
		Validation: validation,
		Model:      model,
		workers:    workers,
	}, nil
}

// Run executes pretraining, finetuning and evaluation in order. The scalar
// writer is always closed, even on error.
func (p *Pipeline) Run() (res *Result, err error) {
	p.writer, err = report.NewScalarWriter(p.Config.RunDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := p.writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	klog.Infof("Logging scalars to %s", p.writer.Dir())

	if err = p.Pretrain(); err != nil {
		return nil, errors.WithMessage(err, "pretraining")
	}
	if err = p.Finetune(); err != nil {
		return nil, errors.WithMessage(err, "finetuning")
	}
	res, err = p.Evaluate()
	if err != nil {
		return nil, errors.WithMessage(err, "evaluating")
	}
	res.RunDir = p.writer.Dir()
	return res, nil
}

func (p *Pipeline) validation() sdae.Dataset {
	if p.Validation == nil {
		return nil
	}
	return p.Validation
}

// Pretrain initializes the autoencoder layer by layer.
func (p *Pipeline) Pretrain() error {
	cfg := p.Config
	klog.Infof("Pretraining stage: %d epochs per layer, batch size %d", cfg.PretrainEpochs, cfg.BatchSize)
	return sdae.Pretrain(p.Train, p.Model, sdae.PretrainOptions{
		Epochs:     cfg.PretrainEpochs,
		BatchSize:  cfg.BatchSize,
		Corruption: cfg.Corruption,
		Optimizer:  sdae.SGDFactory(cfg.LearningRate, cfg.Momentum),
		Scheduler:  sdae.StepLRFactory(cfg.StepSize, cfg.Gamma),
		Validation: p.validation(),
		Callback: func(index, epoch int, lr, loss, validationLoss float64) {
			p.addScalars(fmt.Sprintf("data/pretrain_%d", index), epoch, lr, loss, validationLoss)
		},
		Workers: p.workers,
		Seed:    cfg.Seed + 1,
		Silent:  cfg.Silent,
	})
}

// Finetune trains the whole stack end to end and records the loss history.
func (p *Pipeline) Finetune() error {
	cfg := p.Config
	klog.Infof("Training stage: %d epochs, batch size %d", cfg.FinetuneEpochs, cfg.BatchSize)
	opt, err := sdae.NewSGD(p.Model.Network().Params(), cfg.LearningRate, cfg.Momentum)
	if err != nil {
		return err
	}
	sched, err := sdae.NewStepLR(opt, cfg.StepSize, cfg.Gamma)
	if err != nil {
		return err
	}
	p.history = p.history[:0]
	return sdae.Train(p.Train, p.Model, sdae.TrainOptions{
		Epochs:     cfg.FinetuneEpochs,
		BatchSize:  cfg.BatchSize,
		Corruption: cfg.Corruption,
		Optimizer:  opt,
		Scheduler:  sched,
		Validation: p.validation(),
		UpdateCallback: func(epoch int, lr, loss, validationLoss float64) {
			p.addScalars("data/autoencoder", epoch, lr, loss, validationLoss)
			p.history = append(p.history, report.LossPoint{
				Epoch: epoch, LearningRate: lr, Loss: loss, ValidationLoss: validationLoss,
			})
		},
		Workers: p.workers,
		Seed:    cfg.Seed + 2,
		Name:    "finetune",
		Silent:  cfg.Silent,
	})
}

func (p *Pipeline) addScalars(tag string, epoch int, lr, loss, validationLoss float64) {
	if p.writer == nil {
		return
	}
	err := p.writer.AddScalars(tag, map[string]float64{
		"lr":              lr,
		"loss":            loss,
		"validation_loss": validationLoss,
	}, epoch)
	if err != nil {
		klog.Warningf("failed to record scalars for %s epoch %d: %v", tag, epoch, err)
	}
}

// Evaluate encodes the training set, clusters the embedding with k-means and
// scores the clusters against the labels. Outside testing mode it also writes
// the confusion heat map, the finetune loss curve and the embedding log.
func (p *Pipeline) Evaluate() (*Result, error) {
	cfg := p.Config
	features, actual, err := sdae.Predict(p.Train, p.Model.Encoder, cfg.ClusterBatchSize)
	if err != nil {
		return nil, errors.WithMessage(err, "encoding training set")
	}
	predicted, err := cluster.KMeans{K: cfg.NumClusters, NInit: cfg.NInit, Seed: cfg.Seed + 3}.FitPredict(features)
	if err != nil {
		return nil, errors.WithMessage(err, "k-means")
	}
	reassignment, accuracy, err := cluster.Accuracy(actual, predicted)
	if err != nil {
		return nil, err
	}
	klog.Infof("Final accuracy: %.4f", accuracy)

	reassigned := cluster.Reassign(predicted, reassignment)
	n := cfg.NumClusters
	for i := range actual {
		n = max(n, actual[i]+1, reassigned[i]+1)
	}
	confusion, err := cluster.ConfusionMatrix(actual, reassigned, n)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Accuracy:     accuracy,
		Reassignment: reassignment,
		Predicted:    predicted,
		Actual:       actual,
		Confusion:    confusion,
	}
	if cfg.TestingMode {
		return res, nil
	}

	runDir := cfg.RunDir
	if p.writer != nil {
		runDir = p.writer.Dir()
	} else if runDir == "" {
		runDir = report.DefaultRunDir()
	}

	id := uuid.New()
	res.ConfusionID = hex.EncodeToString(id[:])
	res.ConfusionPath = filepath.Join(cfg.OutputDir, report.ConfusionFilename(res.ConfusionID))
	if err := report.SaveConfusionHeatmap(res.ConfusionPath, cluster.NormalizeRows(confusion)); err != nil {
		return nil, err
	}
	klog.Infof("Confusion matrix written to %s", res.ConfusionPath)

	if len(p.history) > 0 {
		res.LossCurvePath = filepath.Join(runDir, "finetune_loss.png")
		if err := report.SaveLossCurve(res.LossCurvePath, "autoencoder finetuning", p.history); err != nil {
			return nil, err
		}
	}

	images := make([][]byte, p.Train.Len())
	for i := range images {
		if images[i], err = p.Train.Pixels(i); err != nil {
			return nil, err
		}
	}
	res.EmbeddingDir, err = report.WriteEmbedding(runDir, report.Embedding{
		Tag:      EmbeddingTag,
		Features: features,
		Labels:   predicted,
		Images:   images,
		Width:    datasets.Width,
		Height:   datasets.Height,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
