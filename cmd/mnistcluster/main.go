// mnistcluster pretrains and finetunes a stacked denoising autoencoder on
// MNIST, clusters the learned embedding with k-means and reports the cluster
// accuracy against the digit labels.
package main

import (
	"flag"
	"fmt"

	"github.com/Noofbiz/mnistcluster/datasets"
	"github.com/Noofbiz/mnistcluster/pipeline"
	"github.com/Noofbiz/mnistcluster/report"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagAccelerator    = flag.Bool("accelerator", false, "whether to use the accelerator device for samples and parallel gradient workers")
	flagBatchSize      = flag.Int("batch-size", 256, "training batch size")
	flagPretrainEpochs = flag.Int("pretrain-epochs", 300, "number of pretraining epochs per layer")
	flagFinetuneEpochs = flag.Int("finetune-epochs", 500, "number of finetune epochs")
	flagTestingMode    = flag.Bool("testing-mode", false, "whether to run in testing mode: 128 samples per dataset, no plots or embeddings")

	flagDataDir   = flag.String("data-dir", "./data", "directory holding (or receiving) the MNIST files; \"~\" is expanded")
	flagDownload  = flag.Bool("download", true, "download the MNIST files into -data-dir if missing")
	flagRunDir    = flag.String("run-dir", "", "directory for scalars and embeddings (default runs/<date>_<host>)")
	flagOutDir    = flag.String("out", ".", "output directory for the confusion matrix heat map")
	flagSeed      = flag.Int64("seed", 0, "random seed, 0 for a time-based seed")
	flagWorkers   = flag.Int("workers", 0, "gradient workers per batch (0 = NumCPU with -accelerator, else 1)")
	flagSilent    = flag.Bool("silent", false, "disable per-epoch progress bars")
	flagConfig    = flag.String("config", "", "optional JSON file with tunables; flags given explicitly override it")
	flagPrintConf = flag.Bool("print-effective-config", false, "print the effective (JSON+CLI merged) configuration and exit")
)

// flagKeys maps command line flags to their JSON config keys.
var flagKeys = map[string]string{
	"accelerator":     "accelerator",
	"batch-size":      "batch_size",
	"pretrain-epochs": "pretrain_epochs",
	"finetune-epochs": "finetune_epochs",
	"testing-mode":    "testing_mode",
	"data-dir":        "data_dir",
	"run-dir":         "run_dir",
	"out":             "output_dir",
	"seed":            "seed",
	"workers":         "workers",
	"silent":          "silent",
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	err := exceptions.TryCatch[error](run)
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

func configFromFlags() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Accelerator = *flagAccelerator
	cfg.BatchSize = *flagBatchSize
	cfg.PretrainEpochs = *flagPretrainEpochs
	cfg.FinetuneEpochs = *flagFinetuneEpochs
	cfg.TestingMode = *flagTestingMode
	cfg.DataDir = *flagDataDir
	cfg.RunDir = *flagRunDir
	cfg.OutputDir = *flagOutDir
	cfg.Seed = *flagSeed
	cfg.Workers = *flagWorkers
	cfg.Silent = *flagSilent
	if *flagConfig != "" {
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				explicit[key] = true
			}
		})
		must.M(cfg.LoadJSON(*flagConfig, func(key string) bool { return explicit[key] }))
		klog.Infof("Loaded tunables from %s", *flagConfig)
	}
	return cfg
}

func run() {
	cfg := configFromFlags()
	if *flagPrintConf {
		fmt.Println(must.M1(cfg.JSON()))
		return
	}

	if *flagDownload {
		must.M(datasets.Download(cfg.DataDir))
	}
	opts := datasets.CachedOptions{Device: datasets.DeviceCPU, TestingMode: cfg.TestingMode}
	if cfg.Accelerator {
		opts.Device = datasets.DeviceAccelerator
	}
	train := datasets.NewCachedDataset(must.M1(datasets.NewMNIST(cfg.DataDir, true)), opts)
	validation := datasets.NewCachedDataset(must.M1(datasets.NewMNIST(cfg.DataDir, false)), opts)
	klog.Infof("MNIST: %d training and %d validation samples on %s", train.Len(), validation.Len(), opts.Device)

	p := must.M1(pipeline.New(cfg, train, validation))
	res := must.M1(p.Run())
	fmt.Print(report.Summary(res.Accuracy, res.Reassignment, res.Confusion))
	if res.ConfusionPath != "" {
		klog.Infof("Confusion matrix: %s, embedding: %s", res.ConfusionPath, res.EmbeddingDir)
	}
}
