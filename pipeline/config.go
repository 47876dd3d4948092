package pipeline

import (
	"encoding/json"
	"os"

	"github.com/Noofbiz/mnistcluster/sdae"
	"github.com/pkg/errors"
)

// Config holds every tunable of a run. DefaultConfig returns the values used
// for the published MNIST results.
type Config struct {
	// Accelerator places every cached sample on the accelerator device as a
	// tensor and shards gradient computation across Workers goroutines.
	Accelerator bool `json:"accelerator"`
	// TestingMode restricts every dataset to its first 128 samples and skips
	// the confusion heat map, loss curve and embedding outputs.
	TestingMode bool `json:"testing_mode"`

	BatchSize      int `json:"batch_size"`
	PretrainEpochs int `json:"pretrain_epochs"`
	FinetuneEpochs int `json:"finetune_epochs"`

	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
	StepSize     int     `json:"step_size"`
	Gamma        float64 `json:"gamma"`
	Corruption   float64 `json:"corruption"`

	Dimensions       []int `json:"dimensions"`
	NumClusters      int   `json:"num_clusters"`
	NInit            int   `json:"n_init"`
	ClusterBatchSize int   `json:"cluster_batch_size"`

	DataDir   string `json:"data_dir"`
	RunDir    string `json:"run_dir"`
	OutputDir string `json:"output_dir"`

	Seed    int64 `json:"seed"`
	Workers int   `json:"workers"`
	Silent  bool  `json:"silent"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:        256,
		PretrainEpochs:   300,
		FinetuneEpochs:   500,
		LearningRate:     0.1,
		Momentum:         0.9,
		StepSize:         100,
		Gamma:            0.1,
		Corruption:       0.2,
		Dimensions:       append([]int(nil), sdae.DefaultDimensions...),
		NumClusters:      10,
		NInit:            20,
		ClusterBatchSize: 1024,
		DataDir:          "./data",
		OutputDir:        ".",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.PretrainEpochs < 0 || c.FinetuneEpochs < 0:
		return errors.Errorf("epochs must be non-negative, got pretrain=%d finetune=%d", c.PretrainEpochs, c.FinetuneEpochs)
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.StepSize <= 0:
		return errors.Errorf("step_size must be positive, got %d", c.StepSize)
	case c.Corruption < 0 || c.Corruption >= 1:
		return errors.Errorf("corruption must be in [0, 1), got %g", c.Corruption)
	case len(c.Dimensions) < 2:
		return errors.Errorf("dimensions needs at least input and embedding sizes, got %v", c.Dimensions)
	case c.NumClusters <= 0:
		return errors.Errorf("num_clusters must be positive, got %d", c.NumClusters)
	case c.ClusterBatchSize <= 0:
		return errors.Errorf("cluster_batch_size must be positive, got %d", c.ClusterBatchSize)
	}
	return nil
}

// rawConfig mirrors Config with pointer fields, so a JSON file only
// overrides what it names.
type rawConfig struct {
	Accelerator      *bool    `json:"accelerator"`
	TestingMode      *bool    `json:"testing_mode"`
	BatchSize        *int     `json:"batch_size"`
	PretrainEpochs   *int     `json:"pretrain_epochs"`
	FinetuneEpochs   *int     `json:"finetune_epochs"`
	LearningRate     *float64 `json:"learning_rate"`
	Momentum         *float64 `json:"momentum"`
	StepSize         *int     `json:"step_size"`
	Gamma            *float64 `json:"gamma"`
	Corruption       *float64 `json:"corruption"`
	Dimensions       []int    `json:"dimensions"`
	NumClusters      *int     `json:"num_clusters"`
	NInit            *int     `json:"n_init"`
	ClusterBatchSize *int     `json:"cluster_batch_size"`
	DataDir          *string  `json:"data_dir"`
	RunDir           *string  `json:"run_dir"`
	OutputDir        *string  `json:"output_dir"`
	Seed             *int64   `json:"seed"`
	Workers          *int     `json:"workers"`
	Silent           *bool    `json:"silent"`
}

// MergeJSON applies the values present in the JSON document data onto c.
// Keys for which explicit returns true (flags given on the command line) keep
// their current value. A nil explicit means nothing was set explicitly.
func (c *Config) MergeJSON(data []byte, explicit func(key string) bool) error {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "parsing config")
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	setBool := func(key string, dst *bool, v *bool) {
		if v != nil && !explicit(key) {
			*dst = *v
		}
	}
	setInt := func(key string, dst *int, v *int) {
		if v != nil && !explicit(key) {
			*dst = *v
		}
	}
	setFloat := func(key string, dst *float64, v *float64) {
		if v != nil && !explicit(key) {
			*dst = *v
		}
	}
	setString := func(key string, dst *string, v *string) {
		if v != nil && !explicit(key) {
			*dst = *v
		}
	}
	setBool("accelerator", &c.Accelerator, raw.Accelerator)
	setBool("testing_mode", &c.TestingMode, raw.TestingMode)
	setInt("batch_size", &c.BatchSize, raw.BatchSize)
	setInt("pretrain_epochs", &c.PretrainEpochs, raw.PretrainEpochs)
	setInt("finetune_epochs", &c.FinetuneEpochs, raw.FinetuneEpochs)
	setFloat("learning_rate", &c.LearningRate, raw.LearningRate)
	setFloat("momentum", &c.Momentum, raw.Momentum)
	setInt("step_size", &c.StepSize, raw.StepSize)
	setFloat("gamma", &c.Gamma, raw.Gamma)
	setFloat("corruption", &c.Corruption, raw.Corruption)
	if raw.Dimensions != nil && !explicit("dimensions") {
		c.Dimensions = raw.Dimensions
	}
	setInt("num_clusters", &c.NumClusters, raw.NumClusters)
	setInt("n_init", &c.NInit, raw.NInit)
	setInt("cluster_batch_size", &c.ClusterBatchSize, raw.ClusterBatchSize)
	setString("data_dir", &c.DataDir, raw.DataDir)
	setString("run_dir", &c.RunDir, raw.RunDir)
	setString("output_dir", &c.OutputDir, raw.OutputDir)
	if raw.Seed != nil && !explicit("seed") {
		c.Seed = *raw.Seed
	}
	setInt("workers", &c.Workers, raw.Workers)
	setBool("silent", &c.Silent, raw.Silent)
	return nil
}

// LoadJSON reads path and merges it into c, see MergeJSON.
func (c *Config) LoadJSON(path string, explicit func(key string) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading config %s", path)
	}
	return errors.WithMessagef(c.MergeJSON(data, explicit), "config %s", path)
}

// JSON returns the indented JSON encoding of c.
func (c *Config) JSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding config")
	}
	return string(data), nil
}
