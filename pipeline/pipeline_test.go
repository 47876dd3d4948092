package pipeline

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/mnistcluster/datasets"
	"github.com/Noofbiz/mnistcluster/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticDigits returns n 28x28 images in numClasses classes, each class
// lighting up its own horizontal band.
func syntheticDigits(t *testing.T, n, numClasses int, seed int64) *datasets.CachedDataset {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	images := make([][]byte, n)
	labels := make([]int, n)
	band := datasets.Height / numClasses
	for i := range images {
		label := i % numClasses
		img := make([]byte, datasets.ImageSize)
		for y := label * band; y < (label+1)*band; y++ {
			for x := 0; x < datasets.Width; x++ {
				img[y*datasets.Width+x] = byte(30 + rng.Intn(20))
			}
		}
		images[i] = img
		labels[i] = label
	}
	src, err := datasets.NewInMemory(images, labels)
	require.NoError(t, err)
	return datasets.NewCachedDataset(src, datasets.CachedOptions{})
}

func smallConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.PretrainEpochs = 1
	cfg.FinetuneEpochs = 1
	cfg.BatchSize = 32
	cfg.LearningRate = 0.01
	cfg.Dimensions = []int{datasets.ImageSize, 16, 3}
	cfg.NumClusters = 3
	cfg.NInit = 2
	cfg.Seed = 42
	cfg.Silent = true
	cfg.RunDir = filepath.Join(t.TempDir(), "run")
	cfg.OutputDir = t.TempDir()
	return cfg
}

func TestRunTestingMode(t *testing.T) {
	cfg := smallConfig(t)
	cfg.TestingMode = true
	images := make([][]byte, 150)
	labels := make([]int, 150)
	for i := range images {
		images[i] = make([]byte, datasets.ImageSize)
		images[i][i%datasets.ImageSize] = 40
		labels[i] = i % 3
	}
	src, err := datasets.NewInMemory(images, labels)
	require.NoError(t, err)
	train := datasets.NewCachedDataset(src, datasets.CachedOptions{TestingMode: true})
	require.Equal(t, datasets.TestingModeSize, train.Len())

	p, err := New(cfg, train, nil)
	require.NoError(t, err)
	res, err := p.Run()
	require.NoError(t, err)

	assert.Len(t, res.Predicted, datasets.TestingModeSize)
	assert.Len(t, res.Actual, datasets.TestingModeSize)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
	assert.Empty(t, res.ConfusionPath)
	assert.Empty(t, res.EmbeddingDir)

	matches, err := filepath.Glob(filepath.Join(cfg.OutputDir, "confusion_*.png"))
	require.NoError(t, err)
	assert.Empty(t, matches, "testing mode must not write a confusion heat map")
	_, err = os.Stat(filepath.Join(cfg.RunDir, report.ScalarsFile))
	assert.NoError(t, err, "scalars are logged even in testing mode")
}

func TestRunWritesOutputs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full pipeline outputs in short mode")
	}
	cfg := smallConfig(t)
	cfg.FinetuneEpochs = 2
	train := syntheticDigits(t, 60, 3, 1)
	validation := syntheticDigits(t, 30, 3, 2)

	p, err := New(cfg, train, validation)
	require.NoError(t, err)
	res, err := p.Run()
	require.NoError(t, err)

	assert.Len(t, res.ConfusionID, 32)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "confusion_"+res.ConfusionID+".png"), res.ConfusionPath)
	_, err = os.Stat(res.ConfusionPath)
	require.NoError(t, err)
	_, err = os.Stat(res.LossCurvePath)
	require.NoError(t, err)
	for _, name := range []string{report.EmbeddingTensorsFile, report.EmbeddingMetadataFile, report.EmbeddingSpriteFile} {
		_, err = os.Stat(filepath.Join(res.EmbeddingDir, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, cfg.RunDir, res.RunDir)
	rows, cols := res.Confusion.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	assert.Len(t, p.history, cfg.FinetuneEpochs)
	for _, h := range p.history {
		assert.GreaterOrEqual(t, h.ValidationLoss, 0.0)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	train := syntheticDigits(t, 10, 2, 1)
	cfg := smallConfig(t)
	cfg.BatchSize = 0
	_, err := New(cfg, train, nil)
	assert.Error(t, err)

	_, err = New(smallConfig(t), nil, nil)
	assert.Error(t, err)
}

func TestMergeJSONPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 64 // given on the command line
	explicit := map[string]bool{"batch_size": true}

	err := cfg.MergeJSON([]byte(`{
		"batch_size": 512,
		"pretrain_epochs": 10,
		"testing_mode": true,
		"dimensions": [784, 100, 10],
		"data_dir": "/tmp/mnist"
	}`), func(key string) bool { return explicit[key] })
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.BatchSize, "explicit flag wins over JSON")
	assert.Equal(t, 10, cfg.PretrainEpochs)
	assert.Equal(t, 500, cfg.FinetuneEpochs, "absent keys keep their value")
	assert.True(t, cfg.TestingMode)
	assert.Equal(t, []int{784, 100, 10}, cfg.Dimensions)
	assert.Equal(t, "/tmp/mnist", cfg.DataDir)

	assert.Error(t, cfg.MergeJSON([]byte(`{"batch_size": "many"}`), nil))
}

func TestLoadJSONAndRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	text, err := cfg.JSON()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	loaded := Config{}
	require.NoError(t, loaded.LoadJSON(path, nil))
	assert.Equal(t, cfg, loaded)

	assert.Error(t, loaded.LoadJSON(filepath.Join(t.TempDir(), "missing.json"), nil))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.Corruption = 1
	assert.Error(t, cfg.Validate())
	cfg = DefaultConfig()
	cfg.Dimensions = []int{784}
	assert.Error(t, cfg.Validate())
}
