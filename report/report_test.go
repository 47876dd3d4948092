package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestScalarWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	w, err := NewScalarWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())

	require.NoError(t, w.AddScalars("data/autoencoder", map[string]float64{
		"lr": 0.1, "loss": 0.5, "validation_loss": -1,
	}, 0))
	require.NoError(t, w.AddScalars("data/autoencoder", map[string]float64{"loss": 0.25}, 1))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, ScalarsFile))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"wall_time", "tag", "name", "step", "value"}, records[0])
	// Names within a call are sorted.
	assert.Equal(t, []string{"loss", "lr", "validation_loss"}, []string{records[1][2], records[2][2], records[3][2]})
	assert.Equal(t, "-1", records[3][4])
	assert.Equal(t, []string{"data/autoencoder", "loss", "1", "0.25"}, records[4][1:])

	// Reopening appends without repeating the header.
	w, err = NewScalarWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.AddScalars("x", map[string]float64{"y": 1}, 2))
	require.NoError(t, w.Close())
	data, err := os.ReadFile(filepath.Join(dir, ScalarsFile))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "wall_time"))
}

func TestDefaultRunDir(t *testing.T) {
	dir := DefaultRunDir()
	assert.Equal(t, "runs", filepath.Dir(dir))
	assert.Contains(t, filepath.Base(dir), "_")
}

func TestSaveConfusionHeatmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", ConfusionFilename("abc123"))
	m := mat.NewDense(3, 3, []float64{
		0.9, 0.1, 0,
		0, 1, 0,
		0.2, 0.3, 0.5,
	})
	require.NoError(t, SaveConfusionHeatmap(path, m))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, "confusion_abc123.png", filepath.Base(path))

	assert.Error(t, SaveConfusionHeatmap(path, &mat.Dense{}))
}

func TestSaveLossCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")
	history := []LossPoint{
		{Epoch: 0, LearningRate: 0.1, Loss: 1, ValidationLoss: 1.1},
		{Epoch: 1, LearningRate: 0.1, Loss: 0.5, ValidationLoss: 0.6},
		{Epoch: 2, LearningRate: 0.01, Loss: 0.4, ValidationLoss: 0.55},
	}
	require.NoError(t, SaveLossCurve(path, "finetune", history))
	_, err := os.Stat(path)
	require.NoError(t, err)

	// No validation set.
	history = []LossPoint{{Epoch: 0, Loss: 1, ValidationLoss: -1}, {Epoch: 1, Loss: 0.8, ValidationLoss: -1}}
	require.NoError(t, SaveLossCurve(path, "finetune", history))
	assert.Error(t, SaveLossCurve(path, "empty", nil))
}

func TestWriteEmbedding(t *testing.T) {
	runDir := t.TempDir()
	features := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	images := [][]byte{make([]byte, 4), make([]byte, 4), {255, 255, 255, 255}}
	dir, err := WriteEmbedding(runDir, Embedding{
		Tag: "predicted", Features: features, Labels: []int{7, 1, 7},
		Images: images, Width: 2, Height: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runDir, "00000", "predicted"), dir)

	tsv, err := os.ReadFile(filepath.Join(dir, EmbeddingTensorsFile))
	require.NoError(t, err)
	assert.Equal(t, "1\t2\n3\t4\n5\t6\n", string(tsv))
	meta, err := os.ReadFile(filepath.Join(dir, EmbeddingMetadataFile))
	require.NoError(t, err)
	assert.Equal(t, "7\n1\n7\n", string(meta))

	loaded, err := tensors.Load(filepath.Join(dir, EmbeddingFeaturesFile))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, loaded.Shape().Dimensions)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, loaded.Value())

	_, err = os.Stat(filepath.Join(dir, EmbeddingSpriteFile))
	require.NoError(t, err)
	cfg, err := os.ReadFile(filepath.Join(runDir, ProjectorConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), `tensor_path: "00000/predicted/tensors.tsv"`)
	assert.Contains(t, string(cfg), "single_image_dim: 2")

	_, err = WriteEmbedding(runDir, Embedding{Tag: "bad", Features: features, Labels: []int{1}})
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	confusion := mat.NewDense(2, 2, []float64{3, 1, 0, 4})
	out := Summary(0.875, map[int]int{1: 0, 0: 1}, confusion)
	assert.Contains(t, out, "Final accuracy: 0.8750")
	assert.Contains(t, out, "cluster")
	assert.Contains(t, out, "actual\\pred")
}
