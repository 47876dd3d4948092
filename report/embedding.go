package report

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Files written per embedding, under <run dir>/<step>/<tag>/.
const (
	EmbeddingTensorsFile  = "tensors.tsv"
	EmbeddingMetadataFile = "metadata.tsv"
	EmbeddingFeaturesFile = "features.bin"
	EmbeddingSpriteFile   = "sprite.png"
	ProjectorConfigFile   = "projector_config.pbtxt"
)

// Embedding is one set of feature vectors to log with their labels and,
// optionally, the grayscale thumbnails they came from.
type Embedding struct {
	Tag      string
	Step     int
	Features *mat.Dense
	Labels   []int
	// Images holds Width*Height grayscale pixels per row of Features. May be nil.
	Images        [][]byte
	Width, Height int
}

// WriteEmbedding writes e into runDir in the layout read by the TensorBoard
// projector, plus the features as a gomlx tensor file. It returns the
// directory the embedding was written to.
func WriteEmbedding(runDir string, e Embedding) (string, error) {
	n, d := e.Features.Dims()
	if len(e.Labels) != n {
		return "", errors.Errorf("embedding %q has %d rows but %d labels", e.Tag, n, len(e.Labels))
	}
	if e.Images != nil && len(e.Images) != n {
		return "", errors.Errorf("embedding %q has %d rows but %d images", e.Tag, n, len(e.Images))
	}
	rel := filepath.Join(fmt.Sprintf("%05d", e.Step), e.Tag)
	dir := filepath.Join(runDir, rel)
	if err := ensureDir(dir); err != nil {
		return "", err
	}

	flat := make([]float32, 0, n*d)
	for i := 0; i < n; i++ {
		for _, v := range e.Features.RawRowView(i) {
			flat = append(flat, float32(v))
		}
	}
	if err := writeLines(filepath.Join(dir, EmbeddingTensorsFile), n, func(i int) string {
		row := flat[i*d : (i+1)*d]
		cols := make([]string, d)
		for j, v := range row {
			cols[j] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		return strings.Join(cols, "\t")
	}); err != nil {
		return "", err
	}
	if err := writeLines(filepath.Join(dir, EmbeddingMetadataFile), n, func(i int) string {
		return strconv.Itoa(e.Labels[i])
	}); err != nil {
		return "", err
	}

	features := tensors.FromFlatDataAndDimensions(flat, n, d)
	featuresPath := filepath.Join(dir, EmbeddingFeaturesFile)
	if err := features.Save(featuresPath); err != nil {
		return "", errors.Wrapf(err, "save %s", featuresPath)
	}

	hasSprite := e.Images != nil && n > 0
	if hasSprite {
		if err := saveSprite(filepath.Join(dir, EmbeddingSpriteFile), e.Images, e.Width, e.Height); err != nil {
			return "", err
		}
	}
	if err := appendProjectorConfig(runDir, rel, e, hasSprite); err != nil {
		return "", err
	}
	klog.V(1).Infof("embedding %q: %d x %d (%s of features) written to %s",
		e.Tag, n, d, humanize.Bytes(uint64(4*n*d)), dir)
	return dir, nil
}

func writeLines(path string, n int, line func(i int) string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)
	for i := 0; i < n; i++ {
		if _, err := w.WriteString(line(i) + "\n"); err != nil {
			f.Close()
			return errors.Wrapf(err, "write %s", path)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// saveSprite tiles the thumbnails row-major into a square grid.
func saveSprite(path string, images [][]byte, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid thumbnail size %dx%d", width, height)
	}
	side := int(math.Ceil(math.Sqrt(float64(len(images)))))
	sprite := imaging.New(side*width, side*height, color.Black)
	for i, pixels := range images {
		if len(pixels) != width*height {
			return errors.Errorf("thumbnail %d has %d pixels, want %d", i, len(pixels), width*height)
		}
		thumb := &image.Gray{Pix: pixels, Stride: width, Rect: image.Rect(0, 0, width, height)}
		sprite = imaging.Paste(sprite, thumb, image.Pt((i%side)*width, (i/side)*height))
	}
	return errors.Wrapf(imaging.Save(sprite, path), "save sprite %s", path)
}

func appendProjectorConfig(runDir, rel string, e Embedding, hasSprite bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "embeddings {\n")
	fmt.Fprintf(&b, "  tensor_name: %q\n", fmt.Sprintf("%s:%05d", e.Tag, e.Step))
	fmt.Fprintf(&b, "  tensor_path: %q\n", filepath.ToSlash(filepath.Join(rel, EmbeddingTensorsFile)))
	fmt.Fprintf(&b, "  metadata_path: %q\n", filepath.ToSlash(filepath.Join(rel, EmbeddingMetadataFile)))
	if hasSprite {
		fmt.Fprintf(&b, "  sprite {\n")
		fmt.Fprintf(&b, "    image_path: %q\n", filepath.ToSlash(filepath.Join(rel, EmbeddingSpriteFile)))
		fmt.Fprintf(&b, "    single_image_dim: %d\n", e.Width)
		fmt.Fprintf(&b, "    single_image_dim: %d\n", e.Height)
		fmt.Fprintf(&b, "  }\n")
	}
	fmt.Fprintf(&b, "}\n")

	path := filepath.Join(runDir, ProjectorConfigFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
