package datasets

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

const (
	// DownloadURL is where the gzipped IDX files are fetched from.
	DownloadURL = "https://storage.googleapis.com/cvdf-datasets/mnist"

	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	Width      = 28
	Height     = 28
	ImageSize  = Width * Height
	NumClasses = 10

	imageMagic = 0x00000803
	labelMagic = 0x00000801
)

type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

type labelFileHeader struct {
	Magic     int32
	NumLabels int32
}

// MNIST holds one split (train or test) of the MNIST digits fully decoded in memory.
type MNIST struct {
	Train  bool
	images [][]byte
	labels []uint8
}

var _ Source = (*MNIST)(nil)

// Download fetches the four MNIST files into dir, skipping files already present.
func Download(dir string) error {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	for _, name := range []string{trainImagesFilename, trainLabelsFilename, testImagesFilename, testLabelsFilename} {
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			klog.V(1).Infof("MNIST file %s already present", target)
			continue
		}
		fileURL, err := url.JoinPath(DownloadURL, name)
		if err != nil {
			return errors.Wrapf(err, "building URL for %s", name)
		}
		if err := downloadFile(fileURL, target); err != nil {
			return err
		}
	}
	return nil
}

// downloadFile writes url into a temp file next to target and renames it on success.
func downloadFile(fileURL, target string) error {
	resp, err := http.Get(fileURL)
	if err != nil {
		return errors.Wrapf(err, "GET %s", fileURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: unexpected status %s", fileURL, resp.Status)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp download file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	bar := progressbar.DefaultBytes(resp.ContentLength, "downloading "+filepath.Base(target))
	if _, err := io.Copy(io.MultiWriter(tmpFile, bar), resp.Body); err != nil {
		return errors.Wrapf(err, "download %s", fileURL)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp download file")
	}
	if err := os.Rename(tmpName, target); err != nil {
		return errors.Wrapf(err, "rename download to %s", target)
	}
	klog.Infof("Downloaded %s", target)
	return nil
}

// NewMNIST decodes the train (or test, the t10k files) split stored in dir.
func NewMNIST(dir string, train bool) (*MNIST, error) {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		return nil, err
	}
	imagesFile, labelsFile := testImagesFilename, testLabelsFilename
	if train {
		imagesFile, labelsFile = trainImagesFilename, trainLabelsFilename
	}
	images, err := loadImageFile(filepath.Join(dir, imagesFile))
	if err != nil {
		return nil, err
	}
	labels, err := loadLabelFile(filepath.Join(dir, labelsFile))
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, errors.Errorf("mnist: %d images but %d labels in %s", len(images), len(labels), dir)
	}
	return &MNIST{Train: train, images: images, labels: labels}, nil
}

// Len implements Source.
func (m *MNIST) Len() int { return len(m.images) }

// Item implements Source.
func (m *MNIST) Item(i int) ([]byte, int, bool, error) {
	if i < 0 || i >= len(m.images) {
		return nil, 0, false, errors.Wrapf(ErrIndexOutOfRange, "mnist index %d, size %d", i, len(m.images))
	}
	return m.images[i], int(m.labels[i]), true, nil
}

func loadImageFile(filename string) ([][]byte, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "os.Open")
	}
	defer f.Close()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "gzip.NewReader(%s)", filename)
	}
	defer reader.Close()
	return readImages(reader)
}

// readImages parses an uncompressed IDX3 image stream.
func readImages(r io.Reader) ([][]byte, error) {
	var header imageFileHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading image header")
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height {
		return nil, errors.Errorf("mnist: invalid image file header %+v", header)
	}
	images := make([][]byte, header.NumImages)
	for i := range images {
		img := make([]byte, ImageSize)
		if _, err := io.ReadFull(r, img); err != nil {
			return nil, errors.Wrapf(err, "reading image %d", i)
		}
		images[i] = img
	}
	return images, nil
}

func loadLabelFile(filename string) ([]uint8, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "os.Open")
	}
	defer f.Close()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "gzip.NewReader(%s)", filename)
	}
	defer reader.Close()
	return readLabels(reader)
}

// readLabels parses an uncompressed IDX1 label stream.
func readLabels(r io.Reader) ([]uint8, error) {
	var header labelFileHeader
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading label header")
	}
	if header.Magic != labelMagic {
		return nil, errors.Errorf("mnist: invalid label file magic 0x%08x", header.Magic)
	}
	labels := make([]uint8, header.NumLabels)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, errors.Wrap(err, "reading labels")
	}
	return labels, nil
}
