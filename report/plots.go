package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// confusionGrid adapts a confusion matrix to plotter.GridXYZ. Row 0 is drawn at the top.
type confusionGrid struct {
	m *mat.Dense
}

func (g confusionGrid) Dims() (c, r int) {
	rows, cols := g.m.Dims()
	return cols, rows
}

func (g confusionGrid) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// SaveConfusionHeatmap renders a (normalized) confusion matrix to a PNG with
// the value printed on every cell. Rows are actual labels, columns predicted.
func SaveConfusionHeatmap(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return errors.New("empty confusion matrix")
	}
	p := plot.New()
	p.Title.Text = "Normalized confusion matrix"
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "actual"

	hm := plotter.NewHeatMap(confusionGrid{m: m}, palette.Heat(12, 1))
	hm.Min = 0
	hm.Max = 1
	p.Add(hm)

	cells := make(plotter.XYs, 0, rows*cols)
	texts := make([]string, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cells = append(cells, plotter.XY{X: float64(c) - 0.25, Y: float64(rows-1-r) - 0.1})
			texts = append(texts, strconv.FormatFloat(m.At(r, c), 'f', 2, 64))
		}
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: cells, Labels: texts})
	if err != nil {
		return err
	}
	p.Add(labels)

	xTicks := make([]plot.Tick, cols)
	for c := range xTicks {
		xTicks[c] = plot.Tick{Value: float64(c), Label: strconv.Itoa(c)}
	}
	yTicks := make([]plot.Tick, rows)
	for r := range yTicks {
		yTicks[r] = plot.Tick{Value: float64(rows - 1 - r), Label: strconv.Itoa(r)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return errors.Wrapf(p.Save(7*vg.Inch, 6*vg.Inch, path), "save %s", path)
}

// LossPoint is one epoch of training history.
type LossPoint struct {
	Epoch          int
	LearningRate   float64
	Loss           float64
	ValidationLoss float64
}

// SaveLossCurve plots training (blue) and validation (red) loss per epoch.
// Validation points with negative loss (no validation set) are skipped.
func SaveLossCurve(path, title string, history []LossPoint) error {
	if len(history) == 0 {
		return errors.New("empty loss history")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "mse"

	train := make(plotter.XYs, 0, len(history))
	validation := make(plotter.XYs, 0, len(history))
	for _, h := range history {
		train = append(train, plotter.XY{X: float64(h.Epoch), Y: h.Loss})
		if h.ValidationLoss >= 0 {
			validation = append(validation, plotter.XY{X: float64(h.Epoch), Y: h.ValidationLoss})
		}
	}

	trainLine, err := plotter.NewLine(train)
	if err != nil {
		return err
	}
	trainLine.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	trainLine.Width = vg.Points(1.2)
	p.Add(trainLine)
	p.Legend.Add("loss", trainLine)

	if len(validation) > 0 {
		valLine, err := plotter.NewLine(validation)
		if err != nil {
			return err
		}
		valLine.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
		valLine.Width = vg.Points(1.2)
		p.Add(valLine)
		p.Legend.Add("validation_loss", valLine)
	}
	p.Add(plotter.NewGrid())

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "save %s", path)
}

// ConfusionFilename is the heat map file name for a run identifier.
func ConfusionFilename(id string) string {
	return fmt.Sprintf("confusion_%s.png", id)
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return errors.Wrapf(os.MkdirAll(path, 0755), "mkdir %s", path)
}
