package cluster

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ConfusionMatrix counts samples by (actual, predicted): rows are actual
// labels and columns predicted labels, both in [0, n).
func ConfusionMatrix(actual, predicted []int, n int) (*mat.Dense, error) {
	if len(actual) != len(predicted) {
		return nil, errors.Errorf("actual has %d entries, predicted %d", len(actual), len(predicted))
	}
	if n <= 0 {
		return nil, errors.Errorf("invalid number of labels %d", n)
	}
	m := mat.NewDense(n, n, nil)
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a >= n || p < 0 || p >= n {
			return nil, errors.Errorf("label pair (%d, %d) at %d outside [0, %d)", a, p, i, n)
		}
		m.Set(a, p, m.At(a, p)+1)
	}
	return m, nil
}

// NormalizeRows returns a copy of m with every row divided by its sum.
// Rows summing to zero are left at zero.
func NormalizeRows(m *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		if s := floats.Sum(row); s != 0 {
			floats.Scale(1/s, row)
		}
	}
	return out
}
