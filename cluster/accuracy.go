package cluster

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accuracy computes the best achievable accuracy of predicted cluster ids
// against actual labels after optimally mapping cluster ids to labels.
//
// It returns the mapping (cluster id -> label) and the accuracy in [0, 1].
func Accuracy(actual, predicted []int) (map[int]int, float64, error) {
	if len(actual) != len(predicted) {
		return nil, 0, errors.Errorf("actual has %d entries, predicted %d", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return nil, 0, errors.New("no samples")
	}
	size := 0
	for i := range actual {
		if actual[i] < 0 || predicted[i] < 0 {
			return nil, 0, errors.Errorf("negative label at %d (actual=%d predicted=%d)", i, actual[i], predicted[i])
		}
		size = max(size, actual[i]+1, predicted[i]+1)
	}

	// count[p][a] is how many samples in cluster p carry label a.
	count := mat.NewDense(size, size, nil)
	for i := range actual {
		count.Set(predicted[i], actual[i], count.At(predicted[i], actual[i])+1)
	}

	// Maximizing matched counts == minimizing (max - count).
	top := floats.Max(count.RawMatrix().Data)
	cost := mat.NewDense(size, size, nil)
	cost.Apply(func(_, _ int, v float64) float64 { return top - v }, count)

	colFor, err := LinearSumAssignment(cost)
	if err != nil {
		return nil, 0, err
	}
	reassignment := make(map[int]int, size)
	var matched float64
	for row, col := range colFor {
		reassignment[row] = col
		matched += count.At(row, col)
	}
	return reassignment, matched / float64(len(predicted)), nil
}

// Reassign maps every predicted cluster id through reassignment.
func Reassign(predicted []int, reassignment map[int]int) []int {
	out := make([]int, len(predicted))
	for i, p := range predicted {
		out[i] = reassignment[p]
	}
	return out
}
