package cluster

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LinearSumAssignment solves the square assignment problem with the Hungarian
// method (potentials + shortest augmenting paths, O(n³)). It returns colFor,
// where colFor[row] is the column assigned to row, minimizing the total cost.
func LinearSumAssignment(cost *mat.Dense) ([]int, error) {
	n, m := cost.Dims()
	if n != m {
		return nil, errors.Errorf("cost matrix must be square, got [%d, %d]", n, m)
	}
	if n == 0 {
		return nil, nil
	}

	// 1-based arrays; index 0 is the virtual source.
	u := make([]float64, n+1)
	v := make([]float64, n+1)
	rowFor := make([]int, n+1) // rowFor[col] = row matched to col
	way := make([]int, n+1)
	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	for i := 1; i <= n; i++ {
		rowFor[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := rowFor[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost.At(i0-1, j-1) - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[rowFor[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if rowFor[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			rowFor[j0] = rowFor[j1]
			j0 = j1
		}
	}

	colFor := make([]int, n)
	for j := 1; j <= n; j++ {
		colFor[rowFor[j]-1] = j - 1
	}
	return colFor, nil
}
