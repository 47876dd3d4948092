// Package cluster implements the k-means clustering and the
// best-permutation cluster accuracy used to evaluate embeddings.
package cluster

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// KMeans configures Lloyd's algorithm with k-means++ seeding and several restarts.
type KMeans struct {
	// K is the number of clusters.
	K int
	// NInit is the number of restarts; the run with the lowest inertia wins.
	NInit int
	// MaxIter bounds the Lloyd iterations of each run. Defaults to 300.
	MaxIter int
	// Tol is relative to the mean feature variance: a run stops when the total
	// squared centre shift falls below Tol * mean(var(x)). Defaults to 1e-4.
	Tol float64
	// Seed for the k-means++ draws. If zero, a time-based seed is used.
	Seed int64
}

// Result of a KMeans fit.
type Result struct {
	Labels    []int
	Centroids *mat.Dense
	Inertia   float64
	Iters     int
}

// FitPredict clusters the rows of x and returns the cluster index of each row.
func (km KMeans) FitPredict(x *mat.Dense) ([]int, error) {
	res, err := km.Fit(x)
	if err != nil {
		return nil, err
	}
	return res.Labels, nil
}

// Fit clusters the rows of x.
func (km KMeans) Fit(x *mat.Dense) (*Result, error) {
	n, d := x.Dims()
	if km.K <= 0 {
		return nil, errors.Errorf("invalid number of clusters %d", km.K)
	}
	if n < km.K {
		return nil, errors.Errorf("n_samples=%d should be >= n_clusters=%d", n, km.K)
	}
	if km.NInit <= 0 {
		km.NInit = 1
	}
	if km.MaxIter <= 0 {
		km.MaxIter = 300
	}
	if km.Tol <= 0 {
		km.Tol = 1e-4
	}
	if km.Seed == 0 {
		km.Seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(km.Seed))

	var varSum float64
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		varSum += stat.PopVariance(col, nil)
	}
	tol := km.Tol * varSum / float64(d)

	var best *Result
	for run := 0; run < km.NInit; run++ {
		res := km.lloyd(x, km.seedCentroids(x, rng), tol)
		klog.V(2).Infof("k-means run %d: inertia=%.4f iterations=%d", run, res.Inertia, res.Iters)
		if best == nil || res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}

// seedCentroids picks K initial centres with greedy k-means++: each new centre
// is the best of 2+log(K) candidates drawn proportionally to D².
func (km KMeans) seedCentroids(x *mat.Dense, rng *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centroids := mat.NewDense(km.K, d, nil)
	trials := 2 + int(math.Log(float64(km.K)))

	first := rng.Intn(n)
	centroids.SetRow(0, x.RawRowView(first))
	closest := make([]float64, n)
	for i := range closest {
		closest[i] = sqDist(x.RawRowView(i), x.RawRowView(first))
	}
	potential := floats.Sum(closest)

	candidateDist := make([]float64, n)
	bestDist := make([]float64, n)
	for c := 1; c < km.K; c++ {
		bestCandidate, bestPotential := -1, math.Inf(1)
		for t := 0; t < trials; t++ {
			cand := sampleByWeight(closest, potential, rng)
			for i := range candidateDist {
				candidateDist[i] = math.Min(closest[i], sqDist(x.RawRowView(i), x.RawRowView(cand)))
			}
			if p := floats.Sum(candidateDist); bestCandidate < 0 || p < bestPotential {
				bestCandidate, bestPotential = cand, p
				copy(bestDist, candidateDist)
			}
		}
		centroids.SetRow(c, x.RawRowView(bestCandidate))
		copy(closest, bestDist)
		potential = bestPotential
	}
	return centroids
}

// sampleByWeight draws an index with probability weights[i]/total.
func sampleByWeight(weights []float64, total float64, rng *rand.Rand) int {
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

func (km KMeans) lloyd(x *mat.Dense, centroids *mat.Dense, tol float64) *Result {
	n, d := x.Dims()
	labels := make([]int, n)
	dists := make([]float64, n)
	counts := make([]int, km.K)
	next := mat.NewDense(km.K, d, nil)

	iter := 0
	for ; iter < km.MaxIter; iter++ {
		assign(x, centroids, labels, dists)

		next.Zero()
		for i := range counts {
			counts[i] = 0
		}
		for i := 0; i < n; i++ {
			floats.Add(next.RawRowView(labels[i]), x.RawRowView(i))
			counts[labels[i]]++
		}
		for c := 0; c < km.K; c++ {
			if counts[c] == 0 {
				// Empty cluster: move it onto the point farthest from its centre.
				far := floats.MaxIdx(dists)
				next.SetRow(c, x.RawRowView(far))
				dists[far] = 0
				continue
			}
			floats.Scale(1/float64(counts[c]), next.RawRowView(c))
		}

		var shift float64
		for c := 0; c < km.K; c++ {
			shift += sqDist(centroids.RawRowView(c), next.RawRowView(c))
		}
		centroids.Copy(next)
		if shift <= tol {
			iter++
			break
		}
	}
	inertia := assign(x, centroids, labels, dists)
	return &Result{Labels: labels, Centroids: centroids, Inertia: inertia, Iters: iter}
}

// assign sets each row's nearest centroid and returns the total squared distance.
func assign(x, centroids *mat.Dense, labels []int, dists []float64) float64 {
	n, _ := x.Dims()
	k, _ := centroids.Dims()
	var inertia float64
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		best, bestDist := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			if dd := sqDist(row, centroids.RawRowView(c)); dd < bestDist {
				best, bestDist = c, dd
			}
		}
		labels[i] = best
		dists[i] = bestDist
		inertia += bestDist
	}
	return inertia
}

func sqDist(a, b []float64) float64 {
	dist := floats.Distance(a, b, 2)
	return dist * dist
}
