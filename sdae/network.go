package sdae

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Network is a feed-forward stack of layers.
type Network []*Layer

// Model is anything trainable as an autoencoder: the network maps an input
// batch back onto the input space.
type Model interface {
	Network() Network
}

// Params lists the trainable parameters of every layer, weights before biases.
func (n Network) Params() []*Param {
	params := make([]*Param, 0, 2*len(n))
	for _, l := range n {
		params = append(params, l.Weight, l.Bias)
	}
	return params
}

// Infer runs the network without dropout.
func (n Network) Infer(x *mat.Dense) (*mat.Dense, error) {
	out, _, err := n.forward(x, false, nil)
	return out, err
}

func (n Network) forward(x *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, []*layerCache, error) {
	caches := make([]*layerCache, len(n))
	out := x
	for i, l := range n {
		var err error
		out, caches[i], err = l.forward(out, training, rng)
		if err != nil {
			return nil, nil, err
		}
	}
	return out, caches, nil
}

// gradients mirrors the parameters of a Network.
type gradients struct {
	w []*mat.Dense
	b [][]float64
}

func (n Network) newGradients() *gradients {
	g := &gradients{w: make([]*mat.Dense, len(n)), b: make([][]float64, len(n))}
	for i, l := range n {
		g.w[i] = mat.NewDense(l.Out, l.In, nil)
		g.b[i] = make([]float64, l.Out)
	}
	return g
}

func (n Network) backward(caches []*layerCache, dOut *mat.Dense, g *gradients) {
	d := dOut
	for i := len(n) - 1; i >= 0; i-- {
		d = n[i].backward(caches[i], d, g.w[i], g.b[i])
	}
}

// accumulate adds g into the Grad buffers of the network parameters.
func (n Network) accumulate(g *gradients) {
	for i, l := range n {
		raw := g.w[i].RawMatrix()
		for j, v := range raw.Data {
			l.Weight.Grad[j] += v
		}
		for j, v := range g.b[i] {
			l.Bias.Grad[j] += v
		}
	}
}

// mseLoss returns sum((out-target)²)/denominator and its gradient w.r.t. out.
// The denominator is the element count of the full batch, so shard losses add up
// to the batch mean.
func mseLoss(out, target *mat.Dense, denominator float64) (float64, *mat.Dense, error) {
	or, oc := out.Dims()
	tr, tc := target.Dims()
	if or != tr || oc != tc {
		return 0, nil, errors.Errorf("reconstruction shape [%d, %d] does not match input shape [%d, %d]", or, oc, tr, tc)
	}
	diff := mat.NewDense(or, oc, nil)
	diff.Sub(out, target)
	raw := diff.RawMatrix()
	var sum float64
	for i, v := range raw.Data {
		sum += v * v
		raw.Data[i] = 2 * v / denominator
	}
	return sum / denominator, diff, nil
}

// toDense converts a batch of float32 rows into a [len(rows), dim] matrix.
func toDense(rows [][]float32) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.New("empty batch")
	}
	dim := len(rows[0])
	data := make([]float64, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return nil, errors.Errorf("row %d has %d features, expected %d", i, len(row), dim)
		}
		for j, v := range row {
			data[i*dim+j] = float64(v)
		}
	}
	return mat.NewDense(len(rows), dim, data), nil
}

// fromDense converts a matrix into float32 rows.
func fromDense(m *mat.Dense) [][]float32 {
	r, c := m.Dims()
	rows := make([][]float32, r)
	for i := range rows {
		row := make([]float32, c)
		for j := range row {
			row[j] = float32(m.At(i, j))
		}
		rows[i] = row
	}
	return rows
}
