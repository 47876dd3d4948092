package sdae

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Activation applied after a linear layer.
type Activation int

const (
	ActivationNone Activation = iota
	ActivationReLU
)

func (a Activation) String() string {
	if a == ActivationReLU {
		return "relu"
	}
	return "none"
}

// Param is a trainable tensor stored flat, together with its gradient buffer.
type Param struct {
	Name  string
	Value []float64
	Grad  []float64
}

func newParam(name string, size int) *Param {
	return &Param{Name: name, Value: make([]float64, size), Grad: make([]float64, size)}
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Layer is a fully connected layer y = act(x·Wᵀ + b), optionally followed by
// dropout on its output while training.
type Layer struct {
	In, Out    int
	Activation Activation

	// Dropout is the probability of zeroing an output unit during training.
	Dropout float64

	Weight *Param // [Out, In], row major
	Bias   *Param // [Out]
}

// NewLayer creates a layer with Xavier-uniform weights (gain chosen for the
// activation) and zero biases.
func NewLayer(name string, in, out int, act Activation, rng *rand.Rand) *Layer {
	l := &Layer{
		In:         in,
		Out:        out,
		Activation: act,
		Weight:     newParam(name+"/weight", in*out),
		Bias:       newParam(name+"/bias", out),
	}
	gain := 1.0
	if act == ActivationReLU {
		gain = math.Sqrt2
	}
	limit := gain * math.Sqrt(6.0/float64(in+out))
	for i := range l.Weight.Value {
		l.Weight.Value[i] = (rng.Float64()*2 - 1) * limit
	}
	return l
}

// W returns the weights as a matrix view sharing the parameter storage.
func (l *Layer) W() *mat.Dense { return mat.NewDense(l.Out, l.In, l.Weight.Value) }

// CopyFrom copies weights and biases from other, which must have the same shape.
func (l *Layer) CopyFrom(other *Layer) error {
	if l.In != other.In || l.Out != other.Out {
		return errors.Errorf("cannot copy layer %s [%d->%d] into %s [%d->%d]",
			other.Weight.Name, other.In, other.Out, l.Weight.Name, l.In, l.Out)
	}
	copy(l.Weight.Value, other.Weight.Value)
	copy(l.Bias.Value, other.Bias.Value)
	return nil
}

// layerCache keeps what backward needs from one forward pass.
type layerCache struct {
	input *mat.Dense
	pre   *mat.Dense
	mask  []float64 // dropout scale per output element, nil when no dropout was applied
}

// forward runs the layer on a batch x shaped [n, In].
func (l *Layer) forward(x *mat.Dense, training bool, rng *rand.Rand) (*mat.Dense, *layerCache, error) {
	n, in := x.Dims()
	if in != l.In {
		return nil, nil, errors.Errorf("layer %s expects %d inputs, got %d", l.Weight.Name, l.In, in)
	}
	pre := mat.NewDense(n, l.Out, nil)
	pre.Mul(x, l.W().T())
	raw := pre.RawMatrix()
	for r := 0; r < n; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+l.Out]
		for j := range row {
			row[j] += l.Bias.Value[j]
		}
	}

	out := mat.DenseCopyOf(pre)
	outRaw := out.RawMatrix()
	if l.Activation == ActivationReLU {
		for i, v := range outRaw.Data {
			if v < 0 {
				outRaw.Data[i] = 0
			}
		}
	}

	cache := &layerCache{input: x, pre: pre}
	if training && l.Dropout > 0 {
		cache.mask = dropoutMask(len(outRaw.Data), l.Dropout, rng)
		for i := range outRaw.Data {
			outRaw.Data[i] *= cache.mask[i]
		}
	}
	return out, cache, nil
}

// backward returns dL/dx and accumulates dL/dW, dL/db into gw and gb.
func (l *Layer) backward(c *layerCache, dOut *mat.Dense, gw *mat.Dense, gb []float64) *mat.Dense {
	n, _ := dOut.Dims()
	dz := mat.DenseCopyOf(dOut)
	dzRaw := dz.RawMatrix()
	if c.mask != nil {
		for i := range dzRaw.Data {
			dzRaw.Data[i] *= c.mask[i]
		}
	}
	if l.Activation == ActivationReLU {
		preRaw := c.pre.RawMatrix()
		for i, v := range preRaw.Data {
			if v <= 0 {
				dzRaw.Data[i] = 0
			}
		}
	}

	var dw mat.Dense
	dw.Mul(dz.T(), c.input)
	gw.Add(gw, &dw)
	for r := 0; r < n; r++ {
		row := dzRaw.Data[r*dzRaw.Stride : r*dzRaw.Stride+l.Out]
		for j, v := range row {
			gb[j] += v
		}
	}

	dx := mat.NewDense(n, l.In, nil)
	dx.Mul(dz, l.W())
	return dx
}

// dropoutMask implements inverted dropout: kept units are scaled by 1/(1-p).
func dropoutMask(size int, p float64, rng *rand.Rand) []float64 {
	mask := make([]float64, size)
	if p >= 1 {
		return mask
	}
	keep := 1 / (1 - p)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	return mask
}
