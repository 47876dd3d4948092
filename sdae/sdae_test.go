package sdae

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// mockDataset implements the minimal Dataset interface required by the trainers.
type mockDataset struct {
	inputs [][]float32
}

func (m *mockDataset) Len() int { return len(m.inputs) }

func (m *mockDataset) Batch(indices []int) ([][]float32, []int, error) {
	in := make([][]float32, len(indices))
	la := make([]int, len(indices))
	for i, idx := range indices {
		in[i] = m.inputs[idx]
		la[i] = idx
	}
	return in, la, nil
}

// lowRankDataset synthesizes n vectors of size dim living on a 2D subspace.
func lowRankDataset(n, dim int, seed int64) *mockDataset {
	rng := rand.New(rand.NewSource(seed))
	a := make([]float32, dim)
	b := make([]float32, dim)
	for j := range dim {
		a[j] = float32(rng.Float64())
		b[j] = float32(rng.Float64())
	}
	inputs := make([][]float32, n)
	for i := range n {
		s, t := float32(rng.Float64()), float32(rng.Float64())
		row := make([]float32, dim)
		for j := range dim {
			row[j] = s*a[j] + t*b[j]
		}
		inputs[i] = row
	}
	return &mockDataset{inputs: inputs}
}

func TestNewStackedDenoisingAutoEncoderShapes(t *testing.T) {
	m, err := NewStackedDenoisingAutoEncoder(Config{Seed: 1})
	require.NoError(t, err)
	require.Len(t, m.Encoder, 4)
	require.Len(t, m.Decoder, 4)

	wantEncoder := [][2]int{{784, 500}, {500, 500}, {500, 2000}, {2000, 10}}
	for i, l := range m.Encoder {
		assert.Equal(t, wantEncoder[i], [2]int{l.In, l.Out}, "encoder %d", i)
	}
	wantDecoder := [][2]int{{10, 2000}, {2000, 500}, {500, 500}, {500, 784}}
	for i, l := range m.Decoder {
		assert.Equal(t, wantDecoder[i], [2]int{l.In, l.Out}, "decoder %d", i)
	}
	assert.Equal(t, ActivationNone, m.Encoder[3].Activation)
	assert.Equal(t, ActivationNone, m.Decoder[3].Activation)
	assert.Equal(t, ActivationReLU, m.Encoder[0].Activation)

	enc, dec, err := m.Stack(1)
	require.NoError(t, err)
	assert.Same(t, m.Encoder[1], enc)
	assert.Same(t, m.Decoder[2], dec)

	_, err = NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{3}})
	assert.Error(t, err)
}

func TestSGDMomentum(t *testing.T) {
	p := newParam("p", 1)
	p.Value[0] = 1.0
	opt, err := NewSGD([]*Param{p}, 0.1, 0.9)
	require.NoError(t, err)

	p.Grad[0] = 0.5
	opt.Step()
	// v = 0.5, p = 1 - 0.1*0.5
	assert.InDelta(t, 0.95, p.Value[0], 1e-12)

	opt.Step()
	// v = 0.9*0.5 + 0.5 = 0.95, p = 0.95 - 0.095
	assert.InDelta(t, 0.855, p.Value[0], 1e-12)

	opt.ZeroGrad()
	assert.Equal(t, 0.0, p.Grad[0])

	_, err = NewSGD(nil, 0, 0.9)
	assert.Error(t, err)
}

func TestStepLR(t *testing.T) {
	opt, err := NewSGD(nil, 0.1, 0.9)
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 100, 0.1)
	require.NoError(t, err)

	for epoch := 0; epoch < 250; epoch++ {
		sched.Step()
		want := 0.1
		switch {
		case epoch >= 199:
			want = 0.001
		case epoch >= 99:
			want = 0.01
		}
		require.InDelta(t, want, opt.LearningRate, 1e-12, "epoch %d", epoch)
	}
}

// The first decay lands on the last epoch of the first step window.
func TestStepLRDecayBoundary(t *testing.T) {
	opt, err := NewSGD(nil, 0.1, 0.9)
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 100, 0.1)
	require.NoError(t, err)

	lrs := make([]float64, 100)
	for epoch := range lrs {
		sched.Step()
		lrs[epoch] = opt.LearningRate
	}
	assert.InDelta(t, 0.1, lrs[0], 1e-12)
	assert.InDelta(t, 0.1, lrs[98], 1e-12)
	assert.InDelta(t, 0.01, lrs[99], 1e-12)
}

func TestTrainReducesReconstructionLoss(t *testing.T) {
	ds := lowRankDataset(96, 12, 7)
	model, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{12, 8, 4}, Seed: 3})
	require.NoError(t, err)

	before, err := Evaluate(ds, model.Network(), 32)
	require.NoError(t, err)

	opt, err := NewSGD(model.Network().Params(), 0.05, 0.9)
	require.NoError(t, err)
	sched, err := NewStepLR(opt, 100, 0.1)
	require.NoError(t, err)

	var calls []int
	var lastValidation float64
	err = Train(ds, model, TrainOptions{
		Epochs:     40,
		BatchSize:  16,
		Corruption: 0.1,
		Optimizer:  opt,
		Scheduler:  sched,
		Validation: ds,
		UpdateCallback: func(epoch int, lr, loss, validationLoss float64) {
			calls = append(calls, epoch)
			assert.InDelta(t, 0.05, lr, 1e-12)
			assert.False(t, math.IsNaN(loss))
			lastValidation = validationLoss
		},
		Seed:   11,
		Silent: true,
	})
	require.NoError(t, err)
	require.Len(t, calls, 40)
	assert.Equal(t, 39, calls[len(calls)-1])

	after, err := Evaluate(ds, model.Network(), 32)
	require.NoError(t, err)
	t.Logf("reconstruction mse before=%.6f after=%.6f", before, after)
	assert.Less(t, after, before)
	assert.InDelta(t, after, lastValidation, 1e-9)
}

func TestTrainWithoutValidationReportsMinusOne(t *testing.T) {
	ds := lowRankDataset(20, 6, 1)
	model, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{6, 3}, Seed: 1})
	require.NoError(t, err)
	opt, err := NewSGD(model.Network().Params(), 0.01, 0.9)
	require.NoError(t, err)

	err = Train(ds, model, TrainOptions{
		Epochs:    1,
		BatchSize: 8,
		Optimizer: opt,
		UpdateCallback: func(_ int, _, _, validationLoss float64) {
			assert.Equal(t, -1.0, validationLoss)
		},
		Silent: true,
	})
	require.NoError(t, err)

	err = Train(ds, model, TrainOptions{Epochs: 1, BatchSize: 8, Silent: true})
	assert.Error(t, err, "missing optimizer must fail")
}

// With a negligible learning rate the reported epoch loss is the mean over
// the whole dataset, even when the last batch is short.
func TestTrainReportsEpochMeanLoss(t *testing.T) {
	ds := lowRankDataset(20, 6, 5)
	model, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{6, 4, 2}, Seed: 9})
	require.NoError(t, err)
	want, err := Evaluate(ds, model.Network(), 7)
	require.NoError(t, err)

	opt, err := NewSGD(model.Network().Params(), 1e-12, 0)
	require.NoError(t, err)
	var got []float64
	err = Train(ds, model, TrainOptions{
		Epochs:    1,
		BatchSize: 8,
		Optimizer: opt,
		UpdateCallback: func(_ int, _, loss, _ float64) {
			got = append(got, loss)
		},
		Seed:   4,
		Silent: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, want, got[0], 1e-9)
}

// Sharding a batch across workers must produce the same update as a single worker.
func TestTrainStepWorkersMatchSingleWorker(t *testing.T) {
	ds := lowRankDataset(10, 5, 2)
	x, err := toDense(ds.inputs)
	require.NoError(t, err)

	build := func() (*StackedDenoisingAutoEncoder, *SGD) {
		m, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{5, 4, 2}, Seed: 42})
		require.NoError(t, err)
		opt, err := NewSGD(m.Network().Params(), 0.1, 0.9)
		require.NoError(t, err)
		return m, opt
	}
	single, singleOpt := build()
	sharded, shardedOpt := build()

	lossSingle, err := trainStep(single.Network(), singleOpt, x, 0, 1, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	lossSharded, err := trainStep(sharded.Network(), shardedOpt, x, 0, 3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.InDelta(t, lossSingle, lossSharded, 1e-9)

	singleParams := single.Network().Params()
	for i, p := range sharded.Network().Params() {
		assert.InDeltaSlice(t, singleParams[i].Value, p.Value, 1e-9, p.Name)
	}
}

func TestPretrainCopiesWeightsIntoStack(t *testing.T) {
	ds := lowRankDataset(32, 8, 5)
	model, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{8, 6, 3}, Seed: 9})
	require.NoError(t, err)

	initial := make([][]float64, 0)
	for _, p := range model.Network().Params() {
		initial = append(initial, append([]float64(nil), p.Value...))
	}

	var indices []int
	err = Pretrain(ds, model, PretrainOptions{
		Epochs:     2,
		BatchSize:  8,
		Corruption: 0.2,
		Optimizer:  SGDFactory(0.1, 0.9),
		Scheduler:  StepLRFactory(100, 0.1),
		Validation: ds,
		Callback: func(index, epoch int, lr, loss, validationLoss float64) {
			if epoch == 0 {
				indices = append(indices, index)
			}
			assert.GreaterOrEqual(t, validationLoss, 0.0)
		},
		Seed:   4,
		Silent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, indices)

	for i, p := range model.Network().Params() {
		if len(p.Value) == 0 {
			continue
		}
		changed := false
		for j := range p.Value {
			if p.Value[j] != initial[i][j] {
				changed = true
				break
			}
		}
		// Biases start at zero and move with training; weights are overwritten.
		assert.True(t, changed, "%s was not written by pretraining", p.Name)
	}
}

func TestPredictKeepsOrder(t *testing.T) {
	ds := lowRankDataset(7, 4, 3)
	model, err := NewStackedDenoisingAutoEncoder(Config{Dimensions: []int{4, 2}, Seed: 2})
	require.NoError(t, err)

	features, labels, err := Predict(ds, model.Encoder, 3)
	require.NoError(t, err)
	r, c := features.Dims()
	assert.Equal(t, 7, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, labels)

	x, err := toDense(ds.inputs)
	require.NoError(t, err)
	full, err := model.Encode(x)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(full, features, 1e-12))
}

func TestLayerGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net := Network{
		NewLayer("a", 3, 4, ActivationReLU, rng),
		NewLayer("b", 4, 3, ActivationNone, rng),
	}
	x := mat.NewDense(2, 3, []float64{0.5, -0.2, 0.9, 0.1, 0.4, -0.7})

	loss := func() float64 {
		out, err := net.Infer(x)
		require.NoError(t, err)
		l, _, err := mseLoss(out, x, 6)
		require.NoError(t, err)
		return l
	}
	out, caches, err := net.forward(x, true, rng)
	require.NoError(t, err)
	_, dOut, err := mseLoss(out, x, 6)
	require.NoError(t, err)
	g := net.newGradients()
	net.backward(caches, dOut, g)

	const eps = 1e-6
	w := net[0].Weight.Value
	for j := range w {
		orig := w[j]
		w[j] = orig + eps
		plus := loss()
		w[j] = orig - eps
		minus := loss()
		w[j] = orig
		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, g.w[0].RawMatrix().Data[j], 1e-5, "weight %d", j)
	}
}
