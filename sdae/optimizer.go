package sdae

import (
	"math"

	"github.com/pkg/errors"
)

// SGD is stochastic gradient descent with (heavy ball) momentum:
//
//	v = momentum*v + grad
//	p = p - lr*v
type SGD struct {
	LearningRate float64
	Momentum     float64

	params   []*Param
	velocity [][]float64
}

// NewSGD creates an optimizer over params.
func NewSGD(params []*Param, learningRate, momentum float64) (*SGD, error) {
	if learningRate <= 0 {
		return nil, errors.Errorf("invalid learning rate %g", learningRate)
	}
	if momentum < 0 {
		return nil, errors.Errorf("invalid momentum %g", momentum)
	}
	o := &SGD{LearningRate: learningRate, Momentum: momentum, params: params}
	if momentum > 0 {
		o.velocity = make([][]float64, len(params))
		for i, p := range params {
			o.velocity[i] = make([]float64, len(p.Value))
		}
	}
	return o, nil
}

// ZeroGrad clears the gradients of all managed parameters.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Step applies the current gradients.
func (o *SGD) Step() {
	lr := o.LearningRate
	for i, p := range o.params {
		if o.velocity == nil {
			for j, g := range p.Grad {
				p.Value[j] -= lr * g
			}
			continue
		}
		v := o.velocity[i]
		for j, g := range p.Grad {
			v[j] = o.Momentum*v[j] + g
			p.Value[j] -= lr * v[j]
		}
	}
}

// StepLR decays the optimizer learning rate by Gamma every StepSize epochs.
type StepLR struct {
	Optimizer *SGD
	StepSize  int
	Gamma     float64

	baseLR float64
	epoch  int
}

// NewStepLR attaches a step decay schedule to opt.
func NewStepLR(opt *SGD, stepSize int, gamma float64) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, errors.Errorf("invalid step size %d", stepSize)
	}
	return &StepLR{Optimizer: opt, StepSize: stepSize, Gamma: gamma, baseLR: opt.LearningRate}, nil
}

// Step advances one epoch and sets the learning rate to base * gamma^(epoch/StepSize).
// The schedule counts construction as epoch 0, so with Step called at the
// start of every epoch, 0-based epoch e runs at base * gamma^((e+1)/StepSize):
// the first decay applies to epoch StepSize-1.
func (s *StepLR) Step() {
	s.epoch++
	s.Optimizer.LearningRate = s.baseLR * math.Pow(s.Gamma, float64(s.epoch/s.StepSize))
}

// OptimizerFactory builds an optimizer for a model's parameters.
type OptimizerFactory func(params []*Param) (*SGD, error)

// SchedulerFactory builds a schedule for an optimizer.
type SchedulerFactory func(opt *SGD) (*StepLR, error)

// SGDFactory returns an OptimizerFactory with fixed hyperparameters.
func SGDFactory(learningRate, momentum float64) OptimizerFactory {
	return func(params []*Param) (*SGD, error) {
		return NewSGD(params, learningRate, momentum)
	}
}

// StepLRFactory returns a SchedulerFactory with fixed hyperparameters.
func StepLRFactory(stepSize int, gamma float64) SchedulerFactory {
	return func(opt *SGD) (*StepLR, error) {
		return NewStepLR(opt, stepSize, gamma)
	}
}
