package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedOptimizer 지원하지 않는 optimizer
var ErrUnsupportedOptimizer = errors.New("Unsupported optimizer")

const (
	SGD     string = "sgd"
	Adam    string = "adam"
	RMSProp string = "rmsprop"
)

// Optimizer 파라미터 갱신. params와 grads는 같은 모양의 슬롯 목록
type Optimizer interface {
	Name() string
	LearningRate() float64
	Update(params, grads [][]float64)
}

// ModelOptimizer learning rate로 Optimizer를 만든다
type ModelOptimizer interface {
	GetOptimizer(learningRate float64) Optimizer
}

type modelOptimizer func(learningRate float64) Optimizer

func (f modelOptimizer) GetOptimizer(learningRate float64) Optimizer {
	return f(learningRate)
}

// GetModelOptimizer optimizer_choice에 맞는 ModelOptimizer
func GetModelOptimizer(optimizerChoice string) (ModelOptimizer, error) {
	switch optimizerChoice {
	case SGD:
		return modelOptimizer(func(lr float64) Optimizer { return &sgd{lr: lr} }), nil
	case Adam:
		return modelOptimizer(func(lr float64) Optimizer {
			return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: epsilon}
		}), nil
	case RMSProp:
		return modelOptimizer(func(lr float64) Optimizer {
			return &rmsprop{lr: lr, rho: 0.9, eps: epsilon}
		}), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedOptimizer, optimizerChoice)
}

type sgd struct {
	lr float64
}

func (o *sgd) Name() string           { return SGD }
func (o *sgd) LearningRate() float64 { return o.lr }

func (o *sgd) Update(params, grads [][]float64) {
	for s := range params {
		p, g := params[s], grads[s]
		for i := range p {
			p[i] -= o.lr * g[i]
		}
	}
}

// 슬롯별 누적 상태
func slots(state [][]float64, params [][]float64) [][]float64 {
	if len(state) == len(params) {
		return state
	}
	state = make([][]float64, len(params))
	for s := range params {
		state[s] = make([]float64, len(params[s]))
	}
	return state
}

type adam struct {
	lr, beta1, beta2, eps float64

	step int
	m, v [][]float64
}

func (o *adam) Name() string           { return Adam }
func (o *adam) LearningRate() float64 { return o.lr }

func (o *adam) Update(params, grads [][]float64) {
	o.m = slots(o.m, params)
	o.v = slots(o.v, params)
	o.step++

	c1 := 1 - math.Pow(o.beta1, float64(o.step))
	c2 := 1 - math.Pow(o.beta2, float64(o.step))

	for s := range params {
		p, g, m, v := params[s], grads[s], o.m[s], o.v[s]
		for i := range p {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g[i]
			v[i] = o.beta2*v[i] + (1-o.beta2)*g[i]*g[i]
			p[i] -= o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps)
		}
	}
}

type rmsprop struct {
	lr, rho, eps float64

	v [][]float64
}

func (o *rmsprop) Name() string           { return RMSProp }
func (o *rmsprop) LearningRate() float64 { return o.lr }

func (o *rmsprop) Update(params, grads [][]float64) {
	o.v = slots(o.v, params)

	for s := range params {
		p, g, v := params[s], grads[s], o.v[s]
		for i := range p {
			v[i] = o.rho*v[i] + (1-o.rho)*g[i]*g[i]
			p[i] -= o.lr * g[i] / (math.Sqrt(v[i]) + o.eps)
		}
	}
}
