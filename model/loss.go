package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrUnsupportedLoss 지원하지 않는 손실 함수
var ErrUnsupportedLoss = errors.New("Unsupported loss function")

const (
	CategoricalCrossentropy       string = "categorical_crossentropy"
	BinaryCrossentropy            string = "binary_crossentropy"
	MeanSquaredError              string = "mean_squared_error"
	SparseCategoricalCrossentropy string = "sparse_categorical_crossentropy"
)

const epsilon = 1e-7

// Loss softmax 출력에 대한 손실 함수
type Loss interface {
	Name() string
	// Compute 샘플 평균 손실과 샘플별 dL/dp
	Compute(probs *mat.Dense, labels []int) (float64, *mat.Dense)
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, epsilon), 1-epsilon)
}

func target(label, class int) float64 {
	if label == class {
		return 1
	}
	return 0
}

type rowLoss func(p []float64, label int, grad []float64) float64

func compute(probs *mat.Dense, labels []int, f rowLoss) (float64, *mat.Dense) {
	n, c := probs.Dims()
	grad := mat.NewDense(n, c, nil)

	var total float64
	for i := 0; i < n; i++ {
		total += f(probs.RawRowView(i), labels[i], grad.RawRowView(i))
	}
	if n > 0 {
		total /= float64(n)
	}

	return total, grad
}

type crossentropyLoss struct {
	name string
}

func (l crossentropyLoss) Name() string {
	return l.name
}

// one-hot(categorical)과 정수(sparse) 레이블 모두 클래스 인덱스로 받는다
func (l crossentropyLoss) Compute(probs *mat.Dense, labels []int) (float64, *mat.Dense) {
	return compute(probs, labels, func(p []float64, label int, grad []float64) float64 {
		pl := clip(p[label])
		grad[label] = -1 / pl
		return -math.Log(pl)
	})
}

type binaryCrossentropyLoss struct{}

func (binaryCrossentropyLoss) Name() string {
	return BinaryCrossentropy
}

func (binaryCrossentropyLoss) Compute(probs *mat.Dense, labels []int) (float64, *mat.Dense) {
	return compute(probs, labels, func(p []float64, label int, grad []float64) float64 {
		k := float64(len(p))
		var loss float64
		for j := range p {
			y, pj := target(label, j), clip(p[j])
			loss -= y*math.Log(pj) + (1-y)*math.Log(1-pj)
			grad[j] = -(y/pj - (1-y)/(1-pj)) / k
		}
		return loss / k
	})
}

type meanSquaredErrorLoss struct{}

func (meanSquaredErrorLoss) Name() string {
	return MeanSquaredError
}

func (meanSquaredErrorLoss) Compute(probs *mat.Dense, labels []int) (float64, *mat.Dense) {
	return compute(probs, labels, func(p []float64, label int, grad []float64) float64 {
		k := float64(len(p))
		var loss float64
		for j := range p {
			d := p[j] - target(label, j)
			loss += d * d
			grad[j] = 2 * d / k
		}
		return loss / k
	})
}

// GetModelLoss loss_choice에 맞는 손실 함수
func GetModelLoss(lossChoice string) (Loss, error) {
	switch lossChoice {
	case CategoricalCrossentropy, SparseCategoricalCrossentropy:
		return crossentropyLoss{name: lossChoice}, nil
	case BinaryCrossentropy:
		return binaryCrossentropyLoss{}, nil
	case MeanSquaredError:
		return meanSquaredErrorLoss{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedLoss, lossChoice)
}
