package model

import (
	"fmt"
	"io"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dense Flatten 뒤에 붙는 softmax 분류 레이어
type Dense struct {
	Kernel *mat.Dense    // (features, units)
	Bias   *mat.VecDense // (units)
}

// NewDense glorot uniform으로 kernel 초기화, bias는 0
func NewDense(features, units int, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6 / float64(features+units))

	data := make([]float64, features*units)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}

	return &Dense{
		Kernel: mat.NewDense(features, units, data),
		Bias:   mat.NewVecDense(units, nil),
	}
}

// Features 입력 크기
func (d *Dense) Features() int {
	r, _ := d.Kernel.Dims()
	return r
}

// Units 출력(클래스) 크기
func (d *Dense) Units() int {
	_, c := d.Kernel.Dims()
	return c
}

// Params 학습 파라미터 수
func (d *Dense) Params() int {
	return d.Features()*d.Units() + d.Units()
}

// Forward softmax(x·W + b)
func (d *Dense) Forward(x *mat.Dense) (*mat.Dense, error) {
	n, f := x.Dims()
	if f != d.Features() {
		return nil, fmt.Errorf("Feature size mismatch: expected %d, got %d", d.Features(), f)
	}

	out := mat.NewDense(n, d.Units(), nil)
	out.Mul(x, d.Kernel)

	bias := d.Bias.RawVector().Data
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		hi := math.Inf(-1)
		for j := range row {
			row[j] += bias[j]
			if row[j] > hi {
				hi = row[j]
			}
		}
		var sum float64
		for j := range row {
			row[j] = math.Exp(row[j] - hi)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}

	return out, nil
}

// Backward dL/dp를 softmax와 dense를 거쳐 (dW, db)로 변환. 배치 평균
func (d *Dense) Backward(x, probs, gradProbs *mat.Dense) (*mat.Dense, *mat.VecDense) {
	n, c := probs.Dims()
	dz := mat.NewDense(n, c, nil)

	for i := 0; i < n; i++ {
		p, g, z := probs.RawRowView(i), gradProbs.RawRowView(i), dz.RawRowView(i)
		var dot float64
		for j := range p {
			dot += p[j] * g[j]
		}
		for j := range p {
			z[j] = p[j] * (g[j] - dot) / float64(n)
		}
	}

	dw := mat.NewDense(d.Features(), c, nil)
	dw.Mul(x.T(), dz)

	db := mat.NewVecDense(c, nil)
	for j := 0; j < c; j++ {
		db.SetVec(j, mat.Sum(dz.ColView(j)))
	}

	return dw, db
}

// Apply optimizer로 파라미터 갱신
func (d *Dense) Apply(opt Optimizer, dw *mat.Dense, db *mat.VecDense) {
	opt.Update(
		[][]float64{d.Kernel.RawMatrix().Data, d.Bias.RawVector().Data},
		[][]float64{dw.RawMatrix().Data, db.RawVector().Data},
	)
}

// MarshalBinaryTo kernel, bias 순서로 저장
func (d *Dense) MarshalBinaryTo(w io.Writer) error {
	if _, err := d.Kernel.MarshalBinaryTo(w); err != nil {
		return err
	}
	_, err := d.Bias.MarshalBinaryTo(w)
	return err
}

// UnmarshalDense MarshalBinaryTo로 저장된 레이어 로드
func UnmarshalDense(r io.Reader) (*Dense, error) {
	var (
		kernel mat.Dense
		bias   mat.VecDense
	)
	if _, err := kernel.UnmarshalBinaryFrom(r); err != nil {
		return nil, err
	}
	if _, err := bias.UnmarshalBinaryFrom(r); err != nil {
		return nil, err
	}

	if _, c := kernel.Dims(); c != bias.Len() {
		return nil, fmt.Errorf("Corrupted dense layer: kernel units %d, bias %d", c, bias.Len())
	}

	return &Dense{Kernel: &kernel, Bias: &bias}, nil
}
