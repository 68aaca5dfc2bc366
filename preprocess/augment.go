package preprocess

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Transform 한 이미지에 적용할 무작위 변환 값
type Transform struct {
	Theta  float64 // 회전 (degree)
	Tx, Ty float64 // 세로, 가로 이동 (pixel)
	Shear  float64 // 전단 (degree)
	Zx, Zy float64 // 세로, 가로 확대
	Flip   bool    // 좌우 반전
}

// Identity 아무 변환도 하지 않는지 여부
func (t Transform) Identity() bool {
	return t.rigid() && !t.Flip
}

func (t Transform) rigid() bool {
	return t.Theta == 0 && t.Tx == 0 && t.Ty == 0 && t.Shear == 0 &&
		(t.Zx == 0 || t.Zx == 1) && (t.Zy == 0 || t.Zy == 1)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// 1 미만의 이동 범위는 이미지 크기에 대한 비율
func shift(rng *rand.Rand, r float64, size int) float64 {
	if r == 0 {
		return 0
	}
	v := uniform(rng, -r, r)
	if r < 1 {
		v *= float64(size)
	}
	return v
}

// RandomTransform 설정된 증강 범위에서 변환 값을 뽑는다
func (g *ImageDataGenerator) RandomTransform(rng *rand.Rand, height, width int) Transform {
	t := Transform{Zx: 1, Zy: 1}

	if g.RotationRange != 0 {
		t.Theta = uniform(rng, -g.RotationRange, g.RotationRange)
	}
	t.Tx = shift(rng, g.HeightShiftRange, height)
	t.Ty = shift(rng, g.WidthShiftRange, width)
	if g.ShearRange != 0 {
		t.Shear = uniform(rng, -g.ShearRange, g.ShearRange)
	}
	if g.ZoomRange != 0 {
		t.Zx = uniform(rng, 1-g.ZoomRange, 1+g.ZoomRange)
		t.Zy = uniform(rng, 1-g.ZoomRange, 1+g.ZoomRange)
	}
	if g.HorizontalFlip {
		t.Flip = rng.Float64() < 0.5
	}

	return t
}

// 출력 좌표 (row, col, 1)을 입력 좌표로 보내는 행렬
func (t Transform) matrix(height, width int) *mat.Dense {
	m := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})

	mul := func(d []float64) {
		var r mat.Dense
		r.Mul(m, mat.NewDense(3, 3, d))
		m = &r
	}

	if t.Theta != 0 {
		th := t.Theta * math.Pi / 180
		mul([]float64{math.Cos(th), -math.Sin(th), 0, math.Sin(th), math.Cos(th), 0, 0, 0, 1})
	}
	if t.Tx != 0 || t.Ty != 0 {
		mul([]float64{1, 0, t.Tx, 0, 1, t.Ty, 0, 0, 1})
	}
	if t.Shear != 0 {
		sh := t.Shear * math.Pi / 180
		mul([]float64{1, -math.Sin(sh), 0, 0, math.Cos(sh), 0, 0, 0, 1})
	}
	zx, zy := t.Zx, t.Zy
	if zx == 0 {
		zx = 1
	}
	if zy == 0 {
		zy = 1
	}
	if zx != 1 || zy != 1 {
		mul([]float64{zx, 0, 0, 0, zy, 0, 0, 0, 1})
	}

	// 이미지 중심 기준으로 변환
	ox := float64(height)/2 - 0.5
	oy := float64(width)/2 - 0.5
	offset := mat.NewDense(3, 3, []float64{1, 0, ox, 0, 1, oy, 0, 0, 1})
	reset := mat.NewDense(3, 3, []float64{1, 0, -ox, 0, 1, -oy, 0, 0, 1})

	var c mat.Dense
	c.Product(offset, m, reset)

	return &c
}

// Apply HWC 이미지에 변환을 적용. 영역 밖은 가장 가까운 경계 픽셀로 채운다
func (t Transform) Apply(img []float32, height, width, channels int) []float32 {
	if t.Identity() {
		return img
	}

	out := img
	if !t.rigid() {
		out = affine(img, height, width, channels, t.matrix(height, width))
	}

	if t.Flip {
		out = flipHorizontal(out, height, width, channels)
	}

	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func affine(img []float32, height, width, channels int, m *mat.Dense) []float32 {
	out := make([]float32, len(img))

	a, b, c := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	d, e, f := m.At(1, 0), m.At(1, 1), m.At(1, 2)

	for r := 0; r < height; r++ {
		for col := 0; col < width; col++ {
			sr := a*float64(r) + b*float64(col) + c
			sc := d*float64(r) + e*float64(col) + f

			r0 := int(math.Floor(sr))
			c0 := int(math.Floor(sc))
			fr := float32(sr - float64(r0))
			fc := float32(sc - float64(c0))

			r0c, r1c := clampInt(r0, 0, height-1), clampInt(r0+1, 0, height-1)
			c0c, c1c := clampInt(c0, 0, width-1), clampInt(c0+1, 0, width-1)

			o := (r*width + col) * channels
			for ch := 0; ch < channels; ch++ {
				p00 := img[(r0c*width+c0c)*channels+ch]
				p01 := img[(r0c*width+c1c)*channels+ch]
				p10 := img[(r1c*width+c0c)*channels+ch]
				p11 := img[(r1c*width+c1c)*channels+ch]

				top := p00 + (p01-p00)*fc
				bottom := p10 + (p11-p10)*fc
				out[o+ch] = top + (bottom-top)*fr
			}
		}
	}

	return out
}

func flipHorizontal(img []float32, height, width, channels int) []float32 {
	out := make([]float32, len(img))

	for r := 0; r < height; r++ {
		for col := 0; col < width; col++ {
			src := (r*width + col) * channels
			dst := (r*width + (width - 1 - col)) * channels
			copy(out[dst:dst+channels], img[src:src+channels])
		}
	}

	return out
}
