package preprocess

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Channels 입력 이미지 채널 수 (RGB)
const Channels = 3

const (
	InterpolationNearest  string = "nearest"
	InterpolationBilinear string = "bilinear"
	InterpolationBicubic  string = "bicubic"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImageFile 학습에 사용 가능한 이미지 확장자인지 확인
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

func interpolator(name string) (draw.Interpolator, error) {
	switch name {
	case InterpolationNearest:
		return draw.NearestNeighbor, nil
	case "", InterpolationBilinear:
		return draw.BiLinear, nil
	case InterpolationBicubic:
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("Unsupported interpolation: %s", name)
}

// LoadImage 이미지 파일을 (height, width) 크기의 HWC float32 배열로 로드. 값 범위는 [0, 255]
func LoadImage(path string, height, width int, interpolation string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pixels, err := DecodeImage(f, height, width, interpolation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return pixels, nil
}

// DecodeImage 이미지를 디코딩하고 크기를 조정
func DecodeImage(r io.Reader, height, width int, interpolation string) ([]float32, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("Invalid target size: %dx%d", height, width)
	}

	interp, err := interpolator(interpolation)
	if err != nil {
		return nil, err
	}

	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return toArray(dst), nil
}

func toArray(img *image.RGBA) []float32 {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := make([]float32, h*w*Channels)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4:]
			o := (y*w + x) * Channels
			out[o] = float32(p[0])
			out[o+1] = float32(p[1])
			out[o+2] = float32(p[2])
		}
	}

	return out
}
