// Package modeltest TensorFlow 없이 model 패키지를 테스트하기 위한 도구
package modeltest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// ErrClosed 이미 해제된 backbone
var ErrClosed = errors.New("Backbone is closed")

// Backbone 채널별 평균을 특징으로 쓰는 가짜 backbone
type Backbone struct {
	Spec   model.BackboneSpec
	closed int32
}

// Extract (batch, channels) 채널 평균
func (b *Backbone) Extract(ctx context.Context, batch *preprocess.Batch) (*mat.Dense, error) {
	if atomic.LoadInt32(&b.closed) == 1 {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := batch.Channels
	out := mat.NewDense(batch.Len(), c, nil)
	for i, img := range batch.Images {
		row := out.RawRowView(i)
		for p := 0; p < len(img); p += c {
			for ch := 0; ch < c; ch++ {
				row[ch] += float64(img[p+ch])
			}
		}
		pixels := float64(len(img) / c)
		for ch := range row {
			row[ch] /= pixels
		}
	}

	return out, nil
}

// FeatureSize 채널 수
func (b *Backbone) FeatureSize() (int, error) {
	return preprocess.Channels, nil
}

// Close 해제 표시
func (b *Backbone) Close() error {
	atomic.StoreInt32(&b.closed, 1)
	return nil
}

// Closed 해제 여부
func (b *Backbone) Closed() bool {
	return atomic.LoadInt32(&b.closed) == 1
}

// Loader 로드된 backbone을 기록하는 BackboneLoader
type Loader struct {
	mu        sync.Mutex
	Backbones []*Backbone
	Err       error
}

// Load model.BackboneLoader
func (l *Loader) Load(spec model.BackboneSpec) (model.Backbone, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}

	b := &Backbone{Spec: spec}
	l.Backbones = append(l.Backbones, b)
	return b, nil
}

// Loaded 로드 횟수
func (l *Loader) Loaded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Backbones)
}

var (
	// Red adenocarcinoma 클래스 색
	Red = color.RGBA{255, 0, 0, 255}
	// Green normal 클래스 색
	Green = color.RGBA{0, 255, 0, 255}
)

// ClassColors 클래스별 이미지 색
var ClassColors = map[string]color.RGBA{
	"adenocarcinoma": Red,
	"normal":         Green,
}

// WritePNG 단색 PNG 이미지 생성
func WritePNG(t testing.TB, path string, c color.RGBA, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// WriteDataset root/{train,valid,test}/<class>/*.png 생성
func WriteDataset(t testing.TB, root string, perClass int) {
	t.Helper()

	for _, split := range []string{"train", "valid", "test"} {
		for class, c := range ClassColors {
			for i := 0; i < perClass; i++ {
				WritePNG(t, filepath.Join(root, split, class, strconv.Itoa(i)+".png"), c, 8, 8)
			}
		}
	}
}
