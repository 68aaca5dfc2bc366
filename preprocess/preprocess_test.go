package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, solidImage(20, 10, c)))
}

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
)

// root/<split>/{adenocarcinoma,normal}/*.png
func makeDataset(t *testing.T, perClass map[string]int) string {
	t.Helper()

	root := t.TempDir()
	for _, split := range []string{"train", "valid", "test"} {
		for class, n := range perClass {
			c := red
			if class == "normal" {
				c = green
			}
			for i := 0; i < n; i++ {
				writePNG(t, filepath.Join(root, split, class, string(rune('a'+i))+".png"), c)
			}
		}
		// 이미지가 아닌 파일은 무시
		require.NoError(t, os.WriteFile(filepath.Join(root, split, "normal", "notes.txt"), []byte("x"), 0o644))
	}

	return root
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(40, 20, color.RGBA{10, 20, 30, 255})))

	img, err := DecodeImage(&buf, 4, 6, InterpolationBilinear)
	require.NoError(t, err)
	require.Len(t, img, 4*6*3)
	assert.Equal(t, []float32{10, 20, 30}, img[:3])
	assert.Equal(t, []float32{10, 20, 30}, img[len(img)-3:])
}

func TestDecodeImageJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(16, 16, color.RGBA{200, 200, 200, 255}), nil))

	img, err := DecodeImage(&buf, 8, 8, InterpolationNearest)
	require.NoError(t, err)
	assert.InDelta(t, 200, img[0], 3)
}

func TestDecodeImageErrors(t *testing.T) {
	_, err := DecodeImage(bytes.NewReader([]byte("not an image")), 4, 4, "")
	assert.Error(t, err)

	_, err = DecodeImage(bytes.NewReader(nil), 0, 4, "")
	assert.Error(t, err)

	_, err = DecodeImage(bytes.NewReader(nil), 4, 4, "lanczos")
	assert.Error(t, err)
}

func TestFlowFromDirectory(t *testing.T) {
	root := makeDataset(t, map[string]int{"normal": 3, "adenocarcinoma": 2})

	g := NewImageDataGenerator(false)
	it, err := g.FlowFromDirectory(filepath.Join(root, "train"), FlowOptions{
		TargetSize: [2]int{8, 8},
		BatchSize:  2,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, it.Samples())
	assert.Equal(t, 3, it.Len())
	assert.Equal(t, []string{"adenocarcinoma", "normal"}, it.ClassNames())
	assert.Equal(t, map[string]int{"adenocarcinoma": 0, "normal": 1}, it.ClassIndices)
	assert.Equal(t, []int{0, 0, 1, 1, 1}, it.Classes())

	var labels []int
	sizes := []int{}
	for i := 0; i < it.Len(); i++ {
		b, err := it.Next(context.Background())
		require.NoError(t, err)
		sizes = append(sizes, b.Len())
		labels = append(labels, b.Labels...)

		for j, img := range b.Images {
			require.Len(t, img, 8*8*3)
			// rescale 1/255
			if b.Labels[j] == 0 {
				assert.InDelta(t, 1.0, img[0], 1e-6)
				assert.InDelta(t, 0.0, img[1], 1e-6)
			} else {
				assert.InDelta(t, 0.0, img[0], 1e-6)
				assert.InDelta(t, 1.0, img[1], 1e-6)
			}
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{0, 0, 1, 1, 1}, labels)

	// 다음 epoch로 순환
	b, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, b.Labels)
}

func TestFlowFromDirectoryShuffleSeed(t *testing.T) {
	root := makeDataset(t, map[string]int{"normal": 6, "adenocarcinoma": 6})

	order := func() []int {
		it, err := NewImageDataGenerator(false).FlowFromDirectory(filepath.Join(root, "train"), FlowOptions{
			TargetSize: [2]int{4, 4},
			BatchSize:  12,
			Shuffle:    true,
			Seed:       42,
		})
		require.NoError(t, err)
		b, err := it.Next(context.Background())
		require.NoError(t, err)
		return b.Labels
	}

	first := order()
	assert.Equal(t, first, order())
	assert.ElementsMatch(t, []int{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}, first)
}

func TestFlowFromDirectorySubset(t *testing.T) {
	root := makeDataset(t, map[string]int{"normal": 5, "adenocarcinoma": 10})
	dir := filepath.Join(root, "train")
	g := NewImageDataGenerator(false)

	val, err := g.FlowFromDirectory(dir, FlowOptions{TargetSize: [2]int{4, 4}, Subset: SubsetValidation})
	require.NoError(t, err)
	train, err := g.FlowFromDirectory(dir, FlowOptions{TargetSize: [2]int{4, 4}, Subset: SubsetTraining})
	require.NoError(t, err)

	assert.Equal(t, 3, val.Samples())
	assert.Equal(t, 12, train.Samples())

	_, err = g.FlowFromDirectory(dir, FlowOptions{TargetSize: [2]int{4, 4}, Subset: "test"})
	assert.Error(t, err)
}

func TestFlowFromDirectoryEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "normal"), 0o755))

	it, err := NewImageDataGenerator(false).FlowFromDirectory(dir, FlowOptions{TargetSize: [2]int{4, 4}})
	require.NoError(t, err)

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestAugmentedBatchesKeepShape(t *testing.T) {
	root := makeDataset(t, map[string]int{"normal": 2, "adenocarcinoma": 2})

	it, err := NewImageDataGenerator(true).FlowFromDirectory(filepath.Join(root, "train"), FlowOptions{
		TargetSize: [2]int{8, 8},
		BatchSize:  4,
		Shuffle:    true,
		Seed:       1,
	})
	require.NoError(t, err)

	b, err := it.Next(context.Background())
	require.NoError(t, err)
	for i, img := range b.Images {
		require.Len(t, img, 8*8*3)
		// 단색 이미지는 어떤 변환을 해도 같은 색
		want := float32(0)
		if b.Labels[i] == 1 {
			want = 1
		}
		for p := 0; p < len(img); p += 3 {
			assert.InDelta(t, want, img[p+1], 1e-4)
		}
	}
}

func TestTransformFlip(t *testing.T) {
	// 1x3 이미지, 1채널
	img := []float32{1, 2, 3}
	out := Transform{Flip: true}.Apply(img, 1, 3, 1)
	assert.Equal(t, []float32{3, 2, 1}, out)
	assert.Equal(t, []float32{1, 2, 3}, img)
}

func TestTransformIdentity(t *testing.T) {
	img := []float32{1, 2, 3, 4}
	assert.True(t, Transform{}.Identity())
	assert.True(t, Transform{Zx: 1, Zy: 1}.Identity())
	assert.Equal(t, img, Transform{Zx: 1, Zy: 1}.Apply(img, 2, 2, 1))
}

func TestTransformShift(t *testing.T) {
	// 3x3 이미지를 가로로 1픽셀 이동. 입력 좌표 = 출력 좌표 + 1
	img := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	out := Transform{Ty: 1}.Apply(img, 3, 3, 1)
	assert.InDeltaSlice(t, []float32{
		2, 3, 3,
		5, 6, 6,
		8, 9, 9,
	}, out, 1e-5)
}

func TestTransformRotate180(t *testing.T) {
	img := []float32{
		1, 2,
		3, 4,
	}
	out := Transform{Theta: 180}.Apply(img, 2, 2, 1)
	assert.InDeltaSlice(t, []float32{4, 3, 2, 1}, out, 1e-4)
}

func TestRandomTransformRanges(t *testing.T) {
	g := NewImageDataGenerator(true)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		tr := g.RandomTransform(rng, 100, 50)
		assert.LessOrEqual(t, tr.Theta, 40.0)
		assert.GreaterOrEqual(t, tr.Theta, -40.0)
		assert.LessOrEqual(t, tr.Tx, 20.0)
		assert.LessOrEqual(t, tr.Ty, 10.0)
		assert.GreaterOrEqual(t, tr.Zx, 0.8)
		assert.LessOrEqual(t, tr.Zy, 1.2)
	}

	assert.False(t, NewImageDataGenerator(false).Augments())
	assert.True(t, g.Augments())
}

func TestPreprocessor(t *testing.T) {
	root := makeDataset(t, map[string]int{"normal": 3, "adenocarcinoma": 3})

	p := NewPreprocessor(config.DataPreprocessing{
		TrainingData: root,
		ImageSize:    []int{8, 8, 3},
		BatchSize:    2,
		Augmentation: true,
		Seed:         3,
	})

	train, valid, err := p.PreprocessData()
	require.NoError(t, err)
	assert.Equal(t, 6, train.Samples())
	assert.Equal(t, 6, valid.Samples())
	assert.True(t, train.generator.Augments())
	assert.False(t, valid.generator.Augments())

	test, err := p.PreprocessTestData()
	require.NoError(t, err)
	assert.Equal(t, 6, test.Samples())
	assert.Equal(t, 2, test.BatchSize())

	bad := NewPreprocessor(config.DataPreprocessing{TrainingData: root, ImageSize: []int{8, 8}})
	_, _, err = bad.PreprocessData()
	assert.Error(t, err)
}
