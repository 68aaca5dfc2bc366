// Package preprocess 디렉토리 기반 이미지 배치 생성기 (증강 포함)
package preprocess

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	SubsetTraining   string = "training"
	SubsetValidation string = "validation"
)

// ImageDataGenerator 이미지 전처리와 증강 설정
type ImageDataGenerator struct {
	Rescale          float32
	RotationRange    float64
	HorizontalFlip   bool
	WidthShiftRange  float64
	HeightShiftRange float64
	ShearRange       float64
	ZoomRange        float64
	ValidationSplit  float64
}

// NewImageDataGenerator augmentation 여부에 따른 기본 생성기
func NewImageDataGenerator(augmentation bool) *ImageDataGenerator {
	if augmentation {
		return &ImageDataGenerator{
			Rescale:          1. / 255,
			RotationRange:    40,
			HorizontalFlip:   true,
			WidthShiftRange:  0.2,
			HeightShiftRange: 0.2,
			ShearRange:       0.2,
			ZoomRange:        0.2,
			ValidationSplit:  0.20,
		}
	}

	return &ImageDataGenerator{
		Rescale:         1. / 255,
		ValidationSplit: 0.20,
	}
}

// Augments 무작위 변환 설정이 있는지 여부
func (g *ImageDataGenerator) Augments() bool {
	return g.RotationRange != 0 || g.HorizontalFlip || g.WidthShiftRange != 0 ||
		g.HeightShiftRange != 0 || g.ShearRange != 0 || g.ZoomRange != 0
}

// Standardize rescale 적용
func (g *ImageDataGenerator) Standardize(img []float32) {
	if g.Rescale == 0 || g.Rescale == 1 {
		return
	}
	for i := range img {
		img[i] *= g.Rescale
	}
}

// FlowOptions FlowFromDirectory 옵션
type FlowOptions struct {
	TargetSize    [2]int // (height, width)
	BatchSize     int
	Shuffle       bool
	Seed          int64
	Interpolation string
	Subset        string
	// Classes 클래스 순서를 직접 지정. 비어 있으면 하위 디렉토리 이름순
	Classes []string
	// Workers 배치 이미지를 동시에 읽는 고루틴 수
	Workers int
}

// FlowFromDirectory dir/<class>/... 구조에서 배치 생성기를 만든다
func (g *ImageDataGenerator) FlowFromDirectory(dir string, opts FlowOptions) (*DirectoryIterator, error) {
	if opts.TargetSize[0] <= 0 || opts.TargetSize[1] <= 0 {
		return nil, fmt.Errorf("Invalid target size: %v", opts.TargetSize)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if _, err := interpolator(opts.Interpolation); err != nil {
		return nil, err
	}

	lo, hi := 0.0, 1.0
	switch opts.Subset {
	case "":
	case SubsetValidation:
		hi = g.ValidationSplit
	case SubsetTraining:
		lo = g.ValidationSplit
	default:
		return nil, fmt.Errorf("Invalid subset name: %s; expected \"training\" or \"validation\"", opts.Subset)
	}
	if opts.Subset != "" && (g.ValidationSplit <= 0 || g.ValidationSplit >= 1) {
		return nil, fmt.Errorf("Subset %s requires validation split in (0, 1): %v", opts.Subset, g.ValidationSplit)
	}

	classNames := opts.Classes
	if len(classNames) == 0 {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				classNames = append(classNames, e.Name())
			}
		}
		sort.Strings(classNames)
	}

	it := &DirectoryIterator{
		Directory:    dir,
		ClassIndices: make(map[string]int),
		classNames:   classNames,
		generator:    g,
		opts:         opts,
		rng:          rand.New(rand.NewSource(opts.Seed)),
	}

	for idx, class := range classNames {
		it.ClassIndices[class] = idx

		files, err := listImages(filepath.Join(dir, class))
		if err != nil {
			return nil, err
		}

		start := int(lo * float64(len(files)))
		stop := int(hi * float64(len(files)))
		for _, f := range files[start:stop] {
			it.filenames = append(it.filenames, f)
			it.classes = append(it.classes, idx)
		}
	}

	it.reset()

	return it, nil
}

func listImages(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	return files, nil
}
