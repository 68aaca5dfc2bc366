package preprocess

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrEmpty 이미지가 하나도 없음
var ErrEmpty = errors.New("No images found")

// Batch 이미지 배치. Images는 각각 HWC 순서의 float32 배열
type Batch struct {
	Images   [][]float32
	Labels   []int
	Height   int
	Width    int
	Channels int
}

// Len 배치 크기
func (b *Batch) Len() int {
	return len(b.Images)
}

// DirectoryIterator 디렉토리 이미지를 배치 단위로 순환하며 읽는다
type DirectoryIterator struct {
	Directory    string
	ClassIndices map[string]int

	classNames []string
	filenames  []string
	classes    []int

	generator *ImageDataGenerator
	opts      FlowOptions

	mu      sync.Mutex
	rng     *rand.Rand
	indices []int
	pos     int
	epoch   int
}

// Samples 전체 이미지 수
func (it *DirectoryIterator) Samples() int {
	return len(it.filenames)
}

// BatchSize 배치 크기
func (it *DirectoryIterator) BatchSize() int {
	return it.opts.BatchSize
}

// Len 한 epoch의 배치 수
func (it *DirectoryIterator) Len() int {
	n := len(it.filenames)
	return (n + it.opts.BatchSize - 1) / it.opts.BatchSize
}

// ClassNames 인덱스 순서의 클래스 이름
func (it *DirectoryIterator) ClassNames() []string {
	names := make([]string, len(it.classNames))
	copy(names, it.classNames)
	return names
}

// NumClasses 클래스 수
func (it *DirectoryIterator) NumClasses() int {
	return len(it.classNames)
}

// Classes 이미지별 클래스 인덱스
func (it *DirectoryIterator) Classes() []int {
	return it.classes
}

// Reset 처음부터 다시 읽는다
func (it *DirectoryIterator) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.reset()
}

func (it *DirectoryIterator) reset() {
	it.pos = 0
	it.indices = make([]int, len(it.filenames))
	for i := range it.indices {
		it.indices[i] = i
	}
	if it.opts.Shuffle {
		it.rng.Shuffle(len(it.indices), func(i, j int) {
			it.indices[i], it.indices[j] = it.indices[j], it.indices[i]
		})
	}
}

type loadJob struct {
	path      string
	transform Transform
}

// Next 다음 배치. 마지막 배치는 batch size보다 작을 수 있고, 끝나면 다음 epoch로 넘어간다
func (it *DirectoryIterator) Next(ctx context.Context) (*Batch, error) {
	if len(it.filenames) == 0 {
		return nil, ErrEmpty
	}

	h, w := it.opts.TargetSize[0], it.opts.TargetSize[1]

	// 셔플과 무작위 변환은 lock 안에서 순서대로 뽑아 seed 재현성을 유지
	it.mu.Lock()
	if it.pos >= len(it.indices) {
		it.epoch++
		it.reset()
	}
	end := it.pos + it.opts.BatchSize
	if end > len(it.indices) {
		end = len(it.indices)
	}
	picked := it.indices[it.pos:end]
	it.pos = end

	jobs := make([]loadJob, len(picked))
	labels := make([]int, len(picked))
	for i, idx := range picked {
		jobs[i].path = it.filenames[idx]
		labels[i] = it.classes[idx]
		if it.generator.Augments() {
			jobs[i].transform = it.generator.RandomTransform(it.rng, h, w)
		}
	}
	it.mu.Unlock()

	images := make([][]float32, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.opts.Workers)
	for i := range jobs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			img, err := LoadImage(jobs[i].path, h, w, it.opts.Interpolation)
			if err != nil {
				return err
			}
			img = jobs[i].transform.Apply(img, h, w, Channels)
			it.generator.Standardize(img)
			images[i] = img

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Batch{
		Images:   images,
		Labels:   labels,
		Height:   h,
		Width:    w,
		Channels: Channels,
	}, nil
}
