package preprocess

import (
	"fmt"
	"path/filepath"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"k8s.io/klog/v2"
)

// Preprocessor 학습, 검증, 테스트용 배치 생성기를 만든다
type Preprocessor struct {
	cfg config.DataPreprocessing
}

// NewPreprocessor 전처리기 생성
func NewPreprocessor(cfg config.DataPreprocessing) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

func (p *Preprocessor) targetSize() ([2]int, error) {
	if len(p.cfg.ImageSize) != 3 {
		return [2]int{}, fmt.Errorf("IMAGE_SIZE must be [height, width, channels]: %v", p.cfg.ImageSize)
	}
	if p.cfg.ImageSize[2] != Channels {
		return [2]int{}, fmt.Errorf("Only %d channel images are supported: %v", Channels, p.cfg.ImageSize)
	}
	return [2]int{p.cfg.ImageSize[0], p.cfg.ImageSize[1]}, nil
}

func (p *Preprocessor) flow(g *ImageDataGenerator, subdir string, shuffle bool) (*DirectoryIterator, error) {
	size, err := p.targetSize()
	if err != nil {
		return nil, err
	}

	return g.FlowFromDirectory(filepath.Join(p.cfg.TrainingData, subdir), FlowOptions{
		TargetSize:    size,
		BatchSize:     p.cfg.BatchSize,
		Shuffle:       shuffle,
		Seed:          p.cfg.Seed,
		Interpolation: InterpolationBilinear,
	})
}

// PreprocessData train(셔플, 증강 설정 반영), valid(셔플/증강 없음) 생성기
func (p *Preprocessor) PreprocessData() (*DirectoryIterator, *DirectoryIterator, error) {
	klog.Info("Initializing training and validation data generators.")

	train, err := p.flow(NewImageDataGenerator(p.cfg.Augmentation), "train", true)
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("Training Data processing completed. Found %d images belonging to %d classes.",
		train.Samples(), train.NumClasses())

	valid, err := p.flow(NewImageDataGenerator(false), "valid", false)
	if err != nil {
		return nil, nil, err
	}
	klog.Infof("Validation Data processing completed. Found %d images belonging to %d classes.",
		valid.Samples(), valid.NumClasses())

	return train, valid, nil
}

// PreprocessTestData test 생성기 (rescale만 적용)
func (p *Preprocessor) PreprocessTestData() (*DirectoryIterator, error) {
	klog.Info("Initializing testing data generator.")

	test, err := p.flow(&ImageDataGenerator{Rescale: 1. / 255}, "test", false)
	if err != nil {
		return nil, err
	}
	klog.Infof("Testing Data processing completed. Found %d images belonging to %d classes.",
		test.Samples(), test.NumClasses())

	return test, nil
}
