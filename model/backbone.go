package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"gonum.org/v1/gonum/mat"
)

// ErrUnsupportedModel 지원하지 않는 CNN 모델
var ErrUnsupportedModel = errors.New("Model is not supported")

const (
	VGG16     string = "vgg16"
	MobileNet string = "mobilenet"
	ResNet50  string = "resnet50"
)

const (
	defaultInputOperation  = "serving_default_input_1"
	defaultOutputOperation = "StatefulPartitionedCall"
	minInputSize           = 32
	topInputSize           = 224
)

// BackboneSpec 사전학습 CNN(SavedModel) 정보
type BackboneSpec struct {
	Type                string   `yaml:"type"`
	SavedModel          string   `yaml:"savedModel"`
	Tags                []string `yaml:"tags"`
	InputOperationName  string   `yaml:"inputOperationName"`
	OutputOperationName string   `yaml:"outputOperationName"`
	IncludeTop          bool     `yaml:"includeTop"`
	Weights             string   `yaml:"weights"`
	InputShape          []int    `yaml:"inputShape"`
}

// Backbone 고정된(frozen) 특징 추출기
type Backbone interface {
	// Extract 배치 이미지의 특징을 (batch, features) 행렬로 반환
	Extract(ctx context.Context, batch *preprocess.Batch) (*mat.Dense, error)
	// FeatureSize flatten된 특징 크기
	FeatureSize() (int, error)
	Close() error
}

// BackboneLoader BackboneSpec으로 Backbone을 로드
type BackboneLoader func(spec BackboneSpec) (Backbone, error)

// CNNModel 사전학습 CNN 아키텍처
type CNNModel interface {
	Name() string
	// CreateModel include_top, weights, 입력 크기에 맞는 backbone 정보 생성
	CreateModel(includeTop bool, weights string, inputImageSize []int) (BackboneSpec, error)
}

type application struct {
	name string
	// squareWeights 사전학습 가중치가 정사각형 입력만 지원
	squareWeights bool
}

func (a application) Name() string {
	return a.name
}

func weightsName(weights string) string {
	if weights == "" || weights == "none" || weights == "None" {
		return "random"
	}
	return weights
}

func (a application) CreateModel(includeTop bool, weights string, inputImageSize []int) (BackboneSpec, error) {
	if len(inputImageSize) != 3 {
		return BackboneSpec{}, fmt.Errorf("%s: input image size must be [height, width, channels]: %v", a.name, inputImageSize)
	}

	h, w, c := inputImageSize[0], inputImageSize[1], inputImageSize[2]
	if c != preprocess.Channels {
		return BackboneSpec{}, fmt.Errorf("%s: input must have %d channels: %v", a.name, preprocess.Channels, inputImageSize)
	}
	if h < minInputSize || w < minInputSize {
		return BackboneSpec{}, fmt.Errorf("%s: input size must be at least %dx%d: %v", a.name, minInputSize, minInputSize, inputImageSize)
	}

	weights = weightsName(weights)
	if includeTop && weights != "random" && (h != topInputSize || w != topInputSize) {
		return BackboneSpec{}, fmt.Errorf("%s: include_top with %s weights requires %dx%d input: %v",
			a.name, weights, topInputSize, topInputSize, inputImageSize)
	}
	if a.squareWeights && weights != "random" && h != w {
		return BackboneSpec{}, fmt.Errorf("%s: %s weights require square input: %v", a.name, weights, inputImageSize)
	}

	dir := weights
	if !includeTop {
		dir += "_notop"
	}

	return BackboneSpec{
		Type:                a.name,
		SavedModel:          filepath.Join(a.name, dir),
		Tags:                []string{"serve"},
		InputOperationName:  defaultInputOperation,
		OutputOperationName: defaultOutputOperation,
		IncludeTop:          includeTop,
		Weights:             weights,
		InputShape:          []int{h, w, c},
	}, nil
}

// GetCNNModel model_type에 맞는 CNN 아키텍처
func GetCNNModel(modelType string) (CNNModel, error) {
	switch modelType {
	case VGG16:
		return application{name: VGG16}, nil
	case MobileNet:
		return application{name: MobileNet, squareWeights: true}, nil
	case ResNet50:
		return application{name: ResNet50}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, modelType)
}
