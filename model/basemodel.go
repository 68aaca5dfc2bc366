package model

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// BackboneOverrideFile SavedModel 디렉토리 안에서 연산자 이름 등을 덮어쓰는 파일
const BackboneOverrideFile = "backbone.yaml"

const defaultLearningRate = 0.001

// BaseModel 사전학습 backbone을 준비하고 분류 레이어를 붙인다
type BaseModel struct {
	cfg    config.BaseModel
	loader BackboneLoader

	arch      CNNModel
	optimizer ModelOptimizer
	loss      Loss

	model *Classifier
}

// NewBaseModel 설정에 맞는 아키텍처, optimizer, loss 선택
func NewBaseModel(cfg config.BaseModel, loader BackboneLoader) (*BaseModel, error) {
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("CLASSES must be at least 2: %d", cfg.Classes)
	}

	arch, err := GetCNNModel(cfg.ModelType)
	if err != nil {
		return nil, err
	}
	optimizer, err := GetModelOptimizer(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	loss, err := GetModelLoss(cfg.LossFunction)
	if err != nil {
		return nil, err
	}

	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaultLearningRate
	}

	return &BaseModel{
		cfg:       cfg,
		loader:    loader,
		arch:      arch,
		optimizer: optimizer,
		loss:      loss,
	}, nil
}

func applyOverride(spec *BackboneSpec, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, BackboneOverrideFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	var o BackboneSpec
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("Invalid %s: %w", BackboneOverrideFile, err)
	}

	if len(o.Tags) > 0 {
		spec.Tags = o.Tags
	}
	if o.InputOperationName != "" {
		spec.InputOperationName = o.InputOperationName
	}
	if o.OutputOperationName != "" {
		spec.OutputOperationName = o.OutputOperationName
	}

	return nil
}

// GetBaseModel 사전학습 backbone을 로드하고 base_model_path에 저장
func (b *BaseModel) GetBaseModel() (*Classifier, error) {
	spec, err := b.arch.CreateModel(b.cfg.IncludeTop, b.cfg.Weights, b.cfg.InputImageSize)
	if err != nil {
		return nil, err
	}

	spec.SavedModel = filepath.Join(b.cfg.BackbonesDir, spec.SavedModel)
	if err := applyOverride(&spec, spec.SavedModel); err != nil {
		return nil, err
	}

	backbone, err := b.loader(spec)
	if err != nil {
		return nil, fmt.Errorf("Fail to load %s backbone(%s): %w", spec.Type, spec.SavedModel, err)
	}

	m, err := NewClassifier(spec.Type, spec, backbone)
	if err != nil {
		backbone.Close()
		return nil, err
	}
	m.Description = fmt.Sprintf("%s backbone (weights: %s)", spec.Type, spec.Weights)

	if err := m.Save(b.cfg.BaseModelPath); err != nil {
		m.Close()
		return nil, err
	}

	b.model = m

	return m, nil
}

// PrepareModel backbone을 고정하고 Flatten + Dense(softmax)를 붙여 compile.
// backbone 레이어 학습(freezeAll=false 또는 freezeTill>0)은 지원하지 않는다
func (b *BaseModel) PrepareModel(freezeAll bool, freezeTill int) (*Classifier, error) {
	if b.model == nil {
		return nil, fmt.Errorf("%w: call GetBaseModel first", ErrNotPrepared)
	}
	if !freezeAll || freezeTill > 0 {
		return nil, ErrFineTuneUnsupported
	}

	rng := rand.New(rand.NewSource(b.cfg.Seed))

	m := &Classifier{
		Name:        b.model.Name,
		Spec:        b.model.Spec,
		FeatureSize: b.model.FeatureSize,
		Description: fmt.Sprintf("%s + dense(%d, softmax)", b.model.Spec.Type, b.cfg.Classes),
		backbone:    b.model.backbone,
	}
	if err := m.SetHead(NewDense(m.FeatureSize, b.cfg.Classes, rng)); err != nil {
		return nil, err
	}
	m.CompileWith(b.optimizer.GetOptimizer(b.cfg.LearningRate), b.loss)

	klog.Infof("Prepared model\n%s", m.Summary())

	return m, nil
}

// UpdateBaseModel 전체 고정 모델을 updated_base_model_path에 저장
func (b *BaseModel) UpdateBaseModel() (*Classifier, error) {
	m, err := b.PrepareModel(true, 0)
	if err != nil {
		return nil, err
	}

	if err := m.Save(b.cfg.UpdatedBaseModelPath); err != nil {
		return nil, err
	}

	return m, nil
}

// Close backbone 해제
func (b *BaseModel) Close() error {
	if b.model == nil {
		return nil
	}
	return b.model.Close()
}
