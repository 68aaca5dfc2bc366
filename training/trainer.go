// Package training 기본 모델 학습과 테스트 데이터 평가
package training

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"k8s.io/klog/v2"
)

// ErrNotPreprocessed 데이터 전처리 전에 학습/평가를 요청
var ErrNotPreprocessed = errors.New("Data has not been preprocessed")

// ErrClassMismatch 데이터 클래스와 모델 레이블 불일치
var ErrClassMismatch = errors.New("Data classes do not match the model")

// ModelTrainer updated base model을 학습하고 저장
type ModelTrainer struct {
	cfg          config.ModelTraining
	loader       model.BackboneLoader
	preprocessor *preprocess.Preprocessor

	model *model.Classifier
	train *preprocess.DirectoryIterator
	valid *preprocess.DirectoryIterator

	// Callbacks epoch마다 호출 (실험 추적 등)
	Callbacks []model.Callback
}

// NewModelTrainer 학습기 생성
func NewModelTrainer(trainCfg config.ModelTraining, preprocessingCfg config.DataPreprocessing, loader model.BackboneLoader) *ModelTrainer {
	klog.Info("Model trainer initiated.")

	return &ModelTrainer{
		cfg:          trainCfg,
		loader:       loader,
		preprocessor: preprocess.NewPreprocessor(preprocessingCfg),
	}
}

// Model 현재 모델
func (t *ModelTrainer) Model() *model.Classifier {
	return t.model
}

// GetBaseModel base_model_path에서 모델 로드
func (t *ModelTrainer) GetBaseModel() error {
	klog.Infof("Loading base model from %s.", t.cfg.BaseModelPath)

	m, err := model.Load(t.cfg.BaseModelPath, t.loader)
	if err != nil {
		return err
	}
	if m.Head() == nil {
		m.Close()
		return fmt.Errorf("%w: %s has no classification layer", model.ErrNotPrepared, t.cfg.BaseModelPath)
	}

	if t.model != nil {
		t.model.Close()
	}
	t.model = m

	return nil
}

// PreprocessData train, valid 배치 생성기 준비
func (t *ModelTrainer) PreprocessData() error {
	klog.Info("Preprocessing data before model training.")

	train, valid, err := t.preprocessor.PreprocessData()
	if err != nil {
		return err
	}
	t.train, t.valid = train, valid

	return nil
}

func steps(src model.BatchSource) int {
	return src.Samples() / src.BatchSize()
}

// Train 학습 후 trained_model_path에 저장
func (t *ModelTrainer) Train(ctx context.Context) (*model.History, error) {
	if t.train == nil || t.valid == nil {
		return nil, fmt.Errorf("%w: call PreprocessData before training", ErrNotPreprocessed)
	}
	if t.model == nil {
		return nil, fmt.Errorf("%w: call GetBaseModel before training", model.ErrNotPrepared)
	}
	if n := t.train.NumClasses(); n != t.model.NumClasses() {
		return nil, fmt.Errorf("%w: found %d classes in training data, model has %d", ErrClassMismatch, n, t.model.NumClasses())
	}

	t.model.Labels = t.train.ClassNames()

	klog.Infof("Model training started with Epochs=%d.", t.cfg.Epochs)
	history, err := t.model.Fit(ctx, t.train, t.valid, model.FitOptions{
		Epochs:          t.cfg.Epochs,
		StepsPerEpoch:   steps(t.train),
		ValidationSteps: steps(t.valid),
		Callbacks:       t.Callbacks,
	})
	if err != nil {
		return nil, err
	}

	klog.Infof("Saving the trained model to %s.", t.cfg.TrainedModelPath)
	if err := t.model.Save(t.cfg.TrainedModelPath); err != nil {
		return nil, err
	}

	return history, nil
}

// Close 모델 해제
func (t *ModelTrainer) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}
