package training

import (
	"context"
	"fmt"
	"slices"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"k8s.io/klog/v2"
)

// ModelEvaluator 학습된 모델을 test 데이터로 평가
type ModelEvaluator struct {
	cfg          config.ModelEvaluation
	loader       model.BackboneLoader
	preprocessor *preprocess.Preprocessor

	model *model.Classifier
	test  *preprocess.DirectoryIterator
	score *model.Score
}

// NewModelEvaluator 평가기 생성
func NewModelEvaluator(evalCfg config.ModelEvaluation, preprocessingCfg config.DataPreprocessing, loader model.BackboneLoader) *ModelEvaluator {
	return &ModelEvaluator{
		cfg:          evalCfg,
		loader:       loader,
		preprocessor: preprocess.NewPreprocessor(preprocessingCfg),
	}
}

// ProcessTestData test 배치 생성기 준비
func (e *ModelEvaluator) ProcessTestData() error {
	klog.Info("Preprocessing test data for evaluation.")

	test, err := e.preprocessor.PreprocessTestData()
	if err != nil {
		return err
	}
	e.test = test

	return nil
}

// EvaluateModel model_path의 모델을 평가하고 scores_path가 있으면 저장
func (e *ModelEvaluator) EvaluateModel(ctx context.Context) error {
	if e.test == nil {
		return fmt.Errorf("%w: call ProcessTestData before evaluation", ErrNotPreprocessed)
	}

	klog.Info("Starting model evaluation on test data.")
	klog.Infof("Loading model from %s.", e.cfg.ModelPath)
	m, err := model.Load(e.cfg.ModelPath, e.loader)
	if err != nil {
		return err
	}
	if e.model != nil {
		e.model.Close()
	}
	e.model = m

	// 클래스 인덱스가 모델 출력 순서와 같아야 한다
	if labels := e.test.ClassNames(); len(m.Labels) > 0 && !slices.Equal(labels, m.Labels) {
		return fmt.Errorf("%w: test classes %v, model labels %v", ErrClassMismatch, labels, m.Labels)
	}
	if n := e.test.NumClasses(); n != m.NumClasses() {
		return fmt.Errorf("%w: found %d classes in test data, model has %d", ErrClassMismatch, n, m.NumClasses())
	}

	score, err := m.Evaluate(ctx, e.test, 0)
	if err != nil {
		return err
	}
	e.score = &score

	klog.Infof("Model Scores: %v.", e.Score())

	if e.cfg.ScoresPath != "" {
		return e.SaveScore()
	}

	return nil
}

// Score {"test_loss", "test_accuracy"}. 평가 전이면 nil
func (e *ModelEvaluator) Score() map[string]float64 {
	if e.score == nil {
		return nil
	}
	return map[string]float64{
		"test_loss":     e.score.Loss,
		"test_accuracy": e.score.Accuracy,
	}
}

// SaveScore scores_path에 json으로 저장
func (e *ModelEvaluator) SaveScore() error {
	if e.score == nil {
		return fmt.Errorf("%w: model has not been evaluated", model.ErrNotPrepared)
	}
	if e.cfg.ScoresPath == "" {
		return fmt.Errorf("%w: model_evaluation.scores_path", config.ErrMissingKey)
	}

	klog.Infof("Saving evaluation scores to %s.", e.cfg.ScoresPath)
	return config.SaveJSON(e.cfg.ScoresPath, e.Score())
}

// Close 모델 해제
func (e *ModelEvaluator) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}
