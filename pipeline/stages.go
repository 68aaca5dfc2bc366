package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/tracking"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/training"
	"k8s.io/klog/v2"
)

const (
	DataIngestionStage       string = "Data Ingestion Step"
	ModelInitializationStage string = "Model Initialization Step"
	ModelTrainingStage       string = "Model Training Step"
	ModelEvaluationStage     string = "Model Evaluation Step"
)

func dataIngestion(ctx context.Context, mgr *config.Manager, deps Deps) error {
	cfg, err := mgr.DataIngestionConfig()
	if err != nil {
		return err
	}

	ingestor, err := deps.NewIngestor(cfg)
	if err != nil {
		return err
	}

	return ingestor.Ingest(ctx)
}

func modelInitialization(_ context.Context, mgr *config.Manager, deps Deps) error {
	cfg, err := mgr.BaseModelConfig()
	if err != nil {
		return err
	}

	b, err := model.NewBaseModel(cfg, deps.Loader)
	if err != nil {
		return err
	}
	defer b.Close()

	if _, err := b.GetBaseModel(); err != nil {
		return err
	}
	updated, err := b.UpdateBaseModel()
	if err != nil {
		return err
	}
	klog.V(1).Infof("Updated base model:\n%s", updated.Summary())

	return nil
}

const endRunTimeout = 10 * time.Second

// run 결과에 따라 상태 기록. 중단된 stage도 기록되도록 ctx 취소와 무관하게 종료
func endRun(ctx context.Context, run tracking.Run, err error) {
	status := tracking.StatusFinished
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = tracking.StatusKilled
	case err != nil:
		status = tracking.StatusFailed
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endRunTimeout)
	defer cancel()
	if endErr := run.End(ctx, status); endErr != nil {
		klog.Warningf("Fail to end run %s: %s", run.ID(), endErr)
	}
}

func modelTraining(ctx context.Context, mgr *config.Manager, deps Deps) (err error) {
	trainCfg, err := mgr.ModelTrainingConfig()
	if err != nil {
		return err
	}
	preprocessingCfg, err := mgr.DataPreprocessingConfig()
	if err != nil {
		return err
	}

	trainer := training.NewModelTrainer(trainCfg, preprocessingCfg, deps.Loader)
	defer trainer.Close()

	if err := trainer.GetBaseModel(); err != nil {
		return err
	}
	if err := trainer.PreprocessData(); err != nil {
		return err
	}

	run, err := deps.Tracker.StartRun(ctx, "training")
	if err != nil {
		return err
	}
	defer func() { endRun(ctx, run, err) }()

	if err := run.LogParams(ctx, tracking.ParamsOf(mgr.Params())); err != nil {
		return err
	}
	trainer.Callbacks = append(trainer.Callbacks, tracking.Autolog{Run: run})

	if _, err := trainer.Train(ctx); err != nil {
		return err
	}

	return run.LogArtifact(ctx, trainCfg.TrainedModelPath, "model")
}

func modelEvaluation(ctx context.Context, mgr *config.Manager, deps Deps) (err error) {
	evalCfg, err := mgr.ModelEvaluationConfig()
	if err != nil {
		return err
	}
	preprocessingCfg, err := mgr.DataPreprocessingConfig()
	if err != nil {
		return err
	}

	evaluator := training.NewModelEvaluator(evalCfg, preprocessingCfg, deps.Loader)
	defer evaluator.Close()

	if err := evaluator.ProcessTestData(); err != nil {
		return err
	}
	if err := evaluator.EvaluateModel(ctx); err != nil {
		return err
	}

	run, err := deps.Tracker.StartRun(ctx, "evaluation")
	if err != nil {
		return err
	}
	defer func() { endRun(ctx, run, err) }()

	if err := run.LogParams(ctx, tracking.ParamsOf(mgr.Params())); err != nil {
		return err
	}
	if err := tracking.LogScore(ctx, run, evaluator.Score()); err != nil {
		return err
	}
	if evalCfg.ScoresPath != "" {
		return run.LogArtifact(ctx, evalCfg.ScoresPath, filepath.Base(evalCfg.RootDir))
	}

	return nil
}
