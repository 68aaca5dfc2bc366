// Package pipeline 데이터 수집부터 평가까지의 단계를 순서대로 실행
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/ingest"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/tracking"
	"k8s.io/klog/v2"
)

// ErrUnknownStage 없는 단계 이름
var ErrUnknownStage = errors.New("Unknown pipeline stage")

// Deps 단계 실행에 필요한 외부 의존성
type Deps struct {
	Loader      model.BackboneLoader
	Tracker     tracking.Tracker
	NewIngestor func(cfg config.DataIngestion) (ingest.Ingestor, error)
}

func (d Deps) withDefaults() Deps {
	if d.Tracker == nil {
		d.Tracker = tracking.Noop{}
	}
	if d.NewIngestor == nil {
		d.NewIngestor = ingest.NewIngestor
	}
	return d
}

// Stage 파이프라인 단계
type Stage struct {
	Name string
	run  func(ctx context.Context, mgr *config.Manager, deps Deps) error
}

// Stages 실행 순서대로 나열된 단계
var Stages = []Stage{
	{Name: DataIngestionStage, run: dataIngestion},
	{Name: ModelInitializationStage, run: modelInitialization},
	{Name: ModelTrainingStage, run: modelTraining},
	{Name: ModelEvaluationStage, run: modelEvaluation},
}

// StageNames 단계 이름 목록
func StageNames() []string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = s.Name
	}
	return names
}

func selectStages(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return Stages, nil
	}

	want := make(map[string]bool)
	for _, name := range names {
		found := false
		for _, s := range Stages {
			if s.Name == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q (available: %q)", ErrUnknownStage, name, StageNames())
		}
		want[name] = true
	}

	var selected []Stage
	for _, s := range Stages {
		if want[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// Run names 단계를 정해진 순서대로 실행. names가 없으면 전체
func Run(ctx context.Context, mgr *config.Manager, deps Deps, names ...string) error {
	stages, err := selectStages(names)
	if err != nil {
		return err
	}
	deps = deps.withDefaults()

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		klog.Infof(">>> %s started.", s.Name)
		if err := s.run(ctx, mgr, deps); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		klog.Infof(">>> %s completed.", s.Name)
	}

	return nil
}
