// Package tracking 실험(run) 파라미터, 지표, 산출물 기록
package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
)

// ErrUnsupportedBackend 지원하지 않는 추적 backend
var ErrUnsupportedBackend = errors.New("Unsupported tracking backend")

const (
	BackendNone   string = "none"
	BackendMLflow string = "mlflow"
	BackendSQL    string = "sql"

	defaultExperiment = "chest-cancer-classification"
	tableName         = "tracking_tab"
)

// Status run 종료 상태
type Status string

const (
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
	StatusKilled   Status = "KILLED"
)

// Tracker run 생성
type Tracker interface {
	StartRun(ctx context.Context, name string) (Run, error)
	Close() error
}

// Run 하나의 실험 실행
type Run interface {
	ID() string
	LogParams(ctx context.Context, params map[string]string) error
	LogMetric(ctx context.Context, key string, value float64, step int) error
	// LogArtifact 로컬 파일 또는 디렉토리를 artifactPath 아래에 기록
	LogArtifact(ctx context.Context, localPath, artifactPath string) error
	End(ctx context.Context, status Status) error
}

// New backend 설정에 맞는 Tracker
func New(ctx context.Context, cfg config.Tracking) (Tracker, error) {
	experiment := cfg.Experiment
	if experiment == "" {
		experiment = defaultExperiment
	}

	switch cfg.Backend {
	case "", BackendNone:
		return Noop{}, nil
	case BackendMLflow:
		if cfg.URI == "" {
			return nil, fmt.Errorf("%w: tracking.uri", config.ErrMissingKey)
		}
		return NewMLflow(cfg.URI, experiment, http.DefaultClient), nil
	case BackendSQL:
		if cfg.Driver == "" || cfg.DSN == "" {
			return nil, fmt.Errorf("%w: tracking.driver, tracking.dsn", config.ErrMissingKey)
		}
		return NewSQL(ctx, cfg.Driver, cfg.DSN, experiment)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
}

// ParamsOf params.yaml 하이퍼파라미터를 문자열 맵으로
func ParamsOf(p config.Params) map[string]string {
	sizes := make([]string, len(p.ImageSize))
	for i, s := range p.ImageSize {
		sizes[i] = strconv.Itoa(s)
	}

	return map[string]string{
		"MODEL_TYPE":    p.ModelType,
		"IMAGE_SIZE":    "[" + strings.Join(sizes, ", ") + "]",
		"LEARNING_RATE": strconv.FormatFloat(p.LearningRate, 'g', -1, 64),
		"INCLUDE_TOP":   strconv.FormatBool(p.IncludeTop),
		"WEIGHTS":       p.Weights,
		"CLASSES":       strconv.Itoa(p.Classes),
		"OPTIMIZER":     p.Optimizer,
		"LOSS_FUNCTION": p.LossFunction,
		"BATCH_SIZE":    strconv.Itoa(p.BatchSize),
		"EPOCHS":        strconv.Itoa(p.Epochs),
		"AUGMENTATION":  strconv.FormatBool(p.Augmentation),
	}
}

// Autolog epoch마다 학습 지표를 run에 기록하는 model.Callback
type Autolog struct {
	Run Run
}

// OnEpochEnd loss, accuracy, val_loss, val_accuracy 기록. step은 0부터
func (a Autolog) OnEpochEnd(ctx context.Context, epoch int, logs model.EpochLogs) error {
	step := epoch - 1
	for _, m := range []struct {
		key   string
		value float64
	}{
		{"loss", logs.Loss},
		{"accuracy", logs.Accuracy},
		{"val_loss", logs.ValLoss},
		{"val_accuracy", logs.ValAccuracy},
	} {
		if err := a.Run.LogMetric(ctx, m.key, m.value, step); err != nil {
			return err
		}
	}
	return nil
}

// LogScore 평가 결과 기록
func LogScore(ctx context.Context, run Run, score map[string]float64) error {
	for key, value := range score {
		if err := run.LogMetric(ctx, key, value, 0); err != nil {
			return err
		}
	}
	return nil
}

func timestamp(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// Noop 아무것도 기록하지 않는 backend
type Noop struct{}

// StartRun Tracker
func (Noop) StartRun(context.Context, string) (Run, error) { return noopRun{}, nil }

// Close Tracker
func (Noop) Close() error { return nil }

type noopRun struct{}

func (noopRun) ID() string                                           { return "" }
func (noopRun) LogParams(context.Context, map[string]string) error   { return nil }
func (noopRun) LogMetric(context.Context, string, float64, int) error { return nil }
func (noopRun) LogArtifact(context.Context, string, string) error    { return nil }
func (noopRun) End(context.Context, Status) error                    { return nil }
