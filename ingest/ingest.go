// Package ingest 학습 데이터를 가져오는 전략들 (local archive, Kaggle, Google Drive)
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
)

const (
	SourceLocal  string = "local"
	SourceKaggle string = "kaggle"
	SourceGDrive string = "gdrive"
)

var (
	// ErrUnsupportedSource 지원하지 않는 데이터 소스
	ErrUnsupportedSource = errors.New("No ingestor available for the specified source")
	// ErrInvalidConfig 데이터 소스에 필요한 설정 누락
	ErrInvalidConfig = errors.New("Invalid data ingestion config")
	// ErrNotPublic Google Drive 파일이 공개되지 않음
	ErrNotPublic = errors.New("File is not publicly accessible")
)

// Ingestor 데이터 수집 전략
type Ingestor interface {
	Ingest(ctx context.Context) error
}

var defaultClient = &http.Client{Timeout: 30 * time.Minute}

// NewIngestor config.source에 맞는 Ingestor 생성
func NewIngestor(cfg config.DataIngestion) (Ingestor, error) {
	switch cfg.Source {
	case "":
		return nil, fmt.Errorf("%w: config must contain 'source' to select data ingestor", ErrInvalidConfig)
	case SourceLocal:
		return NewLocal(cfg)
	case SourceKaggle:
		return NewKaggle(cfg)
	case SourceGDrive:
		return NewGoogleDrive(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, cfg.Source)
	}
}
