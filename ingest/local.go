package ingest

import (
	"context"
	"fmt"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"k8s.io/klog/v2"
)

// Local 로컬 파일시스템의 압축 파일에서 데이터 수집
type Local struct {
	Archive   string
	ExtractTo string
}

// NewLocal sourceURL(압축 파일 경로)과 extract_to 필요
func NewLocal(cfg config.DataIngestion) (*Local, error) {
	if cfg.SourceURL == "" || cfg.ExtractTo == "" {
		return nil, fmt.Errorf(
			"%w: local ingestor requires source archive path as 'sourceURL' and 'extract_to' directory path",
			ErrInvalidConfig)
	}
	if !IsArchive(cfg.SourceURL) {
		return nil, fmt.Errorf("%w: unsupported archive format: %s", ErrInvalidConfig, cfg.SourceURL)
	}

	return &Local{
		Archive:   cfg.SourceURL,
		ExtractTo: cfg.ExtractTo,
	}, nil
}

// Ingest 압축 파일을 extract_to에 해제
func (l *Local) Ingest(ctx context.Context) error {
	klog.Infof("Extracting data from %s to %s.", l.Archive, l.ExtractTo)

	if err := Extract(ctx, l.Archive, l.ExtractTo); err != nil {
		return err
	}
	klog.Infof("Data extraction complete for %s.", l.Archive)

	return nil
}
