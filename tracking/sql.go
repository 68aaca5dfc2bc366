package tracking

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/tracking/db"
	"k8s.io/klog/v2"
)

// SQL run 기록을 table에 쌓는 backend (mysql, sqlite3, pgx)
type SQL struct {
	Conn       *db.DBconn
	experiment string
}

// NewSQL db 연결 및 table 준비
func NewSQL(ctx context.Context, driver, dsn, experiment string) (*SQL, error) {
	conn, err := db.New(ctx, db.Config{
		DriverName: driver,
		ConnInfo:   dsn,
		TableName:  tableName,
	})
	if err != nil {
		return nil, err
	}

	return &SQL{Conn: conn, experiment: experiment}, nil
}

// StartRun 새 run id 발급 후 RUNNING 기록
func (s *SQL) StartRun(ctx context.Context, name string) (Run, error) {
	r := &sqlRun{
		conn:       s.Conn,
		id:         uuid.New().String(),
		experiment: s.experiment,
		name:       name,
	}
	if err := r.insert(ctx, db.KindStatus, "status", string(StatusRunning), 0, 0); err != nil {
		return nil, err
	}

	klog.Infof("Started run %s (%s) in experiment %s", r.id, name, s.experiment)

	return r, nil
}

// Close db 연결 해제
func (s *SQL) Close() error {
	return s.Conn.Destroy()
}

type sqlRun struct {
	conn       *db.DBconn
	id         string
	experiment string
	name       string
}

func (r *sqlRun) insert(ctx context.Context, kind db.Kind, key, value string, number float64, step int) error {
	return r.conn.Insert(ctx, db.Item{
		RunID:      r.id,
		Experiment: r.experiment,
		RunName:    r.name,
		Kind:       kind,
		Key:        key,
		Value:      value,
		Number:     number,
		Step:       step,
		CreateAt:   time.Now(),
	})
}

func (r *sqlRun) ID() string {
	return r.id
}

func (r *sqlRun) LogParams(ctx context.Context, params map[string]string) error {
	for key, value := range params {
		if err := r.insert(ctx, db.KindParam, key, value, 0, 0); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlRun) LogMetric(ctx context.Context, key string, value float64, step int) error {
	return r.insert(ctx, db.KindMetric, key, "", value, step)
}

// 파일 내용은 저장하지 않고 경로만 기록
func (r *sqlRun) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	return filepath.Walk(localPath, func(file string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(localPath, file)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(filepath.Join(artifactPath, rel))
		if rel == "." {
			key = filepath.ToSlash(filepath.Join(artifactPath, filepath.Base(file)))
		}

		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		return r.insert(ctx, db.KindArtifact, key, abs, float64(info.Size()), 0)
	})
}

func (r *sqlRun) End(ctx context.Context, status Status) error {
	return r.insert(ctx, db.KindStatus, "status", string(status), 0, 0)
}
