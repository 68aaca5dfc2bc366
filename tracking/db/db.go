package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// sql drivers: mysql, sqlite3, pgx
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	TableName string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	TableName string

	db *sql.DB
}

// Kind 항목 종류
type Kind string

const (
	KindStatus   Kind = "status"
	KindParam    Kind = "param"
	KindMetric   Kind = "metric"
	KindArtifact Kind = "artifact"
)

// createAt 정렬을 위해 고정 길이 UTC 시각으로 저장
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Item 실험 기록 항목
type Item struct {
	RunID      string
	Experiment string
	RunName    string
	Kind       Kind
	Key        string
	Value      string
	Number     float64
	Step       int
	CreateAt   time.Time
}

// pgx는 $n placeholder를 쓴다
func (conn *DBconn) rebind(query string) string {
	if conn.DriverName != "pgx" {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (conn *DBconn) createTable(ctx context.Context) error {
	if _, err := conn.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (
		runid VARCHAR(40) NOT NULL,
		experiment VARCHAR(80) NOT NULL,
		runname VARCHAR(80) NOT NULL,
		kind VARCHAR(10) NOT NULL,
		itemkey VARCHAR(250) NOT NULL,
		itemvalue TEXT NOT NULL,
		num DOUBLE PRECISION NOT NULL,
		step BIGINT NOT NULL,
		createAt VARCHAR(40) NOT NULL);`, conn.TableName)); err != nil {
		return err
	}

	return nil
}

func (conn *DBconn) existsTable(ctx context.Context) bool {
	rows, err := conn.db.QueryContext(ctx, fmt.Sprintf("SELECT 1 FROM %s;", conn.TableName))
	if err != nil {
		return false
	}
	rows.Close()

	return true
}

func (conn *DBconn) initTable(ctx context.Context) error {
	if !conn.existsTable(ctx) {
		klog.Infof("Create DB table: %s", conn.TableName)
		return conn.createTable(ctx)
	}

	return nil
}

// Insert entry 삽입
func (conn *DBconn) Insert(ctx context.Context, item Item) error {
	createAt := item.CreateAt.UTC().Format(timeFormat)

	_, err := conn.db.ExecContext(ctx, conn.rebind(fmt.Sprintf(`INSERT INTO %s (
		runid,
		experiment,
		runname,
		kind,
		itemkey,
		itemvalue,
		num,
		step,
		createAt) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`, conn.TableName)),
		item.RunID, item.Experiment, item.RunName, string(item.Kind), item.Key,
		item.Value, item.Number, item.Step, createAt,
	)

	return err
}

// Items run의 항목을 기록 순서대로 조회
func (conn *DBconn) Items(ctx context.Context, runID string) ([]Item, error) {
	rows, err := conn.db.QueryContext(ctx, conn.rebind(fmt.Sprintf(`SELECT
		runid, experiment, runname, kind, itemkey, itemvalue, num, step, createAt
		FROM %s WHERE runid = ? ORDER BY createAt, kind, itemkey, step;`, conn.TableName)), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item     Item
			kind     string
			createAt string
		)
		if err := rows.Scan(&item.RunID, &item.Experiment, &item.RunName, &kind,
			&item.Key, &item.Value, &item.Number, &item.Step, &createAt); err != nil {
			return nil, err
		}
		item.Kind = Kind(kind)
		if item.CreateAt, err = time.Parse(timeFormat, createAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// New 새로운 db connection 생성
func New(ctx context.Context, cfg Config) (*DBconn, error) {
	db, err := sql.Open(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}
	if cfg.DriverName == "sqlite3" {
		// :memory: 는 연결마다 별도 DB
		db.SetMaxOpenConns(1)
	}

	conn := &DBconn{
		DriverName: cfg.DriverName,
		ConnInfo:   cfg.ConnInfo,
		TableName:  cfg.TableName,
		db:         db,
	}

	if err := conn.initTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}
