package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const resourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"

// APIError MLflow REST API 오류 응답
type APIError struct {
	StatusCode int
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mlflow: %d %s: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// MLflow tracking server REST API(2.0) backend
type MLflow struct {
	uri        string
	experiment string
	client     *http.Client

	mu           sync.Mutex
	experimentID string
}

// NewMLflow uri는 tracking server 주소 (예: http://localhost:5000)
func NewMLflow(uri, experiment string, client *http.Client) *MLflow {
	if client == nil {
		client = http.DefaultClient
	}
	return &MLflow{
		uri:        strings.TrimRight(uri, "/"),
		experiment: experiment,
		client:     client,
	}
}

func (m *MLflow) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, m.uri+endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		_, err := io.Copy(io.Discard, res.Body)
		return err
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (m *MLflow) call(ctx context.Context, method, endpoint string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return m.do(ctx, method, "/api/2.0/mlflow/"+endpoint, body, "application/json", out)
}

// ExperimentID 실험 id. 없으면 생성
func (m *MLflow) ExperimentID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.experimentID != "" {
		return m.experimentID, nil
	}

	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := m.call(ctx, http.MethodGet,
		"experiments/get-by-name?experiment_name="+url.QueryEscape(m.experiment), nil, &got)

	var apiErr *APIError
	switch {
	case err == nil:
		m.experimentID = got.Experiment.ExperimentID
	case errors.As(err, &apiErr) && apiErr.ErrorCode == resourceDoesNotExist:
		var created struct {
			ExperimentID string `json:"experiment_id"`
		}
		if err := m.call(ctx, http.MethodPost, "experiments/create",
			map[string]string{"name": m.experiment}, &created); err != nil {
			return "", err
		}
		klog.Infof("Created mlflow experiment %s: %s", m.experiment, created.ExperimentID)
		m.experimentID = created.ExperimentID
	default:
		return "", err
	}

	return m.experimentID, nil
}

type mlflowTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type mlflowMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int     `json:"step"`
}

// StartRun runs/create
func (m *MLflow) StartRun(ctx context.Context, name string) (Run, error) {
	experimentID, err := m.ExperimentID(ctx)
	if err != nil {
		return nil, err
	}

	var created struct {
		Run struct {
			Info struct {
				RunID string `json:"run_id"`
			} `json:"info"`
		} `json:"run"`
	}
	if err := m.call(ctx, http.MethodPost, "runs/create", map[string]interface{}{
		"experiment_id": experimentID,
		"run_name":      name,
		"start_time":    timestamp(time.Now()),
		"tags":          []mlflowTag{{Key: "mlflow.runName", Value: name}},
	}, &created); err != nil {
		return nil, err
	}

	klog.Infof("Started mlflow run %s (%s)", created.Run.Info.RunID, name)

	return &mlflowRun{
		m:            m,
		id:           created.Run.Info.RunID,
		experimentID: experimentID,
	}, nil
}

// Close Tracker
func (m *MLflow) Close() error {
	return nil
}

type mlflowRun struct {
	m            *MLflow
	id           string
	experimentID string
}

func (r *mlflowRun) ID() string {
	return r.id
}

func (r *mlflowRun) LogParams(ctx context.Context, params map[string]string) error {
	tags := make([]mlflowTag, 0, len(params))
	for key, value := range params {
		tags = append(tags, mlflowTag{Key: key, Value: value})
	}

	return r.m.call(ctx, http.MethodPost, "runs/log-batch", map[string]interface{}{
		"run_id": r.id,
		"params": tags,
	}, nil)
}

func (r *mlflowRun) LogMetric(ctx context.Context, key string, value float64, step int) error {
	return r.m.call(ctx, http.MethodPost, "runs/log-batch", map[string]interface{}{
		"run_id": r.id,
		"metrics": []mlflowMetric{{
			Key:       key,
			Value:     value,
			Timestamp: timestamp(time.Now()),
			Step:      step,
		}},
	}, nil)
}

// mlflow-artifacts 프록시로 업로드
func (r *mlflowRun) upload(ctx context.Context, file, artifactPath string) error {
	fp, err := os.Open(file)
	if err != nil {
		return err
	}
	defer fp.Close()

	endpoint := path.Join("/api/2.0/mlflow-artifacts/artifacts", r.experimentID, r.id, "artifacts", artifactPath)
	return r.m.do(ctx, http.MethodPut, endpoint, fp, "application/octet-stream", nil)
}

func (r *mlflowRun) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	return filepath.Walk(localPath, func(file string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(localPath, file)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = filepath.Base(file)
		}

		return r.upload(ctx, file, path.Join(artifactPath, filepath.ToSlash(rel)))
	})
}

func (r *mlflowRun) End(ctx context.Context, status Status) error {
	return r.m.call(ctx, http.MethodPost, "runs/update", map[string]interface{}{
		"run_id":   r.id,
		"status":   string(status),
		"end_time": timestamp(time.Now()),
	}, nil)
}
