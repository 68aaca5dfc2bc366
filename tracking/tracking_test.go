package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/tracking/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMLflow struct {
	mu          sync.Mutex
	experiments map[string]string
	metrics     []mlflowMetric
	params      map[string]string
	artifacts   map[string]string
	status      string
}

func newFakeMLflow() *fakeMLflow {
	return &fakeMLflow{
		experiments: make(map[string]string),
		params:      make(map[string]string),
		artifacts:   make(map[string]string),
	}
}

func (f *fakeMLflow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reply := func(v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	if strings.HasPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/") {
		data, _ := io.ReadAll(r.Body)
		f.artifacts[strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/")] = string(data)
		reply(map[string]interface{}{})
		return
	}

	var body map[string]json.RawMessage
	if r.Method == http.MethodPost {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch r.URL.Path {
	case "/api/2.0/mlflow/experiments/get-by-name":
		id, ok := f.experiments[r.URL.Query().Get("experiment_name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			reply(map[string]string{"error_code": resourceDoesNotExist, "message": "not found"})
			return
		}
		reply(map[string]interface{}{"experiment": map[string]string{"experiment_id": id}})
	case "/api/2.0/mlflow/experiments/create":
		var name string
		json.Unmarshal(body["name"], &name)
		f.experiments[name] = "7"
		reply(map[string]string{"experiment_id": "7"})
	case "/api/2.0/mlflow/runs/create":
		reply(map[string]interface{}{"run": map[string]interface{}{"info": map[string]string{"run_id": "run-1"}}})
	case "/api/2.0/mlflow/runs/log-batch":
		var metrics []mlflowMetric
		json.Unmarshal(body["metrics"], &metrics)
		f.metrics = append(f.metrics, metrics...)
		var params []mlflowTag
		json.Unmarshal(body["params"], &params)
		for _, p := range params {
			f.params[p.Key] = p.Value
		}
		reply(map[string]interface{}{})
	case "/api/2.0/mlflow/runs/update":
		json.Unmarshal(body["status"], &f.status)
		reply(map[string]interface{}{})
	default:
		w.WriteHeader(http.StatusNotFound)
		reply(map[string]string{"error_code": "ENDPOINT_NOT_FOUND", "message": r.URL.Path})
	}
}

func TestMLflow(t *testing.T) {
	ctx := context.Background()
	fake := newFakeMLflow()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tracker, err := New(ctx, config.Tracking{Backend: BackendMLflow, URI: srv.URL + "/", Experiment: "ct"})
	require.NoError(t, err)
	defer tracker.Close()

	run, err := tracker.StartRun(ctx, "training")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID())
	assert.Equal(t, "7", fake.experiments["ct"])

	require.NoError(t, run.LogParams(ctx, map[string]string{"MODEL_TYPE": "vgg16"}))
	assert.Equal(t, "vgg16", fake.params["MODEL_TYPE"])

	cb := Autolog{Run: run}
	require.NoError(t, cb.OnEpochEnd(ctx, 1, model.EpochLogs{Loss: 0.5, Accuracy: 0.75, ValLoss: 0.6, ValAccuracy: 0.7}))
	require.Len(t, fake.metrics, 4)
	assert.Equal(t, "loss", fake.metrics[0].Key)
	assert.Equal(t, 0.5, fake.metrics[0].Value)
	assert.Equal(t, 0, fake.metrics[0].Step)
	assert.Equal(t, "val_accuracy", fake.metrics[3].Key)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.yaml"), []byte("name: vgg16\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "labels.txt"), []byte("normal\n"), 0o644))
	require.NoError(t, run.LogArtifact(ctx, dir, "model"))
	assert.Equal(t, "name: vgg16\n", fake.artifacts["7/run-1/artifacts/model/model.yaml"])
	assert.Equal(t, "normal\n", fake.artifacts["7/run-1/artifacts/model/sub/labels.txt"])

	require.NoError(t, run.End(ctx, StatusFinished))
	assert.Equal(t, "FINISHED", fake.status)

	// 같은 실험은 다시 만들지 않는다
	second := NewMLflow(srv.URL, "ct", nil)
	id, err := second.ExperimentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", id)
}

func TestMLflowError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error_code": "INTERNAL_ERROR", "message": "boom"}`))
	}))
	defer srv.Close()

	_, err := NewMLflow(srv.URL, "ct", srv.Client()).StartRun(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.ErrorCode)
	assert.Equal(t, "boom", apiErr.Message)
}

func TestSQL(t *testing.T) {
	ctx := context.Background()

	tracker, err := New(ctx, config.Tracking{
		Backend: BackendSQL,
		Driver:  "sqlite3",
		DSN:     filepath.Join(t.TempDir(), "runs.db"),
	})
	require.NoError(t, err)
	defer tracker.Close()

	run, err := tracker.StartRun(ctx, "evaluation")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID())

	require.NoError(t, run.LogParams(ctx, map[string]string{"EPOCHS": "10"}))
	require.NoError(t, LogScore(ctx, run, map[string]float64{"test_accuracy": 0.9}))

	file := filepath.Join(t.TempDir(), "scores.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
	require.NoError(t, run.LogArtifact(ctx, file, "evaluation"))
	require.NoError(t, run.End(ctx, StatusFinished))

	items, err := tracker.(*SQL).Conn.Items(ctx, run.ID())
	require.NoError(t, err)

	byKind := make(map[db.Kind][]db.Item)
	for _, item := range items {
		byKind[item.Kind] = append(byKind[item.Kind], item)
		assert.Equal(t, defaultExperiment, item.Experiment)
		assert.Equal(t, "evaluation", item.RunName)
	}
	require.Len(t, byKind[db.KindParam], 1)
	assert.Equal(t, "10", byKind[db.KindParam][0].Value)
	require.Len(t, byKind[db.KindMetric], 1)
	assert.Equal(t, 0.9, byKind[db.KindMetric][0].Number)
	require.Len(t, byKind[db.KindArtifact], 1)
	assert.Equal(t, "evaluation/scores.json", byKind[db.KindArtifact][0].Key)
	require.Len(t, byKind[db.KindStatus], 2)
	assert.Equal(t, string(StatusFinished), byKind[db.KindStatus][1].Value)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tracker, err := New(ctx, config.Tracking{})
	require.NoError(t, err)
	run, err := tracker.StartRun(ctx, "x")
	require.NoError(t, err)
	assert.NoError(t, run.LogMetric(ctx, "loss", 1, 0))
	assert.NoError(t, run.End(ctx, StatusFinished))

	_, err = New(ctx, config.Tracking{Backend: "wandb"})
	assert.ErrorIs(t, err, ErrUnsupportedBackend)

	_, err = New(ctx, config.Tracking{Backend: BackendMLflow})
	assert.ErrorIs(t, err, config.ErrMissingKey)

	_, err = New(ctx, config.Tracking{Backend: BackendSQL, Driver: "sqlite3"})
	assert.ErrorIs(t, err, config.ErrMissingKey)
}

func TestParamsOf(t *testing.T) {
	p := ParamsOf(config.Params{
		ModelType:    "vgg16",
		ImageSize:    []int{224, 224, 3},
		LearningRate: 0.01,
		Classes:      2,
		Augmentation: true,
	})
	assert.Equal(t, "vgg16", p["MODEL_TYPE"])
	assert.Equal(t, "[224, 224, 3]", p["IMAGE_SIZE"])
	assert.Equal(t, "0.01", p["LEARNING_RATE"])
	assert.Equal(t, "2", p["CLASSES"])
	assert.Equal(t, "true", p["AUGMENTATION"])
}
