package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
artifacts_root: {{root}}/artifacts
data_ingestion:
  root_dir: {{root}}/artifacts/data_ingestion
  data_config:
    source: kaggle
    sourceURL: mohamedhanyyy/chest-ctscan-images
    username: someone
    extract_to: {{root}}/artifacts/data_ingestion
base_model:
  root_dir: {{root}}/artifacts/base_model
  backbones_dir: {{root}}/backbones
  base_model_path: {{root}}/artifacts/base_model/base_model
  updated_base_model_path: {{root}}/artifacts/base_model/updated_base_model
data_preprocessing:
  training_data: {{root}}/artifacts/data_ingestion/Data
model_training:
  root_dir: {{root}}/artifacts/training
  base_model_path: {{root}}/artifacts/base_model/updated_base_model
  trained_model_path: {{root}}/artifacts/training/model
model_evaluation:
  root_dir: {{root}}/artifacts/evaluation
  model_path: {{root}}/artifacts/training/model
  scores_path: {{root}}/artifacts/evaluation/scores.json
inference:
  labels:
    normal: Normal
`

const testParams = `
MODEL_TYPE: vgg16
IMAGE_SIZE: [224, 224, 3]
LEARNING_RATE: 0.01
INCLUDE_TOP: false
WEIGHTS: imagenet
CLASSES: 2
OPTIMIZER: sgd
LOSS_FUNCTION: categorical_crossentropy
BATCH_SIZE: 8
AUGMENTATION: true
`

func writeFiles(t *testing.T, config, params string) (string, string, string) {
	t.Helper()

	root := t.TempDir()
	config = strings.ReplaceAll(config, "{{root}}", root)
	configPath := filepath.Join(root, "config.yaml")
	paramsPath := filepath.Join(root, "params.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	require.NoError(t, os.WriteFile(paramsPath, []byte(params), 0o644))

	return root, configPath, paramsPath
}

func TestManager(t *testing.T) {
	root, configPath, paramsPath := writeFiles(t, testConfig, testParams)

	m, err := NewManager(configPath, paramsPath)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "artifacts"))

	di, err := m.DataIngestionConfig()
	require.NoError(t, err)
	assert.Equal(t, "kaggle", di.Source)
	assert.Equal(t, "mohamedhanyyy/chest-ctscan-images", di.SourceURL)
	assert.Equal(t, "someone", di.Username)
	assert.DirExists(t, filepath.Join(root, "artifacts", "data_ingestion"))

	bm, err := m.BaseModelConfig()
	require.NoError(t, err)
	assert.Equal(t, "vgg16", bm.ModelType)
	assert.Equal(t, []int{224, 224, 3}, bm.InputImageSize)
	assert.Equal(t, 2, bm.Classes)
	assert.Equal(t, 0.01, bm.LearningRate)
	assert.DirExists(t, filepath.Join(root, "artifacts", "base_model"))

	dp, err := m.DataPreprocessingConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, dp.BatchSize)
	assert.True(t, dp.Augmentation)

	mt, err := m.ModelTrainingConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, mt.Epochs, "default epochs")

	me, err := m.ModelEvaluationConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "artifacts", "training", "model"), me.ModelPath)

	assert.Equal(t, "none", m.TrackingConfig().Backend)

	ic := m.InferenceConfig()
	assert.Equal(t, ":18080", ic.Addr)
	assert.Equal(t, 5, ic.TopK)
	assert.Equal(t, mt.TrainedModelPath, ic.ModelPath)
	assert.Equal(t, "Normal", ic.Labels["normal"])
}

func TestManagerMissingKey(t *testing.T) {
	_, configPath, paramsPath := writeFiles(t, testConfig, "IMAGE_SIZE: [224, 224, 3]\n")

	m, err := NewManager(configPath, paramsPath)
	require.NoError(t, err)

	_, err = m.BaseModelConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))
	assert.Contains(t, err.Error(), "MODEL_TYPE")
}

func TestManagerMissingFile(t *testing.T) {
	_, err := NewManager("/nonexistent/config.yaml", "/nonexistent/params.yaml")
	assert.Error(t, err)
}

func TestPathsFromEnv(t *testing.T) {
	t.Setenv("CTSCAN_CONFIG", "/etc/ctscan/config.yaml")
	t.Setenv("CTSCAN_PARAMS", "")

	c, p := Paths("", "")
	assert.Equal(t, "/etc/ctscan/config.yaml", c)
	assert.Equal(t, "params.yaml", p)

	c, _ = Paths("other.yaml", "")
	assert.Equal(t, "other.yaml", c)
}

func TestJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "scores.json")
	require.NoError(t, SaveJSON(path, map[string]float64{"loss": 0.5}))

	var out map[string]float64
	require.NoError(t, LoadJSON(path, &out))
	assert.Equal(t, 0.5, out["loss"])
}
