package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/constants"
)

// ErrMissingKey 필수 설정값 누락
var ErrMissingKey = errors.New("Missing configuration key")

type dataSourceFile struct {
	Source    string `yaml:"source"`
	SourceURL string `yaml:"sourceURL"`
	Username  string `yaml:"username"`
	ExtractTo string `yaml:"extract_to"`
}

type dataIngestionFile struct {
	RootDir    string         `yaml:"root_dir"`
	DataConfig dataSourceFile `yaml:"data_config"`
}

type baseModelFile struct {
	RootDir              string `yaml:"root_dir"`
	BackbonesDir         string `yaml:"backbones_dir"`
	BaseModelPath        string `yaml:"base_model_path"`
	UpdatedBaseModelPath string `yaml:"updated_base_model_path"`
}

type dataPreprocessingFile struct {
	TrainingData string `yaml:"training_data"`
}

type modelTrainingFile struct {
	RootDir          string `yaml:"root_dir"`
	BaseModelPath    string `yaml:"base_model_path"`
	TrainedModelPath string `yaml:"trained_model_path"`
}

type modelEvaluationFile struct {
	RootDir    string `yaml:"root_dir"`
	ModelPath  string `yaml:"model_path"`
	ScoresPath string `yaml:"scores_path"`
}

type trackingFile struct {
	Backend    string `yaml:"backend"`
	Experiment string `yaml:"experiment"`
	URI        string `yaml:"uri"`
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
}

type inferenceFile struct {
	ModelPath string            `yaml:"model_path"`
	ModelsDir string            `yaml:"models_dir"`
	Addr      string            `yaml:"addr"`
	TopK      int               `yaml:"top_k"`
	Labels    map[string]string `yaml:"labels"`
}

// File config.yaml 구조
type File struct {
	ArtifactsRoot     string                `yaml:"artifacts_root"`
	DataIngestion     dataIngestionFile     `yaml:"data_ingestion"`
	BaseModel         baseModelFile         `yaml:"base_model"`
	DataPreprocessing dataPreprocessingFile `yaml:"data_preprocessing"`
	ModelTraining     modelTrainingFile     `yaml:"model_training"`
	ModelEvaluation   modelEvaluationFile   `yaml:"model_evaluation"`
	Tracking          trackingFile          `yaml:"tracking"`
	Inference         inferenceFile         `yaml:"inference"`
}

// Params params.yaml 구조 (모델 하이퍼파라미터)
type Params struct {
	ModelType    string  `yaml:"MODEL_TYPE"`
	ImageSize    []int   `yaml:"IMAGE_SIZE"`
	LearningRate float64 `yaml:"LEARNING_RATE"`
	IncludeTop   bool    `yaml:"INCLUDE_TOP"`
	Weights      string  `yaml:"WEIGHTS"`
	Classes      int     `yaml:"CLASSES"`
	Optimizer    string  `yaml:"OPTIMIZER"`
	LossFunction string  `yaml:"LOSS_FUNCTION"`
	BatchSize    int     `yaml:"BATCH_SIZE"`
	Epochs       int     `yaml:"EPOCHS"`
	Augmentation bool    `yaml:"AUGMENTATION"`
	Seed         int64   `yaml:"SEED"`
}

// DataIngestion 데이터 수집 단계 설정
type DataIngestion struct {
	Source    string
	SourceURL string
	Username  string
	ExtractTo string
}

// BaseModel 기본 모델 준비 단계 설정
type BaseModel struct {
	RootDir              string
	BackbonesDir         string
	BaseModelPath        string
	UpdatedBaseModelPath string

	ModelType      string
	InputImageSize []int
	LearningRate   float64
	IncludeTop     bool
	Weights        string
	Classes        int
	Optimizer      string
	LossFunction   string
	Seed           int64
}

// DataPreprocessing 전처리 설정
type DataPreprocessing struct {
	TrainingData string
	ImageSize    []int
	BatchSize    int
	Augmentation bool
	Seed         int64
}

// ModelTraining 학습 단계 설정
type ModelTraining struct {
	RootDir          string
	BaseModelPath    string
	TrainedModelPath string
	Epochs           int
}

// ModelEvaluation 평가 단계 설정
type ModelEvaluation struct {
	RootDir    string
	ModelPath  string
	ScoresPath string
}

// Tracking 실험 추적 설정
type Tracking struct {
	Backend    string
	Experiment string
	URI        string
	Driver     string
	DSN        string
}

// Inference 추론 서버 설정
type Inference struct {
	ModelPath string
	ModelsDir string
	Addr      string
	TopK      int
	Labels    map[string]string
}

// Manager config.yaml, params.yaml을 읽어 단계별 설정을 제공
type Manager struct {
	file   File
	params Params
}

// Paths 설정 파일 경로를 결정. 인자 > 환경변수 > 기본값 순서
func Paths(configPath, paramsPath string) (string, string) {
	if configPath == "" {
		configPath = os.Getenv(constants.ConfigFileEnv)
	}
	if configPath == "" {
		configPath = constants.ConfigFilePath
	}
	if paramsPath == "" {
		paramsPath = os.Getenv(constants.ParamsFileEnv)
	}
	if paramsPath == "" {
		paramsPath = constants.ParamsFilePath
	}

	return configPath, paramsPath
}

// NewManager 설정 파일을 읽고 artifacts_root를 생성
func NewManager(configPath, paramsPath string) (*Manager, error) {
	configPath, paramsPath = Paths(configPath, paramsPath)

	m := &Manager{}
	if err := ReadYAML(configPath, &m.file); err != nil {
		return nil, err
	}
	if err := ReadYAML(paramsPath, &m.params); err != nil {
		return nil, err
	}

	if err := requireKey("artifacts_root", m.file.ArtifactsRoot); err != nil {
		return nil, err
	}
	if err := CreateDirectories(m.file.ArtifactsRoot); err != nil {
		return nil, err
	}

	return m, nil
}

// FromValues 파싱된 설정으로 Manager 생성 (파일 없이)
func FromValues(file File, params Params) *Manager {
	return &Manager{file: file, params: params}
}

// Params 하이퍼파라미터 반환
func (m *Manager) Params() Params {
	return m.params
}

func requireKey(key, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", ErrMissingKey, key)
	}
	return nil
}

// DataIngestionConfig 데이터 수집 설정
func (m *Manager) DataIngestionConfig() (DataIngestion, error) {
	c := m.file.DataIngestion

	if err := CreateDirectories(c.RootDir); err != nil {
		return DataIngestion{}, err
	}

	return DataIngestion{
		Source:    c.DataConfig.Source,
		SourceURL: c.DataConfig.SourceURL,
		Username:  c.DataConfig.Username,
		ExtractTo: c.DataConfig.ExtractTo,
	}, nil
}

// BaseModelConfig 기본 모델 설정
func (m *Manager) BaseModelConfig() (BaseModel, error) {
	c := m.file.BaseModel

	for key, value := range map[string]string{
		"base_model.root_dir":                c.RootDir,
		"base_model.base_model_path":         c.BaseModelPath,
		"base_model.updated_base_model_path": c.UpdatedBaseModelPath,
		"MODEL_TYPE":                         m.params.ModelType,
	} {
		if err := requireKey(key, value); err != nil {
			return BaseModel{}, err
		}
	}

	if err := CreateDirectories(c.RootDir); err != nil {
		return BaseModel{}, err
	}

	return BaseModel{
		RootDir:              c.RootDir,
		BackbonesDir:         c.BackbonesDir,
		BaseModelPath:        c.BaseModelPath,
		UpdatedBaseModelPath: c.UpdatedBaseModelPath,
		ModelType:            m.params.ModelType,
		InputImageSize:       m.params.ImageSize,
		LearningRate:         m.params.LearningRate,
		IncludeTop:           m.params.IncludeTop,
		Weights:              m.params.Weights,
		Classes:              m.params.Classes,
		Optimizer:            m.params.Optimizer,
		LossFunction:         m.params.LossFunction,
		Seed:                 m.params.Seed,
	}, nil
}

// DataPreprocessingConfig 전처리 설정
func (m *Manager) DataPreprocessingConfig() (DataPreprocessing, error) {
	c := m.file.DataPreprocessing
	if err := requireKey("data_preprocessing.training_data", c.TrainingData); err != nil {
		return DataPreprocessing{}, err
	}

	batchSize := m.params.BatchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultBatchSize
	}

	return DataPreprocessing{
		TrainingData: c.TrainingData,
		ImageSize:    m.params.ImageSize,
		BatchSize:    batchSize,
		Augmentation: m.params.Augmentation,
		Seed:         m.params.Seed,
	}, nil
}

// ModelTrainingConfig 학습 설정
func (m *Manager) ModelTrainingConfig() (ModelTraining, error) {
	c := m.file.ModelTraining
	if err := requireKey("model_training.base_model_path", c.BaseModelPath); err != nil {
		return ModelTraining{}, err
	}
	if err := requireKey("model_training.trained_model_path", c.TrainedModelPath); err != nil {
		return ModelTraining{}, err
	}

	if err := CreateDirectories(c.RootDir); err != nil {
		return ModelTraining{}, err
	}

	epochs := m.params.Epochs
	if epochs <= 0 {
		epochs = constants.TrainEpochs
	}

	return ModelTraining{
		RootDir:          c.RootDir,
		BaseModelPath:    c.BaseModelPath,
		TrainedModelPath: c.TrainedModelPath,
		Epochs:           epochs,
	}, nil
}

// ModelEvaluationConfig 평가 설정
func (m *Manager) ModelEvaluationConfig() (ModelEvaluation, error) {
	c := m.file.ModelEvaluation
	if err := requireKey("model_evaluation.model_path", c.ModelPath); err != nil {
		return ModelEvaluation{}, err
	}

	if err := CreateDirectories(c.RootDir); err != nil {
		return ModelEvaluation{}, err
	}

	return ModelEvaluation{
		RootDir:    c.RootDir,
		ModelPath:  c.ModelPath,
		ScoresPath: c.ScoresPath,
	}, nil
}

// TrackingConfig 실험 추적 설정. backend가 비어 있으면 "none"
func (m *Manager) TrackingConfig() Tracking {
	c := m.file.Tracking

	backend := c.Backend
	if backend == "" {
		backend = "none"
	}

	return Tracking{
		Backend:    backend,
		Experiment: c.Experiment,
		URI:        c.URI,
		Driver:     c.Driver,
		DSN:        c.DSN,
	}
}

// InferenceConfig 추론 서버 설정
func (m *Manager) InferenceConfig() Inference {
	c := m.file.Inference

	addr := c.Addr
	if addr == "" {
		addr = constants.DefaultAddr
	}
	topK := c.TopK
	if topK <= 0 {
		topK = constants.DefaultMultiClassMax
	}
	modelPath := c.ModelPath
	if modelPath == "" {
		modelPath = m.file.ModelTraining.TrainedModelPath
	}

	return Inference{
		ModelPath: modelPath,
		ModelsDir: c.ModelsDir,
		Addr:      addr,
		TopK:      topK,
		Labels:    c.Labels,
	}
}
