package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/constants"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"k8s.io/klog/v2"
)

var (
	// ErrNoSuchModel 등록되지 않은 모델
	ErrNoSuchModel = errors.New("No such model")
	// ErrUnsupportedFormat 지원하지 않는 이미지 형식
	ErrUnsupportedFormat = errors.New("Unsupported image format")
)

// Config 이미지 추론 모델 생성 설정정보
type Config struct {
	// UserModelPath 기본 모델(default)로 등록되는 학습 모델
	UserModelPath string
	// ModelsPath 하위 디렉토리마다 모델 하나
	ModelsPath string
	// Labels 클래스 이름(또는 인덱스) -> 표시 이름
	Labels map[string]string
	TopK   int
	Loader model.BackboneLoader
}

// Inference 이미지 추론 모델 관리
type Inference struct {
	models        map[string]*iModel
	rwMutex       sync.RWMutex
	modelsPath    string
	userModelPath string

	labels map[string]string
	topK   int
	loader model.BackboneLoader
}

const (
	modelStatusReady = iota
	modelStatusRun
	modelStatusRetired
)

// Model 이미지 추론 모델
type iModel struct {
	name      string
	modelPath string
	status    int32
	refCount  int32

	classifier *model.Classifier
	closeOnce  sync.Once
}

func (m *iModel) close() {
	m.closeOnce.Do(func() {
		if m.classifier == nil {
			return
		}
		if err := m.classifier.Close(); err != nil {
			klog.Warningf("Fail to close model(%s): %s", m.name, err)
		}
	})
}

// 사용 중이면 마지막 putModel에서 해제
func (m *iModel) retire() {
	atomic.StoreInt32(&m.status, modelStatusRetired)
	if atomic.LoadInt32(&m.refCount) == 0 {
		m.close()
	}
}

func (i *Inference) loadModel(name, modelPath string) (*iModel, error) {
	c, err := model.Load(modelPath, i.loader)
	if err != nil {
		return nil, err
	}
	if c.Head() == nil {
		c.Close()
		return nil, fmt.Errorf("%w: %s has no classification layer", model.ErrNotPrepared, modelPath)
	}
	if len(c.Spec.InputShape) != 3 {
		c.Close()
		return nil, fmt.Errorf("Invalid input shape(%s): %v", modelPath, c.Spec.InputShape)
	}

	return &iModel{
		name:       name,
		modelPath:  modelPath,
		status:     modelStatusRun,
		classifier: c,
	}, nil
}

func (i *Inference) loadModels() {
	if i.modelsPath != "" {
		dirs, err := os.ReadDir(i.modelsPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			klog.Warningf("Fail to read models path(%s): %s", i.modelsPath, err)
		}

		for _, dir := range dirs {
			if !dir.IsDir() || strings.HasPrefix(dir.Name(), ".") {
				continue
			}
			modelPath := filepath.Join(i.modelsPath, dir.Name())
			i.reload(dir.Name(), modelPath)
		}
	}

	if i.userModelPath != "" {
		i.reload(constants.DefaultModelName, i.userModelPath)
	}
}

// reload modelPath를 로드해 name으로 등록. 기존 모델은 교체
func (i *Inference) reload(name, modelPath string) bool {
	m, err := i.loadModel(name, modelPath)
	if err != nil {
		klog.Warningf("Fail to load model(%s): %s", modelPath, err)
		return false
	}

	i.rwMutex.Lock()
	old := i.models[name]
	i.models[name] = m
	i.rwMutex.Unlock()

	if old != nil {
		old.retire()
		klog.Infof("Reloaded model(%s): %s", name, modelPath)
	} else {
		klog.Infof("Loaded model(%s): %s", name, modelPath)
	}

	return true
}

func (i *Inference) unload(name string) {
	i.rwMutex.Lock()
	m, ok := i.models[name]
	if ok {
		delete(i.models, name)
	}
	i.rwMutex.Unlock()

	if ok {
		m.retire()
		klog.Infof("Unloaded model(%s)", name)
	}
}

func (i *Inference) getModel(model string) *iModel {
	if m, ok := i.models[model]; ok {
		atomic.AddInt32(&m.refCount, 1)
		return m
	}

	return nil
}

func (i *Inference) putModel(m *iModel) {
	if atomic.AddInt32(&m.refCount, -1) == 0 && atomic.LoadInt32(&m.status) == modelStatusRetired {
		m.close()
	}
}

// DefaultModel default가 있으면 default, 없으면 이름순 첫 모델
func (i *Inference) DefaultModel() string {
	i.rwMutex.RLock()
	defer i.rwMutex.RUnlock()

	if _, ok := i.models[constants.DefaultModelName]; ok {
		return constants.DefaultModelName
	}

	var first string
	for name := range i.models {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// GetModels 이미지 추론 모델 목록 반환
func (i *Inference) GetModels() []string {
	i.rwMutex.RLock()
	defer i.rwMutex.RUnlock()

	models := make([]string, 0, len(i.models))
	for model := range i.models {
		models = append(models, model)
	}
	sort.Strings(models)

	return models
}

func status(m *iModel) string {
	switch atomic.LoadInt32(&m.status) {
	case modelStatusReady:
		return "ready"
	case modelStatusRun:
		return "run"
	case modelStatusRetired:
		return "retired"
	}
	return "unknown"
}

// GetModel 이미지 추론 모델 정보 반환
func (i *Inference) GetModel(model string, verbose bool) map[string]interface{} {
	i.rwMutex.RLock()
	m := i.getModel(model)
	i.rwMutex.RUnlock()

	if m == nil {
		return nil
	}
	defer i.putModel(m)

	c := m.classifier

	var labels []string
	if verbose {
		labels = make([]string, len(c.Labels))
		copy(labels, c.Labels)
	} else {
		l := 10
		if l > len(c.Labels) {
			l = len(c.Labels)
		}
		labels = make([]string, l)
		copy(labels, c.Labels)
		if len(c.Labels) > l {
			labels = append(labels, "...")
		}
	}

	info := map[string]interface{}{
		"model":           m.name,
		"modelPath":       m.modelPath,
		"refCount":        atomic.LoadInt32(&m.refCount) - 1,
		"inputShape":      c.Spec.InputShape,
		"numberOfLabels":  c.NumClasses(),
		"type":            c.Spec.Type,
		"weights":         c.Spec.Weights,
		"inputOperator":   c.Spec.InputOperationName,
		"outputOperator":  c.Spec.OutputOperationName,
		"trainableParams": c.Head().Params(),
		"description":     c.Description,
		"status":          status(m),
		"labels":          labels,
	}

	if verbose {
		if c.Compile != nil {
			info["compile"] = c.Compile
		}
		if h := c.History; h != nil {
			info["trainingResult"] = map[string]interface{}{
				"epochs":             h.Epochs,
				"trainLoss":          h.Loss,
				"trainAccuracy":      h.Accuracy,
				"validationLoss":     h.ValLoss,
				"validationAccuracy": h.ValAccuracy,
			}
		}
	}

	return info
}

// InferLabel 이미지 추론 항목
type InferLabel struct {
	Prob  float32 `json:"probability"`
	Label string  `json:"label"`
	Class string  `json:"class"`
}

type sortByProb []InferLabel

func (s sortByProb) Len() int {
	return len(s)
}

func (s sortByProb) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sortByProb) Less(i, j int) bool {
	return s[i].Prob > s[j].Prob
}

// SupportedFormat 추론 가능한 이미지 형식
func SupportedFormat(format string) bool {
	return format != "" && preprocess.IsImageFile("image."+format)
}

// Infer 추론. model이 비어 있으면 DefaultModel, k가 0 이하면 설정값
func (i *Inference) Infer(ctx context.Context, model string, image []byte, format string, k int) ([]InferLabel, error) {
	if model == "" {
		model = i.DefaultModel()
	}

	i.rwMutex.RLock()
	m := i.getModel(model)
	i.rwMutex.RUnlock()

	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchModel, model)
	}
	defer i.putModel(m)

	if atomic.LoadInt32(&m.status) != modelStatusRun {
		return nil, fmt.Errorf("Not ready yet")
	}

	format = strings.ToLower(format)
	if !SupportedFormat(format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if k <= 0 {
		k = i.topK
	}

	return i.infer(ctx, m, image, k)
}

func (i *Inference) displayName(class string, idx int) string {
	if l, ok := i.labels[class]; ok {
		return l
	}
	if l, ok := i.labels[strconv.Itoa(idx)]; ok {
		return l
	}
	return class
}

func (i *Inference) infer(ctx context.Context, m *iModel, image []byte, k int) ([]InferLabel, error) {
	c := m.classifier
	h, w := c.Spec.InputShape[0], c.Spec.InputShape[1]

	img, err := preprocess.DecodeImage(bytes.NewReader(image), h, w, preprocess.InterpolationBilinear)
	if err != nil {
		return nil, err
	}
	// 학습과 같은 rescale
	preprocess.NewImageDataGenerator(false).Standardize(img)

	probs, err := c.Predict(ctx, &preprocess.Batch{
		Images:   [][]float32{img},
		Labels:   []int{0},
		Height:   h,
		Width:    w,
		Channels: preprocess.Channels,
	})
	if err != nil {
		return nil, err
	}

	row := probs.RawRowView(0)
	if len(c.Labels) != 0 && len(row) != len(c.Labels) {
		return nil, fmt.Errorf(
			"The number of correct(%d) and predicted(%d) labels does not match",
			len(c.Labels),
			len(row),
		)
	}

	infers := make([]InferLabel, len(row))
	for idx, prob := range row {
		class := strconv.Itoa(idx)
		if len(c.Labels) != 0 {
			class = c.Labels[idx]
		}
		infers[idx] = InferLabel{
			Prob:  float32(prob),
			Label: i.displayName(class, idx),
			Class: class,
		}
	}
	sort.Stable(sortByProb(infers))

	if k <= 0 {
		k = constants.DefaultMultiClassMax
	}
	if k > len(infers) {
		k = len(infers)
	}

	return infers[:k], nil
}

// Destroy 모든 모델 해제
func (i *Inference) Destroy() {
	i.rwMutex.Lock()
	models := i.models
	i.models = make(map[string]*iModel)
	i.rwMutex.Unlock()

	for _, m := range models {
		m.retire()
	}
}

// New 이미지 추론 모델 생성
func New(c Config) (*Inference, error) {
	if c.Loader == nil {
		return nil, errors.New("Empty backbone loader")
	}

	i := &Inference{
		models:        make(map[string]*iModel),
		modelsPath:    c.ModelsPath,
		userModelPath: c.UserModelPath,
		labels:        c.Labels,
		topK:          c.TopK,
		loader:        c.Loader,
	}
	i.loadModels()

	if len(i.models) == 0 {
		klog.Warning("No inference model is loaded; waiting for a trained model")
	}

	return i, nil
}
