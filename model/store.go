package model

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	// ConfigFile 모델 설정 파일
	ConfigFile = "model.yaml"
	// HeadFile 분류 레이어 가중치 파일
	HeadFile = "head.bin"
	// LabelsFile 클래스 이름 파일
	LabelsFile = "labels.txt"

	multiClass = "multi"
)

type trainingResult struct {
	Epochs             int       `yaml:"epochs"`
	TrainLoss          []float64 `yaml:"trainLoss"`
	TrainAccuracy      []float64 `yaml:"trainAccuracy"`
	ValidationLoss     []float64 `yaml:"validationLoss"`
	ValidationAccuracy []float64 `yaml:"validationAccuracy"`
}

type modelConfig struct {
	Name           string          `yaml:"name"`
	Type           string          `yaml:"type"`
	Classification string          `yaml:"classification"`
	InputShape     []int           `yaml:"inputShape"`
	Backbone       BackboneSpec    `yaml:"backbone"`
	FeatureSize    int             `yaml:"featureSize"`
	HeadFile       string          `yaml:"headFile,omitempty"`
	LabelsFile     string          `yaml:"labelsFile,omitempty"`
	Compile        *CompileConfig  `yaml:"compile,omitempty"`
	TrainingResult *trainingResult `yaml:"trainingResult,omitempty"`
	Description    string          `yaml:"description"`
}

func (c *Classifier) config() modelConfig {
	cfg := modelConfig{
		Name:           c.Name,
		Type:           c.Spec.Type,
		Classification: multiClass,
		InputShape:     c.Spec.InputShape,
		Backbone:       c.Spec,
		FeatureSize:    c.FeatureSize,
		Compile:        c.Compile,
		Description:    c.Description,
	}
	if c.head != nil {
		cfg.HeadFile = HeadFile
	}
	if len(c.Labels) > 0 {
		cfg.LabelsFile = LabelsFile
	}
	if h := c.History; h != nil {
		cfg.TrainingResult = &trainingResult{
			Epochs:             h.Epochs,
			TrainLoss:          h.Loss,
			TrainAccuracy:      h.Accuracy,
			ValidationLoss:     h.ValLoss,
			ValidationAccuracy: h.ValAccuracy,
		}
	}
	return cfg
}

func (c *Classifier) writeTo(dir string) error {
	data, err := yaml.Marshal(c.config())
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0644); err != nil {
		return err
	}

	if c.head != nil {
		var buf bytes.Buffer
		if err := c.head.MarshalBinaryTo(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, HeadFile), buf.Bytes(), 0644); err != nil {
			return err
		}
	}

	if len(c.Labels) > 0 {
		labels := strings.Join(c.Labels, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, LabelsFile), []byte(labels), 0644); err != nil {
			return err
		}
	}

	return nil
}

// Save dir에 모델 저장. 임시 디렉토리에 쓴 뒤 교체
func (c *Classifier) Save(dir string) error {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return err
	}

	tmp := filepath.Join(parent, fmt.Sprintf(".%s-%s", filepath.Base(dir), uuid.New().String()[:8]))
	if err := os.Mkdir(tmp, 0755); err != nil {
		return err
	}

	if err := c.writeTo(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	klog.Infof("Saved model(%s): %s", c.Name, dir)

	return nil
}

func readLabels(file string) ([]string, error) {
	fp, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	var labels []string
	scanner := bufio.NewScanner(fp)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return labels, nil
}

// Load dir에 저장된 모델 로드
func Load(dir string, loader BackboneLoader) (*Classifier, error) {
	cfgBytes, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	var cfg modelConfig
	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, fmt.Errorf("Invalid model config(%s): %w", dir, err)
	}
	if cfg.Name == "" {
		return nil, errors.New("Empty model name")
	}

	var head *Dense
	if cfg.HeadFile != "" {
		fp, err := os.Open(filepath.Join(dir, cfg.HeadFile))
		if err != nil {
			return nil, err
		}
		head, err = UnmarshalDense(bufio.NewReader(fp))
		fp.Close()
		if err != nil {
			return nil, fmt.Errorf("Invalid head(%s): %w", dir, err)
		}
		if head.Features() != cfg.FeatureSize {
			return nil, fmt.Errorf("Head expects %d features, config says %d", head.Features(), cfg.FeatureSize)
		}
	}

	var labels []string
	if cfg.LabelsFile != "" {
		if labels, err = readLabels(filepath.Join(dir, cfg.LabelsFile)); err != nil {
			return nil, err
		}
		if head != nil && len(labels) != head.Units() {
			return nil, fmt.Errorf("The number of labels(%d) and classes(%d) does not match", len(labels), head.Units())
		}
	}

	backbone, err := loader(cfg.Backbone)
	if err != nil {
		return nil, err
	}

	c := &Classifier{
		Name:        cfg.Name,
		Spec:        cfg.Backbone,
		FeatureSize: cfg.FeatureSize,
		Labels:      labels,
		Compile:     cfg.Compile,
		Description: cfg.Description,
		backbone:    backbone,
		head:        head,
	}
	if r := cfg.TrainingResult; r != nil {
		c.History = &History{
			Epochs:      r.Epochs,
			Loss:        r.TrainLoss,
			Accuracy:    r.TrainAccuracy,
			ValLoss:     r.ValidationLoss,
			ValAccuracy: r.ValidationAccuracy,
		}
	}

	if err := c.compileFromConfig(); err != nil {
		backbone.Close()
		return nil, err
	}

	return c, nil
}
