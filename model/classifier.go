package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

var (
	// ErrNotPrepared 분류 레이어 또는 compile 설정이 없음
	ErrNotPrepared = errors.New("Model is not prepared for training")
	// ErrFineTuneUnsupported backbone 레이어 학습은 지원하지 않음
	ErrFineTuneUnsupported = errors.New("Fine-tuning backbone layers is not supported; all backbone layers must be frozen")
)

// CompileConfig 학습 설정
type CompileConfig struct {
	Optimizer    string   `yaml:"optimizer"`
	LearningRate float64  `yaml:"learningRate"`
	Loss         string   `yaml:"loss"`
	Metrics      []string `yaml:"metrics"`
}

// BatchSource 배치 생성기
type BatchSource interface {
	Next(ctx context.Context) (*preprocess.Batch, error)
	Samples() int
	BatchSize() int
	Len() int
	Reset()
}

// EpochLogs epoch 단위 학습 결과
type EpochLogs struct {
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"val_loss,omitempty"`
	ValAccuracy float64 `json:"val_accuracy,omitempty"`
}

// Callback epoch 종료 시 호출
type Callback interface {
	OnEpochEnd(ctx context.Context, epoch int, logs EpochLogs) error
}

// FitOptions Fit 옵션
type FitOptions struct {
	Epochs          int
	StepsPerEpoch   int
	ValidationSteps int
	Callbacks       []Callback
}

// History Fit 결과
type History struct {
	Epochs      int       `yaml:"epochs" json:"epochs"`
	Loss        []float64 `yaml:"trainLoss" json:"loss"`
	Accuracy    []float64 `yaml:"trainAccuracy" json:"accuracy"`
	ValLoss     []float64 `yaml:"validationLoss" json:"val_loss"`
	ValAccuracy []float64 `yaml:"validationAccuracy" json:"val_accuracy"`
}

// Score 평가 결과
type Score struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// Classifier backbone(frozen) + Flatten + Dense(softmax)
type Classifier struct {
	Name        string
	Spec        BackboneSpec
	FeatureSize int
	Labels      []string
	Compile     *CompileConfig
	History     *History
	Description string

	backbone  Backbone
	head      *Dense
	loss      Loss
	optimizer Optimizer
}

// NewClassifier backbone만 가진 모델
func NewClassifier(name string, spec BackboneSpec, backbone Backbone) (*Classifier, error) {
	features, err := backbone.FeatureSize()
	if err != nil {
		return nil, err
	}

	return &Classifier{
		Name:        name,
		Spec:        spec,
		FeatureSize: features,
		backbone:    backbone,
	}, nil
}

// Head 분류 레이어 (없으면 nil)
func (c *Classifier) Head() *Dense {
	return c.head
}

// SetHead 분류 레이어 지정
func (c *Classifier) SetHead(d *Dense) error {
	if d.Features() != c.FeatureSize {
		return fmt.Errorf("Head expects %d features, backbone gives %d", d.Features(), c.FeatureSize)
	}
	c.head = d
	return nil
}

// NumClasses 분류 클래스 수
func (c *Classifier) NumClasses() int {
	if c.head == nil {
		return 0
	}
	return c.head.Units()
}

// CompileWith optimizer, loss 지정
func (c *Classifier) CompileWith(optimizer Optimizer, loss Loss) {
	c.optimizer = optimizer
	c.loss = loss
	c.Compile = &CompileConfig{
		Optimizer:    optimizer.Name(),
		LearningRate: optimizer.LearningRate(),
		Loss:         loss.Name(),
		Metrics:      []string{"accuracy"},
	}
}

func (c *Classifier) compileFromConfig() error {
	if c.Compile == nil {
		return nil
	}

	mo, err := GetModelOptimizer(c.Compile.Optimizer)
	if err != nil {
		return err
	}
	loss, err := GetModelLoss(c.Compile.Loss)
	if err != nil {
		return err
	}
	c.optimizer = mo.GetOptimizer(c.Compile.LearningRate)
	c.loss = loss

	return nil
}

// Summary 레이어 구성 요약
func (c *Classifier) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Model: %q\n", c.Name)
	fmt.Fprintf(&b, "%-24s %-20s %s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintf(&b, "%-24s %-20s %s\n", c.Spec.Type+" (frozen)", fmt.Sprintf("(None, %d)", c.FeatureSize), "non-trainable")
	fmt.Fprintf(&b, "%-24s %-20s %d\n", "flatten (Flatten)", fmt.Sprintf("(None, %d)", c.FeatureSize), 0)
	if c.head != nil {
		fmt.Fprintf(&b, "%-24s %-20s %d\n", "dense (Dense)", fmt.Sprintf("(None, %d)", c.head.Units()), c.head.Params())
		fmt.Fprintf(&b, "Trainable params: %d\n", c.head.Params())
	} else {
		fmt.Fprintf(&b, "Trainable params: 0\n")
	}

	return b.String()
}

// Predict 배치 이미지의 클래스별 확률 (batch, classes)
func (c *Classifier) Predict(ctx context.Context, batch *preprocess.Batch) (*mat.Dense, error) {
	if c.head == nil {
		return nil, ErrNotPrepared
	}

	features, err := c.backbone.Extract(ctx, batch)
	if err != nil {
		return nil, err
	}

	return c.head.Forward(features)
}

func accuracy(probs *mat.Dense, labels []int) int {
	correct := 0
	for i, label := range labels {
		row := probs.RawRowView(i)
		best := 0
		for j := range row {
			if row[j] > row[best] {
				best = j
			}
		}
		if best == label {
			correct++
		}
	}
	return correct
}

func (c *Classifier) checkLabels(batch *preprocess.Batch) error {
	for _, l := range batch.Labels {
		if l < 0 || l >= c.head.Units() {
			return fmt.Errorf("Label %d out of range for %d classes", l, c.head.Units())
		}
	}
	return nil
}

func (c *Classifier) trainStep(ctx context.Context, batch *preprocess.Batch) (float64, int, error) {
	if err := c.checkLabels(batch); err != nil {
		return 0, 0, err
	}

	features, err := c.backbone.Extract(ctx, batch)
	if err != nil {
		return 0, 0, err
	}

	probs, err := c.head.Forward(features)
	if err != nil {
		return 0, 0, err
	}

	loss, grad := c.loss.Compute(probs, batch.Labels)
	dw, db := c.head.Backward(features, probs, grad)
	c.head.Apply(c.optimizer, dw, db)

	return loss, accuracy(probs, batch.Labels), nil
}

// Fit train으로 학습하고 epoch마다 valid로 검증
func (c *Classifier) Fit(ctx context.Context, train, valid BatchSource, opts FitOptions) (*History, error) {
	if c.head == nil || c.optimizer == nil || c.loss == nil {
		return nil, ErrNotPrepared
	}

	epochs := opts.Epochs
	if epochs <= 0 {
		epochs = 1
	}
	steps := opts.StepsPerEpoch
	if steps <= 0 {
		steps = train.Len()
	}

	history := &History{}
	for epoch := 1; epoch <= epochs; epoch++ {
		train.Reset()

		var (
			lossSum float64
			correct int
			seen    int
		)
		for step := 0; step < steps; step++ {
			if err := ctx.Err(); err != nil {
				return history, err
			}

			batch, err := train.Next(ctx)
			if err != nil {
				return history, err
			}

			loss, ok, err := c.trainStep(ctx, batch)
			if err != nil {
				return history, err
			}
			lossSum += loss * float64(batch.Len())
			correct += ok
			seen += batch.Len()

			klog.V(2).Infof("Epoch %d/%d step %d/%d - loss: %.4f", epoch, epochs, step+1, steps, loss)
		}

		logs := EpochLogs{
			Loss:     lossSum / float64(seen),
			Accuracy: float64(correct) / float64(seen),
		}

		if valid != nil {
			score, err := c.Evaluate(ctx, valid, opts.ValidationSteps)
			if err != nil {
				return history, err
			}
			logs.ValLoss = score.Loss
			logs.ValAccuracy = score.Accuracy
		}

		history.Epochs = epoch
		history.Loss = append(history.Loss, logs.Loss)
		history.Accuracy = append(history.Accuracy, logs.Accuracy)
		if valid != nil {
			history.ValLoss = append(history.ValLoss, logs.ValLoss)
			history.ValAccuracy = append(history.ValAccuracy, logs.ValAccuracy)
		}

		klog.Infof("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f",
			epoch, epochs, logs.Loss, logs.Accuracy, logs.ValLoss, logs.ValAccuracy)

		for _, cb := range opts.Callbacks {
			if err := cb.OnEpochEnd(ctx, epoch, logs); err != nil {
				return history, err
			}
		}
	}

	c.History = history

	return history, nil
}

// Evaluate steps개 배치의 손실과 정확도. steps가 0이면 전체
func (c *Classifier) Evaluate(ctx context.Context, src BatchSource, steps int) (Score, error) {
	if c.head == nil {
		return Score{}, ErrNotPrepared
	}

	loss := c.loss
	if loss == nil {
		loss = crossentropyLoss{name: CategoricalCrossentropy}
	}

	if steps <= 0 {
		steps = src.Len()
	}
	src.Reset()

	var (
		lossSum float64
		correct int
		seen    int
	)
	for step := 0; step < steps; step++ {
		batch, err := src.Next(ctx)
		if err != nil {
			return Score{}, err
		}
		if err := c.checkLabels(batch); err != nil {
			return Score{}, err
		}

		probs, err := c.Predict(ctx, batch)
		if err != nil {
			return Score{}, err
		}

		l, _ := loss.Compute(probs, batch.Labels)
		lossSum += l * float64(batch.Len())
		correct += accuracy(probs, batch.Labels)
		seen += batch.Len()
	}

	if seen == 0 {
		return Score{}, preprocess.ErrEmpty
	}

	return Score{
		Loss:     lossSum / float64(seen),
		Accuracy: float64(correct) / float64(seen),
	}, nil
}

// Close backbone 해제
func (c *Classifier) Close() error {
	if c.backbone == nil {
		return nil
	}
	return c.backbone.Close()
}
