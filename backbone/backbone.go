// Package backbone TensorFlow SavedModel로 export된 사전학습 CNN을 특징 추출기로 실행
package backbone

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/preprocess"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// SavedModel TF SavedModel backbone
type SavedModel struct {
	spec    model.BackboneSpec
	tfModel *tf.SavedModel
	input   tf.Output
	output  tf.Output

	once     sync.Once
	features int
	probeErr error
}

// Load model.BackboneLoader
func Load(spec model.BackboneSpec) (model.Backbone, error) {
	return New(spec)
}

// New spec.SavedModel 경로의 SavedModel 로드
func New(spec model.BackboneSpec) (*SavedModel, error) {
	if len(spec.InputShape) != 3 {
		return nil, fmt.Errorf("Invalid input shape: %v", spec.InputShape)
	}

	tfModel, err := tf.LoadSavedModel(spec.SavedModel, spec.Tags, nil)
	if err != nil {
		return nil, err
	}

	inOp := tfModel.Graph.Operation(spec.InputOperationName)
	if inOp == nil {
		tfModel.Session.Close()
		return nil, fmt.Errorf("No such input operation(%s) in %s", spec.InputOperationName, spec.SavedModel)
	}
	outOp := tfModel.Graph.Operation(spec.OutputOperationName)
	if outOp == nil {
		tfModel.Session.Close()
		return nil, fmt.Errorf("No such output operation(%s) in %s", spec.OutputOperationName, spec.SavedModel)
	}

	klog.Infof("Loaded %s backbone: %s", spec.Type, spec.SavedModel)

	return &SavedModel{
		spec:    spec,
		tfModel: tfModel,
		input:   inOp.Output(0),
		output:  outOp.Output(0),
	}, nil
}

func (s *SavedModel) inputTensor(batch *preprocess.Batch) (*tf.Tensor, error) {
	h, w, c := s.spec.InputShape[0], s.spec.InputShape[1], s.spec.InputShape[2]
	if batch.Height != h || batch.Width != w || batch.Channels != c {
		return nil, fmt.Errorf("Batch shape (%d, %d, %d) does not match input shape %v",
			batch.Height, batch.Width, batch.Channels, s.spec.InputShape)
	}

	var buf bytes.Buffer
	buf.Grow(batch.Len() * h * w * c * 4)
	for _, img := range batch.Images {
		if err := binary.Write(&buf, binary.LittleEndian, img); err != nil {
			return nil, err
		}
	}

	return tf.ReadTensor(tf.Float, []int64{int64(batch.Len()), int64(h), int64(w), int64(c)}, &buf)
}

func (s *SavedModel) run(batch *preprocess.Batch) (*mat.Dense, error) {
	input, err := s.inputTensor(batch)
	if err != nil {
		return nil, err
	}

	results, err := s.tfModel.Session.Run(
		map[tf.Output]*tf.Tensor{s.input: input},
		[]tf.Output{s.output},
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Flatten
	out := results[0]
	shape := out.Shape()
	if len(shape) < 2 || shape[0] != int64(batch.Len()) {
		return nil, fmt.Errorf("Unexpected output shape: %v", shape)
	}
	features := 1
	for _, d := range shape[1:] {
		features *= int(d)
	}

	var raw bytes.Buffer
	if _, err := out.WriteContentsTo(&raw); err != nil {
		return nil, err
	}
	values := make([]float32, batch.Len()*features)
	if err := binary.Read(&raw, binary.LittleEndian, values); err != nil {
		return nil, err
	}

	data := make([]float64, len(values))
	for i, v := range values {
		data[i] = float64(v)
	}

	return mat.NewDense(batch.Len(), features, data), nil
}

// Extract (batch, features)
func (s *SavedModel) Extract(ctx context.Context, batch *preprocess.Batch) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if batch.Len() == 0 {
		return nil, preprocess.ErrEmpty
	}

	return s.run(batch)
}

// FeatureSize 빈 이미지 하나로 출력 크기를 확인 (최초 1회)
func (s *SavedModel) FeatureSize() (int, error) {
	s.once.Do(func() {
		h, w, c := s.spec.InputShape[0], s.spec.InputShape[1], s.spec.InputShape[2]
		probe := &preprocess.Batch{
			Images:   [][]float32{make([]float32, h*w*c)},
			Labels:   []int{0},
			Height:   h,
			Width:    w,
			Channels: c,
		}

		features, err := s.run(probe)
		if err != nil {
			s.probeErr = err
			return
		}
		_, s.features = features.Dims()
	})

	return s.features, s.probeErr
}

// Close session 종료
func (s *SavedModel) Close() error {
	return s.tfModel.Session.Close()
}
