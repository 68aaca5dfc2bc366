package api

import (
	"bytes"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/constants"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/inference"
)

//go:embed templates/*.html
var templates embed.FS

// APIs api 핸들러
type APIs struct {
	I    *inference.Inference
	TopK int
}

// Router 라우팅 설정이 끝난 gin 엔진
func (a *APIs) Router() *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = constants.MaxMultipartMemory
	r.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))

	r.GET("/", a.Index)
	r.POST("/predict", a.Predict)

	inferenceGroup := r.Group("/inference")
	{
		inferenceGroup.POST("", a.InferDefault)
		inferenceGroup.POST(":model", a.InferWithModel)
	}

	modelsGroup := r.Group("/models")
	{
		modelsGroup.GET("", a.ListModels)
		modelsGroup.GET(":model", a.ShowModel)
	}

	return r
}

// ListModels 추론 모델 목록 반환
func (a *APIs) ListModels(c *gin.Context) {
	models := a.I.GetModels()
	c.JSON(http.StatusOK, gin.H{
		"default": a.I.DefaultModel(),
		"models":  models,
	})
}

// ShowModel 추론 모델 정보 반환
func (a *APIs) ShowModel(c *gin.Context) {
	model := c.Param("model")
	_, verbose := c.GetQuery("verbose")

	if info := a.I.GetModel(model, verbose); info != nil {
		c.JSON(http.StatusOK, info)
	} else {
		Error(c, http.StatusNotFound, fmt.Errorf("Cannot find model info: %s", model))
	}
}

// InferDefault 기본 모델을 이용한 추론
func (a *APIs) InferDefault(c *gin.Context) {
	a.infer(c, "")
}

// InferWithModel 모델을 이용한 추론
func (a *APIs) InferWithModel(c *gin.Context) {
	model := c.Param("model")
	a.infer(c, model)
}

type upload struct {
	filename string
	format   string
	image    []byte
}

func readUpload(c *gin.Context) (upload, error) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		return upload{}, err
	}
	defer file.Close()

	var image bytes.Buffer
	if _, err := io.Copy(&image, file); err != nil {
		return upload{}, err
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !inference.SupportedFormat(format) {
		return upload{}, fmt.Errorf("%w: %s", inference.ErrUnsupportedFormat, header.Filename)
	}

	return upload{
		filename: header.Filename,
		format:   format,
		image:    image.Bytes(),
	}, nil
}

func inferStatus(err error) int {
	if errors.Is(err, inference.ErrNoSuchModel) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func (a *APIs) infer(c *gin.Context, model string) {
	up, err := readUpload(c)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	k := a.TopK
	if v := c.Query("k"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &k); err != nil {
			Error(c, http.StatusBadRequest, fmt.Errorf("Invalid k: %s", v))
			return
		}
	}

	t0 := time.Now()
	if infers, err := a.I.Infer(c.Request.Context(), model, up.image, up.format, k); err == nil {
		elapsed := time.Since(t0)
		c.JSON(http.StatusOK, gin.H{
			"file":        up.filename,
			"format":      up.format,
			"bytes":       len(up.image),
			"inference":   infers,
			"elapsed(ms)": elapsed.Milliseconds(),
		})
	} else {
		Error(c, inferStatus(err), err)
	}
}

// 업로드 화면에서 받는 형식
var pageFormats = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

type page struct {
	Models     []string
	Model      string
	Error      string
	File       string
	Image      template.URL
	Prediction *inference.InferLabel
	Percent    float32
}

// Index 이미지 업로드 화면
func (a *APIs) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", page{
		Models: a.I.GetModels(),
		Model:  a.I.DefaultModel(),
	})
}

// Predict 업로드한 이미지와 예측 결과를 나란히 표시
func (a *APIs) Predict(c *gin.Context) {
	p := page{
		Models: a.I.GetModels(),
		Model:  c.PostForm("model"),
	}
	if p.Model == "" {
		p.Model = a.I.DefaultModel()
	}

	up, err := readUpload(c)
	if err == nil && !pageFormats[up.format] {
		err = fmt.Errorf("%w: %s (jpg, jpeg, png only)", inference.ErrUnsupportedFormat, up.filename)
	}
	if err != nil {
		p.Error = err.Error()
		c.HTML(http.StatusBadRequest, "index.html", p)
		return
	}

	infers, err := a.I.Infer(c.Request.Context(), p.Model, up.image, up.format, 1)
	if err != nil {
		p.Error = err.Error()
		c.HTML(inferStatus(err), "index.html", p)
		return
	}

	mime := "image/png"
	if up.format != "png" {
		mime = "image/jpeg"
	}

	p.File = up.filename
	p.Image = template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(up.image))
	p.Prediction = &infers[0]
	p.Percent = infers[0].Prob * 100

	c.HTML(http.StatusOK, "index.html", p)
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
