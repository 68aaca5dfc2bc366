package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"golang.org/x/net/html"
	"k8s.io/klog/v2"
)

const (
	defaultDriveURL  = "https://drive.google.com/uc"
	downloadFileName = "downloaded_data.zip"
)

// GoogleDrive 공개된 Google Drive 파일을 내려받아 해제
type GoogleDrive struct {
	FileID    string
	ExtractTo string

	// BaseURL 다운로드 주소, 비어 있으면 https://drive.google.com/uc
	BaseURL string
	Client  *http.Client
}

// NewGoogleDrive sourceURL(파일 ID)과 extract_to 필요
func NewGoogleDrive(cfg config.DataIngestion) (*GoogleDrive, error) {
	if cfg.SourceURL == "" || cfg.ExtractTo == "" {
		return nil, fmt.Errorf("%w: gdrive ingestor requires 'sourceURL' and 'extract_to'", ErrInvalidConfig)
	}

	return &GoogleDrive{
		FileID:    cfg.SourceURL,
		ExtractTo: cfg.ExtractTo,
	}, nil
}

// Ingest 파일을 extract_to/downloaded_data.zip으로 받고 zip이면 해제
func (g *GoogleDrive) Ingest(ctx context.Context) error {
	klog.Infof("Downloading data from Google Drive file ID %s.", g.FileID)

	baseURL := g.BaseURL
	if baseURL == "" {
		baseURL = defaultDriveURL
	}
	q := url.Values{}
	q.Set("export", "download")
	q.Set("id", g.FileID)
	target := baseURL + "?" + q.Encode()

	output := filepath.Join(g.ExtractTo, downloadFileName)
	if err := g.download(ctx, target, output); err != nil {
		return err
	}
	klog.Infof("Google Drive file downloaded to %s", output)

	if IsArchive(output) {
		if err := Extract(ctx, output, g.ExtractTo); err != nil {
			return err
		}
		klog.Infof("Data extracted from Google Drive zip file to %s.", g.ExtractTo)
	}

	return nil
}

func (g *GoogleDrive) download(ctx context.Context, target, output string) error {
	client := g.Client
	if client == nil {
		client = defaultClient
	}

	// 큰 파일은 바이러스 검사 확인 페이지를 한번 거친다
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}

		res, err := client.Do(req)
		if err != nil {
			return err
		}

		if err := checkStatus(res, g.FileID); err != nil {
			res.Body.Close()
			return err
		}

		if !isHTML(res) {
			_, err := saveBody(res, output)
			res.Body.Close()
			return err
		}

		next, err := confirmURL(res.Body, res.Request.URL)
		res.Body.Close()
		if err != nil {
			return err
		}
		if next == "" {
			break
		}
		target = next
	}

	klog.Infof("The file with ID: '%s' is not publicly accessible.", g.FileID)
	return fmt.Errorf("%w: change the permissions of the file '%s' to publicly accessible", ErrNotPublic, g.FileID)
}

func isHTML(res *http.Response) bool {
	mt, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

// 확인 페이지에서 실제 다운로드 주소를 찾는다.
// download-form 폼 또는 uc-download-link 링크, 없으면 빈 문자열
func confirmURL(body io.Reader, base *url.URL) (string, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", err
	}

	var (
		action string
		link   string
		params = url.Values{}
		inForm bool
		walk   func(n *html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				if attr(n, "id") == "download-form" {
					action = attr(n, "action")
					inForm = true
					defer func() { inForm = false }()
				}
			case "input":
				if inForm && attr(n, "type") == "hidden" {
					params.Set(attr(n, "name"), attr(n, "value"))
				}
			case "a":
				if attr(n, "id") == "uc-download-link" {
					link = attr(n, "href")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var raw string
	switch {
	case action != "":
		u, err := url.Parse(action)
		if err != nil {
			return "", err
		}
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		raw = u.String()
	case link != "":
		raw = link
	default:
		return "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}

	return u.String(), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
