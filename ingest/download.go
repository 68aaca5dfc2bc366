package ingest

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// 응답 본문을 dst에 저장. 중간에 실패하면 파일을 남기지 않는다
func saveBody(res *http.Response, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, res.Body)
	if err != nil {
		tmp.Close()
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}

	return n, os.Rename(tmp.Name(), dst)
}

func checkStatus(res *http.Response, what string) error {
	if res.StatusCode == http.StatusOK {
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return fmt.Errorf("Fail to download %s: %s %s", what, res.Status, string(b))
}
