package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

var testFiles = map[string]string{
	"Data/train/normal/a.png":         "normal-a",
	"Data/train/adenocarcinoma/b.png": "adeno-b",
	"Data/test/normal/c.png":          "normal-c",
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	return buf.Bytes()
}

func assertExtracted(t *testing.T, dir string) {
	t.Helper()

	for name, content := range testFiles {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, content, string(b))
	}
}

func TestExtractFormats(t *testing.T) {
	raw := tarBytes(t, testFiles)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, err := gw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, xw.Close())

	var zstBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstBuf)
	require.NoError(t, err)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	archives := map[string][]byte{
		"data.zip":     zipBytes(t, testFiles),
		"data.tar":     raw,
		"data.tar.gz":  gz.Bytes(),
		"data.tar.xz":  xzBuf.Bytes(),
		"data.tar.zst": zstBuf.Bytes(),
	}

	for name, content := range archives {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(archive, content, 0o644))

			dest := filepath.Join(dir, "out")
			require.NoError(t, Extract(context.Background(), archive, dest))
			assertExtracted(t, dest)
		})
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	evil := map[string]string{"../../evil.txt": "x"}
	archives := map[string][]byte{
		"evil.zip": zipBytes(t, evil),
		"evil.tar": tarBytes(t, evil),
	}

	for name, content := range archives {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "a", "b")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			archive := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(archive, content, 0o644))

			err := Extract(context.Background(), archive, filepath.Join(dir, "out"))
			assert.Error(t, err)
			assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
			assert.NoFileExists(t, filepath.Join(root, "a", "evil.txt"))
		})
	}
}

func TestExtractUnsupported(t *testing.T) {
	assert.Error(t, Extract(context.Background(), "data.rar", t.TempDir()))
	assert.False(t, IsArchive("data.rar"))
	assert.True(t, IsArchive("DATA.TGZ"))
}

func TestNewIngestor(t *testing.T) {
	cases := []struct {
		cfg  config.DataIngestion
		want interface{}
		err  error
	}{
		{config.DataIngestion{Source: "local", SourceURL: "a.zip", ExtractTo: "out"}, &Local{}, nil},
		{config.DataIngestion{Source: "kaggle", SourceURL: "o/d", ExtractTo: "out", Username: "u"}, &Kaggle{}, nil},
		{config.DataIngestion{Source: "gdrive", SourceURL: "id", ExtractTo: "out"}, &GoogleDrive{}, nil},
		{config.DataIngestion{Source: "kaggle", SourceURL: "o/d", ExtractTo: "out"}, nil, ErrInvalidConfig},
		{config.DataIngestion{Source: "local", ExtractTo: "out"}, nil, ErrInvalidConfig},
		{config.DataIngestion{Source: "local", SourceURL: "a.rar", ExtractTo: "out"}, nil, ErrInvalidConfig},
		{config.DataIngestion{}, nil, ErrInvalidConfig},
		{config.DataIngestion{Source: "s3", SourceURL: "x", ExtractTo: "out"}, nil, ErrUnsupportedSource},
	}

	for _, c := range cases {
		i, err := NewIngestor(c.cfg)
		if c.err != nil {
			assert.True(t, errors.Is(err, c.err), "%v: %v", c.cfg, err)
			continue
		}
		require.NoError(t, err)
		assert.IsType(t, c.want, i)
	}
}

func TestLocalIngest(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "data.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, testFiles), 0o644))

	l, err := NewLocal(config.DataIngestion{SourceURL: archive, ExtractTo: filepath.Join(dir, "out")})
	require.NoError(t, err)
	require.NoError(t, l.Ingest(context.Background()))
	assertExtracted(t, filepath.Join(dir, "out"))
}

func TestKaggleIngest(t *testing.T) {
	payload := zipBytes(t, testFiles)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		if !ok || user != "someone" || key != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/datasets/download/mohamedhanyyy/chest-ctscan-images" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	credDir := filepath.Join(dir, "kaggle")
	require.NoError(t, config.SaveJSON(filepath.Join(credDir, "kaggle.json"), map[string]string{
		"username": "ignored",
		"key":      "secret",
	}))
	t.Setenv("KAGGLE_KEY", "")
	t.Setenv("KAGGLE_USERNAME", "")

	k, err := NewKaggle(config.DataIngestion{
		SourceURL: "mohamedhanyyy/chest-ctscan-images",
		Username:  "someone",
		ExtractTo: filepath.Join(dir, "out"),
	})
	require.NoError(t, err)
	k.BaseURL = srv.URL
	k.ConfigDir = credDir
	k.Client = srv.Client()

	require.NoError(t, k.Ingest(context.Background()))
	assertExtracted(t, filepath.Join(dir, "out"))
	assert.NoFileExists(t, filepath.Join(dir, "out", "chest-ctscan-images.zip"))
}

func TestKaggleUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("KAGGLE_KEY", "wrong")

	k := &Kaggle{
		Dataset:   "owner/data",
		Username:  "someone",
		ExtractTo: t.TempDir(),
		BaseURL:   srv.URL,
		Client:    srv.Client(),
	}
	err := k.Ingest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGoogleDriveIngest(t *testing.T) {
	payload := zipBytes(t, testFiles)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file-id", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	g := &GoogleDrive{FileID: "file-id", ExtractTo: dir, BaseURL: srv.URL, Client: srv.Client()}
	require.NoError(t, g.Ingest(context.Background()))

	assertExtracted(t, dir)
	assert.FileExists(t, filepath.Join(dir, downloadFileName))
}

func TestGoogleDriveConfirmPage(t *testing.T) {
	payload := zipBytes(t, testFiles)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("confirm") == "t" && r.URL.Path == "/download" {
			w.Header().Set("Content-Type", "application/zip")
			w.Write(payload)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body>
<form id="download-form" action="/download" method="get">
<input type="hidden" name="id" value="file-id">
<input type="hidden" name="confirm" value="t">
</form></body></html>`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	g := &GoogleDrive{FileID: "file-id", ExtractTo: dir, BaseURL: srv.URL, Client: srv.Client()}
	require.NoError(t, g.Ingest(context.Background()))
	assertExtracted(t, dir)
}

func TestGoogleDriveNotPublic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>Sign in</body></html>`)
	}))
	defer srv.Close()

	g := &GoogleDrive{FileID: "private", ExtractTo: t.TempDir(), BaseURL: srv.URL, Client: srv.Client()}
	err := g.Ingest(context.Background())
	assert.True(t, errors.Is(err, ErrNotPublic), "%v", err)
}
