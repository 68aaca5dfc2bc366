package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"k8s.io/klog/v2"
)

const defaultKaggleURL = "https://www.kaggle.com"

// Kaggle Kaggle API로 데이터셋을 내려받아 해제
type Kaggle struct {
	Dataset   string
	Username  string
	ExtractTo string

	// BaseURL Kaggle API 주소, 비어 있으면 https://www.kaggle.com
	BaseURL string
	// ConfigDir kaggle.json 위치, 비어 있으면 $KAGGLE_CONFIG_DIR 또는 ~/.kaggle
	ConfigDir string
	Client    *http.Client
}

// NewKaggle sourceURL(owner/dataset), extract_to, username 필요
func NewKaggle(cfg config.DataIngestion) (*Kaggle, error) {
	if cfg.SourceURL == "" || cfg.ExtractTo == "" || cfg.Username == "" {
		return nil, fmt.Errorf(
			"%w: kaggle ingestor requires 'dataset URL', 'extract_to' directory, and 'username'",
			ErrInvalidConfig)
	}

	return &Kaggle{
		Dataset:   strings.Trim(cfg.SourceURL, "/"),
		Username:  cfg.Username,
		ExtractTo: cfg.ExtractTo,
	}, nil
}

type kaggleCredentials struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

func (k *Kaggle) credentials() (kaggleCredentials, error) {
	cred := kaggleCredentials{
		Username: os.Getenv("KAGGLE_USERNAME"),
		Key:      os.Getenv("KAGGLE_KEY"),
	}

	if cred.Key == "" {
		dir := k.ConfigDir
		if dir == "" {
			dir = os.Getenv("KAGGLE_CONFIG_DIR")
		}
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return cred, err
			}
			dir = filepath.Join(home, ".kaggle")
		}

		file := filepath.Join(dir, "kaggle.json")
		if err := config.LoadJSON(file, &cred); err != nil {
			return cred, fmt.Errorf("Could not find Kaggle API key (KAGGLE_KEY or %s): %w", file, err)
		}
	}

	// config에 지정된 username이 우선
	if k.Username != "" {
		cred.Username = k.Username
	}
	if cred.Username == "" || cred.Key == "" {
		return cred, fmt.Errorf("%w: incomplete Kaggle credentials", ErrInvalidConfig)
	}

	return cred, nil
}

// Ingest 데이터셋 zip을 내려받아 extract_to에 해제하고 zip은 삭제
func (k *Kaggle) Ingest(ctx context.Context) error {
	klog.Infof("Downloading Kaggle dataset %s", k.Dataset)

	parts := strings.Split(k.Dataset, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: dataset must be 'owner/dataset': %s", ErrInvalidConfig, k.Dataset)
	}

	cred, err := k.credentials()
	if err != nil {
		return err
	}

	baseURL := k.BaseURL
	if baseURL == "" {
		baseURL = defaultKaggleURL
	}
	url := fmt.Sprintf("%s/api/v1/datasets/download/%s/%s", strings.TrimRight(baseURL, "/"), parts[0], parts[1])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(cred.Username, cred.Key)

	client := k.Client
	if client == nil {
		client = defaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res, k.Dataset); err != nil {
		return err
	}

	archive := filepath.Join(k.ExtractTo, path.Base(k.Dataset)+".zip")
	n, err := saveBody(res, archive)
	if err != nil {
		return err
	}
	klog.V(1).Infof("Kaggle dataset archive %s (%d bytes)", archive, n)

	if err := Extract(ctx, archive, k.ExtractTo); err != nil {
		return err
	}
	if err := os.Remove(archive); err != nil {
		klog.Warning(err)
	}

	klog.Infof("Kaggle dataset %s downloaded and extracted to %s.", k.Dataset, k.ExtractTo)

	return nil
}
