package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// ReadYAML yaml 파일을 읽어 out에 채운다
func ReadYAML(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		klog.Errorf("Error occurred while opening yaml file: %s", err)
		return err
	}

	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("Invalid yaml file %s: %w", path, err)
	}
	klog.Infof("Yaml file from %s loaded successfully.", path)

	return nil
}

// CreateDirectories 디렉토리 생성 (이미 존재하면 무시)
func CreateDirectories(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, os.ModePerm); err != nil {
			return err
		}
		klog.V(2).Infof("Directory created at %s.", p)
	}

	return nil
}

// SaveJSON json 파일 저장
func SaveJSON(path string, data interface{}) error {
	b, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return err
	}

	if err := CreateDirectories(filepath.Dir(path)); err != nil {
		return err
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return err
	}
	klog.Infof("json file saved at: %s.", path)

	return nil
}

// LoadJSON json 파일 로드
func LoadJSON(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("Invalid json file %s: %w", path, err)
	}
	klog.Infof("json file loaded successfully from: %s.", path)

	return nil
}
