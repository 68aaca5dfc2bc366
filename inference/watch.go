package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/constants"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/model"
	"k8s.io/klog/v2"
)

// 모델 저장은 임시 디렉토리를 rename 하므로 상위 디렉토리만 감시한다
func (i *Inference) watchDirs() []string {
	var dirs []string
	if i.userModelPath != "" {
		dirs = append(dirs, filepath.Dir(filepath.Clean(i.userModelPath)))
	}
	if i.modelsPath != "" {
		dirs = append(dirs, filepath.Clean(i.modelsPath))
	}
	return dirs
}

// modelName 변경된 경로에 해당하는 모델 이름. 관련 없으면 ""
func (i *Inference) modelName(path string) string {
	path = filepath.Clean(path)
	if strings.HasPrefix(filepath.Base(path), ".") {
		return ""
	}

	if i.userModelPath != "" && path == filepath.Clean(i.userModelPath) {
		return constants.DefaultModelName
	}
	if i.modelsPath != "" && filepath.Dir(path) == filepath.Clean(i.modelsPath) {
		return filepath.Base(path)
	}
	return ""
}

func (i *Inference) handle(ev fsnotify.Event) {
	name := i.modelName(ev.Name)
	if name == "" {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		if _, err := os.Stat(filepath.Join(ev.Name, model.ConfigFile)); err == nil {
			i.reload(name, ev.Name)
		}
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, err := os.Stat(ev.Name); errors.Is(err, os.ErrNotExist) {
			i.unload(name)
		}
	}
}

// Watch 학습 모델 디렉토리 변경 시 모델을 다시 로드. ctx가 끝날 때까지 블록
func (i *Inference) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range i.watchDirs() {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		klog.Infof("Watching %s for model updates", dir)
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			klog.V(2).Infof("Model watch event: %s", ev)
			i.handle(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			klog.Warningf("Model watch error: %s", err)
		}
	}
}
