package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/api"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/backbone"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/inference"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)

	configPath := flag.String("config", "", "config.yaml path (default $CTSCAN_CONFIG or config/config.yaml)")
	paramsPath := flag.String("params", "", "params.yaml path (default $CTSCAN_PARAMS or params.yaml)")
	addr := flag.String("addr", "", "Listen address (default inference.addr in config.yaml)")
	flag.Parse()
	defer klog.Flush()

	mgr, err := config.NewManager(*configPath, *paramsPath)
	if err != nil {
		klog.Exit(err)
	}
	c := mgr.InferenceConfig()
	if *addr != "" {
		c.Addr = *addr
	}

	i, err := inference.New(inference.Config{
		UserModelPath: c.ModelPath,
		ModelsPath:    c.ModelsDir,
		Labels:        c.Labels,
		TopK:          c.TopK,
		Loader:        backbone.Load,
	})
	if err != nil {
		klog.Exit(err)
	}
	defer i.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := i.Watch(ctx, nil); err != nil {
			klog.Errorf("Model watcher stopped: %s", err)
		}
	}()

	a := api.APIs{
		I:    i,
		TopK: c.TopK,
	}

	server := &http.Server{
		Addr:    c.Addr,
		Handler: a.Router(),
	}

	go func() {
		klog.Infof("Serving on %s", c.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("Server failed: %s", err)
			stop()
		}
	}()

	<-ctx.Done()
	klog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		klog.Warningf("Server shutdown: %s", err)
	}
}
