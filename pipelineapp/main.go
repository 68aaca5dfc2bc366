package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/backbone"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/config"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/pipeline"
	"github.com/harrison-roh/chest-cancer-classification-with-transfer-learning/tracking"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)

	var (
		configPath string
		paramsPath string
		stages     string
	)
	flag.StringVar(&configPath, "config", "", "config.yaml path (default $CTSCAN_CONFIG or config/config.yaml)")
	flag.StringVar(&paramsPath, "params", "", "params.yaml path (default $CTSCAN_PARAMS or params.yaml)")
	flag.StringVar(&stages, "stages", "", "comma separated stage names; all stages when empty: "+strings.Join(pipeline.StageNames(), ", "))
	flag.Parse()
	defer klog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, paramsPath, stages); err != nil {
		klog.Errorf("Pipeline failed: %s", err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, paramsPath, stages string) error {
	klog.Info("Pipelines initiated...")

	mgr, err := config.NewManager(configPath, paramsPath)
	if err != nil {
		return err
	}

	tracker, err := tracking.New(ctx, mgr.TrackingConfig())
	if err != nil {
		return err
	}
	defer tracker.Close()

	var names []string
	for _, s := range strings.Split(stages, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}

	if err := pipeline.Run(ctx, mgr, pipeline.Deps{
		Loader:  backbone.Load,
		Tracker: tracker,
	}, names...); err != nil {
		return err
	}

	klog.Info("Pipeline operations completed successfully.")

	return nil
}
