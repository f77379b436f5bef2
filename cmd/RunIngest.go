package cmd

import (
	"context"
	"os"
	"path/filepath"

	"fortistash/checkpoint"
	"fortistash/pipelines/fortigate"
	"fortistash/service"
	"fortistash/sink"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func RunIngest(cmd *cobra.Command, args []string) error {
	cfg := service.Config{
		ActivePath:      viper.GetString("active_path"),
		ParsedDir:       viper.GetString("parsed_dir"),
		CheckpointPath:  viper.GetString("checkpoint_path"),
		FlushInterval:   viper.GetDuration("flush_interval"),
		MetricsInterval: viper.GetDuration("metrics_interval"),
		TailSlice:       viper.GetDuration("tail_slice"),
		PollInterval:    viper.GetDuration("poll_interval"),
	}
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = filepath.Join(cfg.ParsedDir, "checkpoint.json")
	}

	if err := os.MkdirAll(cfg.ParsedDir, 0755); err != nil {
		log.Error("Cannot create parsed dir ", cfg.ParsedDir, ": ", err)
		os.Exit(1)
	}

	store := checkpoint.NewStore(cfg.CheckpointPath)
	sinks := sink.NewWriter(cfg.ParsedDir)

	pipe := fortigate.NewPipeline()
	if err := pipe.Setup(sinks); err != nil {
		log.Error("Pipeline setup failed: ", err)
		os.Exit(1)
	}

	log.Info("Starting ingest loop on ", cfg.ActivePath)
	return service.Run(context.Background(), cfg, store, pipe, sinks)
}
