// Package bootstrap provides dependency initialization for the application.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/framefold/framefold/internal/backend/ffmpeg"
	"github.com/framefold/framefold/internal/backend/spatial"
	"github.com/framefold/framefold/internal/config"
	"github.com/framefold/framefold/internal/orchestrator"
	"github.com/framefold/framefold/internal/probe"
	"github.com/framefold/framefold/internal/storage"
)

// Dependencies holds all initialized dependencies for the application.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Prober       *probe.FFprobe
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	bus := orchestrator.NewBus()

	conversion := ffmpeg.NewRunner(cfg.FFmpegPath, bus,
		ffmpeg.WithLogger(logger),
		ffmpeg.WithMaxConcurrency(cfg.MaxConcurrent),
		ffmpeg.WithUpscaler(cfg.UpscalerPath, cfg.UpscaleModelDir),
	)

	models := spatial.NewModelManager(cfg.CheckpointDir, nil)
	spatialRunner := spatial.NewRunner(cfg.SpatialMakerPath, bus,
		spatial.WithLogger(logger),
		spatial.WithModelManager(models),
	)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithBus(bus),
		orchestrator.WithSpatialBackend(spatialRunner),
	}

	archiver, err := initArchiver(cfg, logger)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, orchestrator.WithArchiver(archiver))
	}

	orch := orchestrator.New(conversion, opts...)

	return &Dependencies{
		Orchestrator: orch,
		Prober:       probe.NewFFprobe(cfg.FFprobePath),
	}, nil
}

// initArchiver creates the output archiver based on configuration. Without
// an output directory or S3 settings, outputs stay next to their sources
// and no archiver is wired.
func initArchiver(cfg *config.Config, logger *slog.Logger) (storage.Archiver, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Archive, err := storage.NewS3Archive(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 archive: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Archive, nil
	}

	if cfg.OutputDir == "" {
		return nil, nil
	}

	local, err := storage.NewLocalArchive(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local archive: %w", err)
	}
	logger.Info("local archive configured",
		slog.String("output_dir", cfg.OutputDir),
	)
	return local, nil
}
