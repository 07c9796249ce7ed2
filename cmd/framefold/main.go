// Package main provides the framefold command line entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/framefold/framefold/internal/bootstrap"
	"github.com/framefold/framefold/internal/config"
	"github.com/framefold/framefold/internal/media"
	"github.com/framefold/framefold/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		spatialMode  = flag.Bool("spatial", false, "run the spatial pipeline instead of conversion")
		container    = flag.String("container", "", "output container (mp4, mkv, webm, mp3, ...)")
		videoCodec   = flag.String("codec", "", "video codec (libx264, libx265, hevc_nvenc, ...)")
		crf          = flag.Int("crf", -1, "constant rate factor (0-51)")
		bitrate      = flag.String("bitrate", "", "explicit video bitrate in kbps (switches off CRF mode)")
		resolution   = flag.String("resolution", "", "output resolution (original, 480p, 720p, 1080p)")
		upscale      = flag.String("upscale", "", "ML upscale mode (esrgan-2x, esrgan-4x)")
		startTime    = flag.String("start", "", "trim start (HH:MM:SS or seconds)")
		endTime      = flag.String("end", "", "trim end (HH:MM:SS or seconds)")
		encoderSize  = flag.String("encoder", "", "spatial depth encoder size (s, b, l)")
		maxDisparity = flag.Int("max-disparity", 0, "spatial stereo displacement ceiling in pixels")
		estimateOnly = flag.Bool("estimate", false, "print output estimates and exit without converting")
	)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		return fmt.Errorf("no input files; usage: framefold [flags] file...")
	}

	// Load .env file if present; environment takes precedence.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting framefold",
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("spatial", *spatialMode),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	orch := deps.Orchestrator

	if err := applyConfigFlags(orch, *container, *videoCodec, *crf, *bitrate, *resolution, *upscale, *startTime, *endTime); err != nil {
		return err
	}
	if err := applySpatialFlags(orch, *encoderSize, *maxDisparity); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orch.Run(ctx)

	for _, path := range files {
		meta, err := deps.Prober.Inspect(ctx, path)
		if err != nil {
			logger.Warn("probe failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		item := orch.AddFile(path, meta)
		if err := orch.Select(item.ID); err != nil {
			return fmt.Errorf("select %s: %w", path, err)
		}
	}

	if *estimateOnly {
		return printEstimates(orch)
	}

	if *spatialMode {
		if err := orch.StartSpatial(ctx); err != nil {
			return fmt.Errorf("start spatial: %w", err)
		}
	} else {
		if err := orch.StartConversion(ctx); err != nil {
			return fmt.Errorf("start conversion: %w", err)
		}
	}

	if err := waitForCompletion(ctx, orch); err != nil {
		return err
	}

	return report(orch)
}

// applyConfigFlags folds the conversion flags into the active configuration.
// Unset flags leave the defaults untouched.
func applyConfigFlags(orch *orchestrator.Orchestrator, container, videoCodec string, crf int, bitrate, resolution, upscale, startTime, endTime string) error {
	return orch.UpdateConversionConfig(func(c *media.ConversionConfig) {
		if container != "" {
			c.Container = container
		}
		if videoCodec != "" {
			c.VideoCodec = videoCodec
		}
		if crf >= 0 {
			c.CRF = crf
		}
		if bitrate != "" {
			c.VideoBitrateMode = media.BitrateModeExplicit
			c.VideoBitrate = bitrate
		}
		if resolution != "" {
			c.Resolution = resolution
		}
		if upscale != "" {
			c.MLUpscale = upscale
		}
		c.StartTime = startTime
		c.EndTime = endTime
	})
}

func applySpatialFlags(orch *orchestrator.Orchestrator, encoderSize string, maxDisparity int) error {
	if encoderSize == "" && maxDisparity <= 0 {
		return nil
	}
	return orch.UpdateSpatialConfig(func(c *media.SpatialConfig) {
		if encoderSize != "" {
			c.EncoderSize = encoderSize
		}
		if maxDisparity > 0 {
			c.MaxDisparity = maxDisparity
		}
	})
}

func printEstimates(orch *orchestrator.Orchestrator) error {
	for _, item := range orch.Items() {
		est, err := orch.EstimateFor(item.ID)
		if err != nil {
			return err
		}
		if est.SizeKnown {
			fmt.Printf("%s: ~%.1f MB (video %d kbps, audio %d kbps)\n",
				item.Path, est.SizeMB, est.VideoKbps, est.AudioKbps)
		} else {
			fmt.Printf("%s: %d kbps video, %d kbps audio (duration unknown)\n",
				item.Path, est.VideoKbps, est.AudioKbps)
		}
	}
	return nil
}

// waitForCompletion blocks until every item settles or the context is
// cancelled.
func waitForCompletion(ctx context.Context, orch *orchestrator.Orchestrator) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, item := range orch.Items() {
				if item.IsActive() {
					orch.CancelTask(context.Background(), item.ID)
				}
			}
			return ctx.Err()
		case <-ticker.C:
			if !orch.Processing() {
				return nil
			}
		}
	}
}

// report prints the final status of every item and returns an error when
// any of them failed.
func report(orch *orchestrator.Orchestrator) error {
	var failed int
	for _, item := range orch.Items() {
		switch item.Status {
		case media.StatusCompleted:
			fmt.Printf("done  %s\n", item.Path)
		case media.StatusError:
			failed++
			fmt.Printf("fail  %s: %s\n", item.Path, item.Error)
		default:
			fmt.Printf("%-5s %s\n", item.Status, item.Path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(orch.Items()))
	}
	return nil
}
