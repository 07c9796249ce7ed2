// Package ffmpeg runs conversion tasks through the ffmpeg CLI and reports
// their lifecycle on the orchestrator event bus.
package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/framefold/framefold/internal/media"
)

// Static errors for task validation.
var (
	// ErrInvalidInput is returned when the source path or configuration
	// cannot produce a runnable command line.
	ErrInvalidInput = errors.New("invalid input")
)

// BuildArgs assembles the complete ffmpeg argument list for one task.
// Argument order matters: trim seek before -i, stream mapping after the
// codec block, -y and the output path last.
func BuildArgs(input, output string, cfg media.ConversionConfig) []string {
	var args []string

	if cfg.StartTime != "" {
		args = append(args, "-ss", cfg.StartTime)
	}

	args = append(args, "-i", input)

	if cfg.EndTime != "" {
		if cfg.StartTime != "" {
			// With an input seek the end time must become a duration,
			// since -to is interpreted relative to the seeked stream.
			start, okS := media.ParseClock(cfg.StartTime)
			end, okE := media.ParseClock(cfg.EndTime)
			if okS && okE && end-start > 0 {
				args = append(args, "-t", fmt.Sprintf("%.3f", end-start))
			}
		} else {
			args = append(args, "-to", cfg.EndTime)
		}
	}

	switch cfg.Metadata.Mode {
	case media.MetadataClean:
		args = append(args, "-map_metadata", "-1")
	case media.MetadataReplace:
		args = append(args, "-map_metadata", "-1")
		args = appendMetadataFlags(args, cfg.Metadata)
	default:
		args = appendMetadataFlags(args, cfg.Metadata)
	}

	audioOnly := media.IsAudioOnlyContainer(cfg.Container)

	if audioOnly {
		args = append(args, "-vn")
	} else {
		args = appendVideoCodecArgs(args, cfg)

		if filters := BuildVideoFilters(cfg, true); len(filters) > 0 {
			args = append(args, "-vf", strings.Join(filters, ","))
		}

		if cfg.FPS != "" && cfg.FPS != "original" {
			args = append(args, "-r", cfg.FPS)
		}
	}

	hasTrackSelection := len(cfg.SelectedAudioTracks) > 0 || len(cfg.SelectedSubtitleTracks) > 0
	if hasTrackSelection && !audioOnly {
		args = append(args, "-map", "0:v:0")
	}

	for _, idx := range cfg.SelectedAudioTracks {
		args = append(args, "-map", fmt.Sprintf("0:%d", idx))
	}
	if len(cfg.SelectedAudioTracks) > 0 {
		args = appendAudioCodecArgs(args, cfg)
	}

	if len(cfg.SelectedSubtitleTracks) > 0 {
		for _, idx := range cfg.SelectedSubtitleTracks {
			args = append(args, "-map", fmt.Sprintf("0:%d", idx))
		}
	} else if !audioOnly {
		// Carry any subtitle streams the source has, tolerating none.
		args = append(args, "-map", "0:s?")
	}

	if cfg.SubtitleBurnPath == "" {
		args = append(args, "-c:s", "copy")
	}

	if filters := BuildAudioFilters(cfg); len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args, "-y", output)
	return args
}

func appendVideoCodecArgs(args []string, cfg media.ConversionConfig) []string {
	nvenc := isNvencCodec(cfg.VideoCodec)
	videotoolbox := isVideotoolboxCodec(cfg.VideoCodec)

	args = append(args, "-c:v", cfg.VideoCodec)

	switch {
	case cfg.VideoBitrateMode == media.BitrateModeExplicit:
		args = append(args, "-b:v", cfg.VideoBitrate+"k")
	case nvenc:
		// NVENC has no CRF; map the 0..100 quality slider to its CQ scale,
		// where lower means better.
		cq := int(52 - float64(cfg.Quality)/2 + 0.5)
		if cq < 1 {
			cq = 1
		}
		if cq > 51 {
			cq = 51
		}
		args = append(args, "-rc:v", "vbr", "-cq:v", fmt.Sprintf("%d", cq))
	case videotoolbox:
		args = append(args, "-q:v", fmt.Sprintf("%d", cfg.Quality))
	default:
		args = append(args, "-crf", fmt.Sprintf("%d", cfg.CRF))
	}

	if !videotoolbox {
		preset := cfg.Preset
		if nvenc {
			preset = mapNvencPreset(preset)
		}
		args = append(args, "-preset", preset)
	}

	if nvenc {
		if cfg.NvencSpatialAQ {
			args = append(args, "-spatial_aq", "1")
		}
		if cfg.NvencTemporalAQ {
			args = append(args, "-temporal_aq", "1")
		}
	}

	if videotoolbox && cfg.VideotoolboxAllowSW {
		args = append(args, "-allow_sw", "1")
	}

	return args
}

// losslessAudioCodecs take no bitrate argument.
var losslessAudioCodecs = map[string]bool{
	"flac":      true,
	"alac":      true,
	"pcm_s16le": true,
}

func appendAudioCodecArgs(args []string, cfg media.ConversionConfig) []string {
	args = append(args, "-c:a", cfg.AudioCodec)
	if !losslessAudioCodecs[cfg.AudioCodec] {
		args = append(args, "-b:a", cfg.AudioBitrate+"k")
	}

	switch cfg.AudioChannels {
	case "stereo":
		args = append(args, "-ac", "2")
	case "mono":
		args = append(args, "-ac", "1")
	}
	return args
}

func appendMetadataFlags(args []string, m media.MetadataConfig) []string {
	pairs := []struct{ key, value string }{
		{"title", m.Title},
		{"artist", m.Artist},
		{"album", m.Album},
		{"genre", m.Genre},
		{"date", m.Date},
		{"comment", m.Comment},
	}
	for _, p := range pairs {
		if p.value != "" {
			args = append(args, "-metadata", fmt.Sprintf("%s=%s", p.key, p.value))
		}
	}
	return args
}

func isNvencCodec(codec string) bool {
	switch codec {
	case "h264_nvenc", "hevc_nvenc", "av1_nvenc":
		return true
	}
	return false
}

func isVideotoolboxCodec(codec string) bool {
	switch codec {
	case "h264_videotoolbox", "hevc_videotoolbox":
		return true
	}
	return false
}

// mapNvencPreset folds the x264 preset ladder onto the names NVENC accepts.
func mapNvencPreset(preset string) string {
	switch preset {
	case "fast", "medium", "slow", "default",
		"p1", "p2", "p3", "p4", "p5", "p6", "p7":
		return preset
	case "ultrafast", "superfast", "veryfast", "faster":
		return "fast"
	case "slower", "veryslow":
		return "slow"
	default:
		return "medium"
	}
}

// BuildOutputPath derives the output file path for a task. An explicit output
// name replaces the file name within the source directory, gaining the
// container extension when it has none; otherwise the source path is suffixed.
func BuildOutputPath(inputPath, container, outputName string) string {
	name := strings.TrimSpace(outputName)
	if name == "" {
		return fmt.Sprintf("%s_converted.%s", inputPath, container)
	}
	out := filepath.Join(filepath.Dir(inputPath), name)
	if filepath.Ext(out) == "" {
		out += "." + container
	}
	return out
}

// ValidateTask checks a task's input path and configuration before spawning
// a process for it.
func ValidateTask(inputPath string, cfg media.ConversionConfig) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("%w: input file does not exist: %s", ErrInvalidInput, inputPath)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: input path is not a file: %s", ErrInvalidInput, inputPath)
	}

	if cfg.Resolution == "custom" {
		if err := validateCustomResolution(cfg.CustomWidth, cfg.CustomHeight); err != nil {
			return err
		}
	}

	if cfg.VideoBitrateMode == media.BitrateModeExplicit && !media.IsAudioOnlyContainer(cfg.Container) {
		var bitrate float64
		if _, err := fmt.Sscanf(cfg.VideoBitrate, "%f", &bitrate); err != nil || bitrate <= 0 {
			return fmt.Errorf("%w: video bitrate must be positive, got %q", ErrInvalidInput, cfg.VideoBitrate)
		}
	}

	if cfg.MLUpscale != "" {
		if _, _, err := ResolveUpscaleMode(cfg.MLUpscale); err != nil {
			return err
		}
	}

	return nil
}

func validateCustomResolution(widthStr, heightStr string) error {
	if widthStr == "" {
		widthStr = "-1"
	}
	if heightStr == "" {
		heightStr = "-1"
	}
	var w, h int
	if _, err := fmt.Sscanf(widthStr, "%d", &w); err != nil {
		return fmt.Errorf("%w: invalid custom width: %s", ErrInvalidInput, widthStr)
	}
	if _, err := fmt.Sscanf(heightStr, "%d", &h); err != nil {
		return fmt.Errorf("%w: invalid custom height: %s", ErrInvalidInput, heightStr)
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("%w: resolution dimensions cannot be zero", ErrInvalidInput)
	}
	if w < -1 || h < -1 {
		return fmt.Errorf("%w: resolution dimensions cannot be negative (except -1 for auto)", ErrInvalidInput)
	}
	return nil
}
