package ffmpeg

import (
	"fmt"
	"math"
	"strings"

	"github.com/framefold/framefold/internal/media"
)

// volumeEpsilon is the tolerance below which a volume adjustment is treated
// as unity and no filter is emitted.
const volumeEpsilon = 0.001

// BuildVideoFilters returns the -vf filter chain for a configuration. Filter
// order is fixed: flips, rotation, crop, subtitle burn, then scaling, so the
// crop rectangle applies in post-rotation coordinates.
func BuildVideoFilters(cfg media.ConversionConfig, includeScale bool) []string {
	var filters []string

	if cfg.FlipHorizontal {
		filters = append(filters, "hflip")
	}
	if cfg.FlipVertical {
		filters = append(filters, "vflip")
	}

	switch cfg.Rotation {
	case "90":
		filters = append(filters, "transpose=1")
	case "180":
		filters = append(filters, "transpose=1,transpose=1")
	case "270":
		filters = append(filters, "transpose=2")
	}

	if cfg.Crop != nil && cfg.Crop.Enabled {
		w := int(math.Round(math.Max(cfg.Crop.Width, 1)))
		h := int(math.Round(math.Max(cfg.Crop.Height, 1)))
		x := int(math.Round(math.Max(cfg.Crop.X, 0)))
		y := int(math.Round(math.Max(cfg.Crop.Y, 0)))
		filters = append(filters, fmt.Sprintf("crop=%d:%d:%d:%d", w, h, x, y))
	}

	if cfg.SubtitleBurnPath != "" {
		escaped := strings.ReplaceAll(cfg.SubtitleBurnPath, `\`, "/")
		escaped = strings.ReplaceAll(escaped, ":", `\:`)
		filters = append(filters, fmt.Sprintf("subtitles='%s'", escaped))
	}

	if includeScale && cfg.Resolution != "" && cfg.Resolution != "original" {
		filters = append(filters, scaleFilter(cfg))
	}

	return filters
}

func scaleFilter(cfg media.ConversionConfig) string {
	algo := ""
	switch cfg.ScalingAlgorithm {
	case "lanczos":
		algo = ":flags=lanczos"
	case "bilinear":
		algo = ":flags=bilinear"
	case "nearest":
		algo = ":flags=neighbor"
	case "bicubic":
		algo = ":flags=bicubic"
	}

	if cfg.Resolution == "custom" {
		w := cfg.CustomWidth
		h := cfg.CustomHeight
		if w == "" {
			w = "-1"
		}
		if h == "" {
			h = "-1"
		}
		switch {
		case w != "-1" && h != "-1":
			// Exact canvas: fit inside and pad to center.
			return fmt.Sprintf("scale=%s:%s:force_original_aspect_ratio=decrease%s,pad=%s:%s:(ow-iw)/2:(oh-ih)/2", w, h, algo, w, h)
		case w == "-1" && h == "-1":
			return "scale=-1:-1"
		default:
			return fmt.Sprintf("scale=%s:%s%s", w, h, algo)
		}
	}

	switch cfg.Resolution {
	case "1080p":
		return "scale=-2:1080" + algo
	case "720p":
		return "scale=-2:720" + algo
	case "480p":
		return "scale=-2:480" + algo
	default:
		return "scale=-1:-1"
	}
}

// BuildAudioFilters returns the -af filter chain for a configuration.
func BuildAudioFilters(cfg media.ConversionConfig) []string {
	var filters []string

	if cfg.AudioNormalize {
		filters = append(filters, "loudnorm=I=-16:TP=-1.5:LRA=11")
	}

	if math.Abs(cfg.AudioVolume-100) > volumeEpsilon {
		filters = append(filters, fmt.Sprintf("volume=%.2f", cfg.AudioVolume/100))
	}

	return filters
}
