// Package estimate predicts output bitrate and file size from the conversion
// configuration and the probed source metadata. The estimator is pure and
// O(1); it is queried on every configuration edit to preview the expected
// output, so unparseable metadata degrades to absent fields instead of
// failing the whole estimate.
package estimate

import (
	"math"
	"strconv"
	"strings"

	"github.com/framefold/framefold/internal/media"
)

// SourceBitrateBpsThreshold disambiguates raw bits-per-second values from
// already-kbps values in probed bitrate strings, since no unit is reliably
// present. Values above the threshold are treated as bps and divided by
// 1000. This is a tunable heuristic, not a protocol guarantee.
const SourceBitrateBpsThreshold = 100_000

// minVideoKbps floors quality-driven estimates to avoid degenerate
// near-zero predictions.
const minVideoKbps = 400

// referenceCRF is the neutral quality point: each 6-point decrease from it
// doubles the estimated bitrate.
const referenceCRF = 23

// Estimate is the predicted output, derived and never persisted.
type Estimate struct {
	VideoKbps int
	AudioKbps int
	TotalKbps int
	// SizeMB is the predicted output size. Valid only when SizeKnown.
	SizeMB    float64
	SizeKnown bool
}

// resolutionTags maps configuration resolution tags to output heights.
var resolutionTags = map[string]int{
	"480p":  480,
	"720p":  720,
	"1080p": 1080,
}

// audioDefaultsKbps is the per-codec fallback audio bitrate.
var audioDefaultsKbps = map[string]int{
	"aac":  128,
	"ac3":  192,
	"opus": 96,
	"mp3":  128,
}

// Output predicts the bitrate and size for one conversion. meta may be nil.
func Output(cfg media.ConversionConfig, meta *media.SourceMetadata) Estimate {
	var videoKbps float64

	switch {
	case media.IsAudioOnlyContainer(cfg.Container):
		videoKbps = 0
	case cfg.VideoBitrateMode == media.BitrateModeExplicit:
		videoKbps = parseNumeric(cfg.VideoBitrate)
	default:
		videoKbps = crfModeVideoKbps(cfg, meta)
	}

	audioKbps := parseNumeric(cfg.AudioBitrate)
	if audioKbps <= 0 {
		if def, ok := audioDefaultsKbps[strings.ToLower(cfg.AudioCodec)]; ok {
			audioKbps = float64(def)
		} else {
			audioKbps = 128
		}
	}

	est := Estimate{
		VideoKbps: int(math.Round(videoKbps)),
		AudioKbps: int(math.Round(audioKbps)),
	}
	est.TotalKbps = est.VideoKbps + est.AudioKbps

	if meta != nil && est.TotalKbps > 0 {
		if dur, ok := media.ParseClock(meta.Duration); ok && dur > 0 {
			size := float64(est.TotalKbps) * dur / 8 / 1024
			if size < 1 {
				size = 1
			}
			est.SizeMB = size
			est.SizeKnown = true
		}
	}

	return est
}

// crfModeVideoKbps estimates the video bitrate for quality-driven encodes:
// from the scaled source bitrate when the probe supplied one, otherwise from
// a base table keyed by resolution and codec.
func crfModeVideoKbps(cfg media.ConversionConfig, meta *media.SourceMetadata) float64 {
	srcHeight := 0
	if meta != nil {
		srcHeight = meta.ResolutionHeight()
	}

	targetHeight := resolutionTags[cfg.Resolution]
	if targetHeight == 0 {
		targetHeight = srcHeight
	}
	if srcHeight == 0 {
		srcHeight = targetHeight
	}

	var srcKbps float64
	if meta != nil {
		srcKbps = ParseSourceBitrate(meta.Bitrate)
	}

	var kbps float64
	if srcKbps > 0 && srcHeight > 0 && targetHeight > 0 {
		// Bitrate roughly tracks pixel count but grows faster at higher
		// resolution due to added detail.
		kbps = srcKbps * math.Pow(float64(targetHeight)/float64(srcHeight), 1.75)
	} else {
		kbps = baseBitrateForHeight(targetHeight) * codecScale(cfg.VideoCodec)
	}

	kbps *= math.Pow(2, float64(referenceCRF-cfg.CRF)/6)

	if kbps < minVideoKbps {
		kbps = minVideoKbps
	}
	return kbps
}

// parseNumeric parses a user-entered kbps field, returning 0 when it is
// empty or unparseable.
func parseNumeric(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ParseSourceBitrate extracts a kbps value from a probed bitrate string.
// Non-numeric characters are stripped; values above
// SourceBitrateBpsThreshold are treated as bps and divided by 1000.
// Returns 0 when nothing numeric is present.
func ParseSourceBitrate(raw string) float64 {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	if v > SourceBitrateBpsThreshold {
		v /= 1000
	}
	return v
}

// baseBitrateForHeight returns the reference h264 bitrate for a standard
// resolution height. Heights between table entries use the nearest lower
// entry; unknown or zero heights fall back to the 1080p reference.
func baseBitrateForHeight(height int) float64 {
	switch {
	case height >= 2160:
		return 25000
	case height >= 1440:
		return 16000
	case height >= 1080:
		return 8000
	case height >= 720:
		return 5000
	case height >= 480:
		return 2500
	case height > 0:
		return 1500
	default:
		return 8000
	}
}

// codecScale adjusts the base bitrate for codec efficiency relative to h264.
func codecScale(codec string) float64 {
	switch strings.ToLower(codec) {
	case "h265", "libx265", "hevc":
		return 0.65
	case "vp9", "libvpx-vp9":
		return 0.7
	case "prores", "prores_ks":
		return 1.6
	default:
		return 1.0
	}
}
