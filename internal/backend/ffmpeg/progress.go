package ffmpeg

import (
	"regexp"

	"github.com/framefold/framefold/internal/media"
)

// ffmpeg reports progress on stderr only; these patterns pull the running
// clock and the source duration out of that stream.
var (
	timeRegex     = regexp.MustCompile(`time=\s*(\d+(?::\d+){0,3}(?:\.\d+)?)`)
	durationRegex = regexp.MustCompile(`Duration:\s*(\d+(?::\d+){0,3}(?:\.\d+)?)`)
)

// progressTracker converts ffmpeg stderr lines into percentages. The
// expected duration comes from probe metadata adjusted for trim; when absent
// it falls back to the Duration header ffmpeg prints before encoding starts.
type progressTracker struct {
	expected float64
	detected float64
}

func newProgressTracker(expected float64) *progressTracker {
	return &progressTracker{expected: expected}
}

// Observe parses one stderr line. It returns the current progress percentage
// and whether the line carried a progress update.
func (t *progressTracker) Observe(line string) (float64, bool) {
	if t.expected <= 0 && t.detected <= 0 {
		if m := durationRegex.FindStringSubmatch(line); m != nil {
			if d, ok := media.ParseClock(m[1]); ok {
				t.detected = d
			}
		}
	}

	m := timeRegex.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	current, ok := media.ParseClock(m[1])
	if !ok {
		return 0, false
	}

	duration := t.expected
	if duration <= 0 {
		duration = t.detected
	}
	if duration <= 0 {
		return 0, false
	}

	progress := current / duration * 100
	if progress > 100 {
		progress = 100
	}
	return progress, true
}

// expectedDuration computes the portion of the source the task will encode:
// trim end (or full duration) minus trim start, floored at zero.
func expectedDuration(cfg media.ConversionConfig, meta *media.SourceMetadata) float64 {
	start := 0.0
	if cfg.StartTime != "" {
		if v, ok := media.ParseClock(cfg.StartTime); ok {
			start = v
		}
	}

	full := 0.0
	if meta != nil {
		if v, ok := media.ParseClock(meta.Duration); ok {
			full = v
		}
	}

	end := full
	if cfg.EndTime != "" {
		if v, ok := media.ParseClock(cfg.EndTime); ok {
			end = v
		}
	}

	if d := end - start; d > 0 {
		return d
	}
	return 0
}
