package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/framefold/framefold/internal/media"
)

func TestProgressTracker_WithExpectedDuration(t *testing.T) {
	tracker := newProgressTracker(200)

	progress, ok := tracker.Observe("frame= 1234 fps=30 time=00:00:50.00 bitrate=4000kbits/s")
	assert.True(t, ok)
	assert.InDelta(t, 25.0, progress, 0.001)

	progress, ok = tracker.Observe("frame= 9999 fps=30 time=00:05:00.00 bitrate=4000kbits/s")
	assert.True(t, ok)
	assert.Equal(t, 100.0, progress)
}

func TestProgressTracker_FallsBackToDetectedDuration(t *testing.T) {
	tracker := newProgressTracker(0)

	_, ok := tracker.Observe("time=00:00:10.00")
	assert.False(t, ok, "no duration known yet")

	_, ok = tracker.Observe("  Duration: 00:01:40.00, start: 0.000000, bitrate: 5000 kb/s")
	assert.False(t, ok, "duration line carries no time= field")

	progress, ok := tracker.Observe("frame= 300 time=00:00:25.00 speed=2x")
	assert.True(t, ok)
	assert.InDelta(t, 25.0, progress, 0.001)
}

func TestProgressTracker_NonProgressLine(t *testing.T) {
	tracker := newProgressTracker(100)

	_, ok := tracker.Observe("Stream #0:0: Video: h264 (High)")
	assert.False(t, ok)
}

func TestExpectedDuration(t *testing.T) {
	meta := &media.SourceMetadata{Duration: "00:10:00"}

	tests := []struct {
		name  string
		start string
		end   string
		meta  *media.SourceMetadata
		want  float64
	}{
		{"full clip", "", "", meta, 600},
		{"trim both", "00:01:00", "00:04:00", meta, 180},
		{"start only", "00:02:00", "", meta, 480},
		{"end only", "", "90", meta, 90},
		{"no metadata", "", "", nil, 0},
		{"inverted trim", "00:05:00", "00:01:00", meta, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := media.DefaultConversionConfig()
			cfg.StartTime = tt.start
			cfg.EndTime = tt.end
			assert.InDelta(t, tt.want, expectedDuration(cfg, tt.meta), 0.001)
		})
	}
}
