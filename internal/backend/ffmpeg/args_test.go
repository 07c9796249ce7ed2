package ffmpeg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefold/framefold/internal/media"
)

// argPair returns the value following the first occurrence of flag, or ""
// when the flag is absent.
func argPair(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestBuildArgs_Defaults(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	args := BuildArgs("/in/clip.mkv", "/in/clip.mkv_converted.mp4", cfg)

	assert.Equal(t, "/in/clip.mkv", argPair(args, "-i"))
	assert.Equal(t, "libx264", argPair(args, "-c:v"))
	assert.Equal(t, "23", argPair(args, "-crf"))
	assert.Equal(t, "medium", argPair(args, "-preset"))
	assert.Equal(t, "copy", argPair(args, "-c:s"))
	assert.Equal(t, "/in/clip.mkv_converted.mp4", args[len(args)-1])
	assert.Equal(t, "-y", args[len(args)-2])

	assert.False(t, contains(args, "-ss"))
	assert.False(t, contains(args, "-vf"))
	assert.False(t, contains(args, "-b:v"))
	assert.False(t, contains(args, "-vn"))
}

func TestBuildArgs_TrimWithStartUsesDuration(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.StartTime = "00:00:10"
	cfg.EndTime = "00:00:40"

	args := BuildArgs("in.mp4", "out.mp4", cfg)

	assert.Equal(t, "00:00:10", argPair(args, "-ss"))
	assert.Equal(t, "30.000", argPair(args, "-t"))
	assert.False(t, contains(args, "-to"))

	// Seek happens before the input for fast stream-level seeking.
	var ssIdx, iIdx int
	for i, a := range args {
		if a == "-ss" {
			ssIdx = i
		}
		if a == "-i" {
			iIdx = i
		}
	}
	assert.Less(t, ssIdx, iIdx)
}

func TestBuildArgs_EndOnlyUsesTo(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.EndTime = "00:01:00"

	args := BuildArgs("in.mp4", "out.mp4", cfg)

	assert.Equal(t, "00:01:00", argPair(args, "-to"))
	assert.False(t, contains(args, "-t"))
}

func TestBuildArgs_ExplicitBitrateMode(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.VideoBitrateMode = media.BitrateModeExplicit
	cfg.VideoBitrate = "5000"

	args := BuildArgs("in.mp4", "out.mp4", cfg)

	assert.Equal(t, "5000k", argPair(args, "-b:v"))
	assert.False(t, contains(args, "-crf"))
}

func TestBuildArgs_NvencQualityMapsToCQ(t *testing.T) {
	tests := []struct {
		quality int
		wantCQ  string
	}{
		{50, "27"},
		{100, "2"},
		{0, "51"},
		{2, "51"},
	}
	for _, tt := range tests {
		cfg := media.DefaultConversionConfig()
		cfg.VideoCodec = "hevc_nvenc"
		cfg.Quality = tt.quality

		args := BuildArgs("in.mp4", "out.mp4", cfg)

		assert.Equal(t, "vbr", argPair(args, "-rc:v"), "quality=%d", tt.quality)
		assert.Equal(t, tt.wantCQ, argPair(args, "-cq:v"), "quality=%d", tt.quality)
		assert.False(t, contains(args, "-crf"))
	}
}

func TestBuildArgs_NvencPresetMapping(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.VideoCodec = "h264_nvenc"
	cfg.Preset = "veryslow"

	args := BuildArgs("in.mp4", "out.mp4", cfg)
	assert.Equal(t, "slow", argPair(args, "-preset"))
}

func TestBuildArgs_VideotoolboxQuality(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.VideoCodec = "hevc_videotoolbox"
	cfg.Quality = 65
	cfg.VideotoolboxAllowSW = true

	args := BuildArgs("in.mp4", "out.mp4", cfg)

	assert.Equal(t, "65", argPair(args, "-q:v"))
	assert.Equal(t, "1", argPair(args, "-allow_sw"))
	assert.False(t, contains(args, "-preset"))
}

func TestBuildArgs_AudioOnlyContainer(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.Container = "mp3"
	cfg.Rotation = "90"

	args := BuildArgs("in.mp4", "out.mp3", cfg)

	assert.True(t, contains(args, "-vn"))
	assert.False(t, contains(args, "-c:v"))
	assert.False(t, contains(args, "-vf"))
}

func TestBuildArgs_AudioTrackSelection(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.SelectedAudioTracks = []int{1, 2}

	args := BuildArgs("in.mkv", "out.mp4", cfg)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-map 0:v:0")
	assert.Contains(t, joined, "-map 0:1")
	assert.Contains(t, joined, "-map 0:2")
	assert.Equal(t, "aac", argPair(args, "-c:a"))
	assert.Equal(t, "128k", argPair(args, "-b:a"))
}

func TestBuildArgs_LosslessAudioSkipsBitrate(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.SelectedAudioTracks = []int{1}
	cfg.AudioCodec = "flac"

	args := BuildArgs("in.mkv", "out.mkv", cfg)

	assert.Equal(t, "flac", argPair(args, "-c:a"))
	assert.False(t, contains(args, "-b:a"))
}

func TestBuildArgs_AudioChannels(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.SelectedAudioTracks = []int{1}
	cfg.AudioChannels = "mono"

	args := BuildArgs("in.mp4", "out.mp4", cfg)
	assert.Equal(t, "1", argPair(args, "-ac"))
}

func TestBuildArgs_MetadataModes(t *testing.T) {
	clean := media.DefaultConversionConfig()
	clean.Metadata = media.MetadataConfig{Mode: media.MetadataClean, Title: "dropped"}
	args := BuildArgs("in.mp4", "out.mp4", clean)
	assert.Equal(t, "-1", argPair(args, "-map_metadata"))
	assert.False(t, contains(args, "title=dropped"))

	replace := media.DefaultConversionConfig()
	replace.Metadata = media.MetadataConfig{Mode: media.MetadataReplace, Title: "New Title", Artist: "Someone"}
	args = BuildArgs("in.mp4", "out.mp4", replace)
	assert.Equal(t, "-1", argPair(args, "-map_metadata"))
	assert.True(t, contains(args, "title=New Title"))
	assert.True(t, contains(args, "artist=Someone"))

	preserve := media.DefaultConversionConfig()
	preserve.Metadata = media.MetadataConfig{Mode: media.MetadataPreserve, Comment: "kept"}
	args = BuildArgs("in.mp4", "out.mp4", preserve)
	assert.False(t, contains(args, "-map_metadata"))
	assert.True(t, contains(args, "comment=kept"))
}

func TestBuildArgs_SubtitleBurnSuppressesCopy(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.SubtitleBurnPath = "/subs/movie.srt"

	args := BuildArgs("in.mp4", "out.mp4", cfg)
	assert.False(t, contains(args, "-c:s"))
}

func TestBuildArgs_FPSOverride(t *testing.T) {
	cfg := media.DefaultConversionConfig()
	cfg.FPS = "30"

	args := BuildArgs("in.mp4", "out.mp4", cfg)
	assert.Equal(t, "30", argPair(args, "-r"))
}

func TestBuildOutputPath(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		container  string
		outputName string
		want       string
	}{
		{"default suffix", "/videos/a.mkv", "mp4", "", "/videos/a.mkv_converted.mp4"},
		{"custom name gains extension", "/videos/a.mkv", "mp4", "final", "/videos/final.mp4"},
		{"custom name keeps extension", "/videos/a.mkv", "mp4", "final.mov", "/videos/final.mov"},
		{"whitespace name ignored", "/videos/a.mkv", "webm", "   ", "/videos/a.mkv_converted.webm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildOutputPath(tt.input, tt.container, tt.outputName))
		})
	}
}

func TestValidateTask(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "in.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o600))

	cfg := media.DefaultConversionConfig()
	assert.NoError(t, ValidateTask(existing, cfg))

	assert.ErrorIs(t, ValidateTask(filepath.Join(dir, "missing.mp4"), cfg), ErrInvalidInput)
	assert.ErrorIs(t, ValidateTask(dir, cfg), ErrInvalidInput)

	bad := cfg
	bad.VideoBitrateMode = media.BitrateModeExplicit
	bad.VideoBitrate = "-100"
	assert.ErrorIs(t, ValidateTask(existing, bad), ErrInvalidInput)

	custom := cfg
	custom.Resolution = "custom"
	custom.CustomWidth = "0"
	custom.CustomHeight = "720"
	assert.ErrorIs(t, ValidateTask(existing, custom), ErrInvalidInput)

	auto := cfg
	auto.Resolution = "custom"
	auto.CustomWidth = "-1"
	auto.CustomHeight = "720"
	assert.NoError(t, ValidateTask(existing, auto))
}
