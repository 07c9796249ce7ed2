// Package probe extracts source metadata from media files using ffprobe.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/framefold/framefold/internal/media"
)

// Static errors for probe operations.
var (
	// ErrProbeExecution is returned when the ffprobe command fails.
	ErrProbeExecution = errors.New("ffprobe execution failed")
	// ErrNoStreams is returned when the file contains no usable streams.
	ErrNoStreams = errors.New("no streams found")
)

// FFprobe inspects media files via the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// report mirrors the JSON document ffprobe emits with
// -print_format json -show_format -show_streams.
type report struct {
	Streams []stream `json:"streams"`
	Format  format   `json:"format"`
}

type stream struct {
	Index          int               `json:"index"`
	CodecType      string            `json:"codec_type"`
	CodecName      string            `json:"codec_name"`
	Profile        string            `json:"profile"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	RFrameRate     string            `json:"r_frame_rate"`
	AvgFrameRate   string            `json:"avg_frame_rate"`
	BitRate        string            `json:"bit_rate"`
	ChannelLayout  string            `json:"channel_layout"`
	SampleRate     string            `json:"sample_rate"`
	PixFmt         string            `json:"pix_fmt"`
	ColorSpace     string            `json:"color_space"`
	ColorRange     string            `json:"color_range"`
	ColorPrimaries string            `json:"color_primaries"`
	Tags           map[string]string `json:"tags"`
}

type format struct {
	Duration string            `json:"duration"`
	BitRate  string            `json:"bit_rate"`
	Tags     map[string]string `json:"tags"`
}

// Inspect runs ffprobe against the given path and returns the parsed
// source metadata.
func (p *FFprobe) Inspect(ctx context.Context, path string) (*media.SourceMetadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrProbeExecution, err, stderr.String())
	}

	return Parse(stdout.Bytes())
}

// Parse converts raw ffprobe JSON output into source metadata. It is split
// out from Inspect so callers can feed captured output directly.
func Parse(data []byte) (*media.SourceMetadata, error) {
	var rep report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(rep.Streams) == 0 {
		return nil, ErrNoStreams
	}

	meta := &media.SourceMetadata{
		Duration: strings.TrimSpace(rep.Format.Duration),
		Bitrate:  rep.Format.BitRate,
	}

	for _, s := range rep.Streams {
		switch s.CodecType {
		case "video":
			// Keep the first video stream; later ones are attachments
			// (cover art and the like).
			if meta.VideoCodec != "" {
				continue
			}
			meta.VideoCodec = s.CodecName
			meta.Width = s.Width
			meta.Height = s.Height
			meta.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
			meta.FrameRate = parseFrameRate(s.RFrameRate, s.AvgFrameRate)
			meta.PixelFormat = s.PixFmt
			meta.ColorSpace = s.ColorSpace
			meta.ColorRange = s.ColorRange
			meta.ColorPrimaries = s.ColorPrimaries
			meta.Profile = s.Profile
			if kbps := float64(parseInt(s.BitRate)) / 1000; kbps > 0 {
				meta.VideoBitrateKbps = kbps
			}

		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = s.CodecName
			}
			meta.AudioTracks = append(meta.AudioTracks, media.AudioTrack{
				Index:       s.Index,
				Codec:       s.CodecName,
				Channels:    s.ChannelLayout,
				Language:    s.Tags["language"],
				Label:       s.Tags["title"],
				BitrateKbps: float64(parseInt(s.BitRate)) / 1000,
				SampleRate:  s.SampleRate,
			})

		case "subtitle":
			meta.SubtitleTracks = append(meta.SubtitleTracks, media.SubtitleTrack{
				Index:    s.Index,
				Codec:    s.CodecName,
				Language: s.Tags["language"],
				Label:    s.Tags["title"],
			})
		}
	}

	return meta, nil
}

// parseFrameRate resolves an ffprobe rational like "30000/1001" to a float.
// r_frame_rate is preferred; avg_frame_rate covers streams where it is "0/0".
func parseFrameRate(rFrameRate, avgFrameRate string) float64 {
	if fps := parseRational(rFrameRate); fps > 0 {
		return fps
	}
	return parseRational(avgFrameRate)
}

func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
