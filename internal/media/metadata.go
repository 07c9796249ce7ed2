package media

import (
	"strconv"
	"strings"
)

// AudioTrack describes one audio stream of the source.
type AudioTrack struct {
	Index       int
	Codec       string
	Channels    string
	Language    string
	Label       string
	BitrateKbps float64
	SampleRate  string
}

// SubtitleTrack describes one subtitle stream of the source.
type SubtitleTrack struct {
	Index    int
	Codec    string
	Language string
	Label    string
}

// SourceMetadata is the probed, read-only description of a source file.
// String fields keep the prober's raw formatting ("WxH" resolution,
// "HH:MM:SS.cc" duration, bitrate with or without units); the estimator and
// the backends parse what they need and degrade gracefully on absence.
type SourceMetadata struct {
	Duration   string
	Bitrate    string
	VideoCodec string
	AudioCodec string
	Resolution string
	FrameRate  float64
	Width      int
	Height     int

	VideoBitrateKbps float64

	AudioTracks    []AudioTrack
	SubtitleTracks []SubtitleTrack

	PixelFormat    string
	ColorSpace     string
	ColorRange     string
	ColorPrimaries string
	Profile        string
}

// ResolutionHeight parses the "WxH" resolution string and returns the height,
// or 0 when absent or malformed.
func (m *SourceMetadata) ResolutionHeight() int {
	if m == nil {
		return 0
	}
	_, h := ParseResolution(m.Resolution)
	return h
}

// ParseResolution splits a "WxH" string into its dimensions. Returns zeros
// when the string is not of that shape.
func ParseResolution(s string) (width, height int) {
	parts := strings.SplitN(strings.TrimSpace(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}

// ParseClock parses a duration expressed as bare seconds, "MM:SS", or
// "HH:MM:SS" with optional fractional seconds, returning the value in
// seconds. The second return is false when the string is unparseable.
func ParseClock(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	case 2:
		m, err1 := strconv.ParseFloat(parts[0], 64)
		sec, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return m*60 + sec, true
	case 3:
		h, err1 := strconv.ParseFloat(parts[0], 64)
		m, err2 := strconv.ParseFloat(parts[1], 64)
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, false
		}
		return h*3600 + m*60 + sec, true
	default:
		return 0, false
	}
}

// audioOnlyContainers are output formats that carry no video stream.
var audioOnlyContainers = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"flac": true,
	"aac":  true,
	"m4a":  true,
}

// IsAudioOnlyContainer reports whether the container format is audio-only.
func IsAudioOnlyContainer(container string) bool {
	return audioOnlyContainers[strings.ToLower(container)]
}
