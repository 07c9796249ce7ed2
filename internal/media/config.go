package media

// Bitrate modes for video encoding.
const (
	// BitrateModeExplicit encodes at a user-chosen bitrate.
	BitrateModeExplicit = "bitrate"
	// BitrateModeCRF encodes quality-driven with a constant rate factor.
	BitrateModeCRF = "crf"
)

// MetadataMode controls how container metadata is carried to the output.
type MetadataMode string

const (
	MetadataPreserve MetadataMode = "preserve"
	MetadataClean    MetadataMode = "clean"
	MetadataReplace  MetadataMode = "replace"
)

// MetadataConfig holds output container metadata handling.
type MetadataConfig struct {
	Mode    MetadataMode `validate:"omitempty,oneof=preserve clean replace"`
	Title   string
	Artist  string
	Album   string
	Genre   string
	Date    string
	Comment string
}

// CropConfig is the pixel-space crop attached to a submitted task. It is
// derived from the item's normalized rectangle and the probed source
// dimensions at submission time.
type CropConfig struct {
	Enabled      bool
	X            float64
	Y            float64
	Width        float64
	Height       float64
	SourceWidth  float64
	SourceHeight float64
}

// ConversionConfig holds the user-chosen output parameters for the
// transcoding pipeline.
type ConversionConfig struct {
	Container        string `validate:"required"`
	VideoCodec       string
	VideoBitrateMode string `validate:"omitempty,oneof=bitrate crf"`
	VideoBitrate     string
	AudioCodec       string
	AudioBitrate     string
	AudioChannels    string `validate:"omitempty,oneof=original stereo mono"`
	AudioVolume      float64
	AudioNormalize   bool

	SelectedAudioTracks    []int
	SelectedSubtitleTracks []int
	SubtitleBurnPath       string

	Resolution       string
	CustomWidth      string
	CustomHeight     string
	ScalingAlgorithm string
	FPS              string

	CRF     int    `validate:"min=0,max=51"`
	Quality int    `validate:"min=0,max=100"`
	Preset  string

	// MLUpscale selects a machine-learning upscale pass before the encode.
	// Empty means a plain transcode.
	MLUpscale string `validate:"omitempty,oneof=esrgan-2x esrgan-4x"`
	// HWDecode requests hardware-accelerated decoding during frame
	// extraction for the upscale pass.
	HWDecode bool

	StartTime string
	EndTime   string

	Metadata MetadataConfig

	Rotation       string
	FlipHorizontal bool
	FlipVertical   bool
	Crop           *CropConfig

	NvencSpatialAQ      bool
	NvencTemporalAQ     bool
	VideotoolboxAllowSW bool
}

// DefaultConversionConfig returns the configuration used for new sessions.
func DefaultConversionConfig() ConversionConfig {
	return ConversionConfig{
		Container:        "mp4",
		VideoCodec:       "libx264",
		VideoBitrateMode: BitrateModeCRF,
		AudioCodec:       "aac",
		AudioBitrate:     "128",
		AudioChannels:    "original",
		AudioVolume:      100,
		Resolution:       "original",
		ScalingAlgorithm: "bicubic",
		FPS:              "original",
		CRF:              23,
		Quality:          50,
		Preset:           "medium",
		Metadata:         MetadataConfig{Mode: MetadataPreserve},
		Rotation:         "0",
	}
}

// SpatialConfig holds the parameters for the spatial photo/video pipeline.
type SpatialConfig struct {
	// EncoderSize selects the depth-estimation encoder class.
	EncoderSize string `validate:"oneof=s b l"`
	// MaxDisparity is the stereo displacement ceiling in pixels.
	MaxDisparity int `validate:"min=0"`
	// InputSize is the target depth-estimation input size in pixels.
	// Advisory: the helper derives its own input size and the launcher
	// does not forward this value.
	InputSize int `validate:"min=0"`
	// SkipDownscale feeds the source to the estimator at full resolution.
	SkipDownscale bool
	// Duration optionally limits processing to the first N seconds.
	Duration *float64
	// HardwareAccel requests GPU execution. Advisory: the helper probes
	// for GPU support itself and the launcher does not forward this value.
	HardwareAccel bool
}

// DefaultSpatialConfig returns the spatial defaults.
func DefaultSpatialConfig() SpatialConfig {
	return SpatialConfig{
		EncoderSize:   "b",
		MaxDisparity:  30,
		InputSize:     518,
		HardwareAccel: true,
	}
}
