// Package server provides the HTTP control surface for framefold.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/framefold/framefold/internal/media"

// AddFileRequest is the HTTP request body for registering a source file.
type AddFileRequest struct {
	// Path is the absolute path of the source media file.
	Path string `json:"path" validate:"required"`
	// OutputName optionally overrides the derived output file name.
	OutputName string `json:"output_name,omitempty"`
}

// ItemResponse describes one media item.
type ItemResponse struct {
	ID         string  `json:"id"`
	Path       string  `json:"path"`
	OutputName string  `json:"output_name,omitempty"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Error      string  `json:"error,omitempty"`
	// Resolution is the probed "WxH" source resolution, when known.
	Resolution string `json:"resolution,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

// EditRequest updates an item's edit parameters. Absent fields are left
// untouched.
type EditRequest struct {
	Crop *CropRect `json:"crop,omitempty"`

	Rotation       *int  `json:"rotation,omitempty" validate:"omitempty,oneof=0 90 180 270"`
	FlipHorizontal *bool `json:"flip_horizontal,omitempty"`
	FlipVertical   *bool `json:"flip_vertical,omitempty"`

	TrimStart *string `json:"trim_start,omitempty"`
	TrimEnd   *string `json:"trim_end,omitempty"`
}

// CropRect is a normalized crop rectangle in source-frame coordinates.
type CropRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BatchRequest starts a batch over the selected items.
type BatchRequest struct {
	// Pipeline selects the processing pipeline. Defaults to conversion.
	Pipeline string `json:"pipeline,omitempty" validate:"omitempty,oneof=conversion spatial"`
}

// ConversionConfigRequest is a partial update of the conversion
// configuration. Absent fields keep their current value.
type ConversionConfigRequest struct {
	Container        *string `json:"container,omitempty"`
	VideoCodec       *string `json:"video_codec,omitempty"`
	VideoBitrateMode *string `json:"video_bitrate_mode,omitempty" validate:"omitempty,oneof=bitrate crf"`
	VideoBitrate     *string `json:"video_bitrate,omitempty"`
	AudioCodec       *string `json:"audio_codec,omitempty"`
	AudioBitrate     *string `json:"audio_bitrate,omitempty"`
	AudioChannels    *string `json:"audio_channels,omitempty" validate:"omitempty,oneof=original stereo mono"`
	Resolution       *string `json:"resolution,omitempty"`
	FPS              *string `json:"fps,omitempty"`
	CRF              *int    `json:"crf,omitempty" validate:"omitempty,min=0,max=51"`
	Quality          *int    `json:"quality,omitempty" validate:"omitempty,min=0,max=100"`
	Preset           *string `json:"preset,omitempty"`
	MLUpscale        *string `json:"ml_upscale,omitempty" validate:"omitempty,oneof=esrgan-2x esrgan-4x"`
	HWDecode         *bool   `json:"hw_decode,omitempty"`
}

// SpatialConfigRequest is a partial update of the spatial configuration.
type SpatialConfigRequest struct {
	EncoderSize   *string  `json:"encoder_size,omitempty" validate:"omitempty,oneof=s b l"`
	MaxDisparity  *int     `json:"max_disparity,omitempty" validate:"omitempty,min=0"`
	SkipDownscale *bool    `json:"skip_downscale,omitempty"`
	Duration      *float64 `json:"duration,omitempty"`
}

// EstimateResponse is the predicted output for one item under the current
// conversion configuration.
type EstimateResponse struct {
	VideoKbps int     `json:"video_kbps"`
	AudioKbps int     `json:"audio_kbps"`
	TotalKbps int     `json:"total_kbps"`
	SizeMB    float64 `json:"size_mb,omitempty"`
	SizeKnown bool    `json:"size_known"`
}

// LogsResponse carries an item's ordered processing log.
type LogsResponse struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

// StatusResponse reports whether a batch is in flight.
type StatusResponse struct {
	Processing bool `json:"processing"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func itemResponse(item *media.Item) ItemResponse {
	resp := ItemResponse{
		ID:         item.ID,
		Path:       item.Path,
		OutputName: item.OutputName,
		Status:     string(item.Status),
		Progress:   item.Progress,
		Error:      item.Error,
	}
	if item.Metadata != nil {
		resp.Resolution = item.Metadata.Resolution
		resp.Duration = item.Metadata.Duration
	}
	return resp
}
