package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/framefold/framefold/internal/geometry"
	"github.com/framefold/framefold/internal/media"
	"github.com/framefold/framefold/internal/orchestrator"
	"github.com/framefold/framefold/internal/probe"
)

// Handlers contains the HTTP handlers for the control surface.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	prober    *probe.FFprobe
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *orchestrator.Orchestrator, prober *probe.FFprobe, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orch:      orch,
		prober:    prober,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// AddFile handles POST /files requests: probe the source and register it.
func (h *Handlers) AddFile(w http.ResponseWriter, r *http.Request) {
	var req AddFileRequest
	if !h.decode(w, r, &req) {
		return
	}

	meta, err := h.prober.Inspect(r.Context(), req.Path)
	if err != nil {
		// A failed probe degrades estimates but does not block the file.
		h.logger.Warn("probe failed",
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
	}

	item := h.orch.AddFile(req.Path, meta)
	if req.OutputName != "" {
		if err := h.orch.SetOutputName(item.ID, req.OutputName); err == nil {
			item.OutputName = req.OutputName
		}
	}

	h.logger.Info("file added",
		slog.String("id", item.ID),
		slog.String("path", req.Path),
	)
	writeJSON(w, http.StatusCreated, itemResponse(item))
}

// ListFiles handles GET /files requests.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	items := h.orch.Items()
	resp := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, itemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFile handles GET /files/{id} requests.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, itemResponse(item))
}

// SelectFile handles POST /files/{id}/select requests.
func (h *Handlers) SelectFile(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Select)
}

// DeselectFile handles POST /files/{id}/deselect requests.
func (h *Handlers) DeselectFile(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Deselect)
}

// EditFile handles PUT /files/{id}/edit requests.
func (h *Handlers) EditFile(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}

	var req EditRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Crop != nil {
		rect := geometry.Rect{
			X:      req.Crop.X,
			Y:      req.Crop.Y,
			Width:  req.Crop.Width,
			Height: req.Crop.Height,
		}
		if err := h.orch.SetCrop(item.ID, rect); err != nil {
			h.writeOrchestratorError(w, err)
			return
		}
	}

	if req.Rotation != nil || req.FlipHorizontal != nil || req.FlipVertical != nil {
		rotation := item.Rotation
		flipH := item.FlipHorizontal
		flipV := item.FlipVertical
		if req.Rotation != nil {
			rotation = *req.Rotation
		}
		if req.FlipHorizontal != nil {
			flipH = *req.FlipHorizontal
		}
		if req.FlipVertical != nil {
			flipV = *req.FlipVertical
		}
		if err := h.orch.SetOrientation(item.ID, rotation, flipH, flipV); err != nil {
			h.writeOrchestratorError(w, err)
			return
		}
	}

	if req.TrimStart != nil || req.TrimEnd != nil {
		start := item.TrimStart
		end := item.TrimEnd
		if req.TrimStart != nil {
			start = *req.TrimStart
		}
		if req.TrimEnd != nil {
			end = *req.TrimEnd
		}
		if err := h.orch.SetTrim(item.ID, start, end); err != nil {
			h.writeOrchestratorError(w, err)
			return
		}
	}

	updated, err := h.orch.Item(item.ID)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse(updated))
}

// StartBatch handles POST /batch requests.
func (h *Handlers) StartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}

	var err error
	if req.Pipeline == string(orchestrator.PipelineSpatial) {
		err = h.orch.StartSpatial(r.Context())
	} else {
		err = h.orch.StartConversion(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to start batch",
			slog.String("pipeline", req.Pipeline),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error(), "BATCH_START_FAILED")
		return
	}

	writeJSON(w, http.StatusAccepted, StatusResponse{Processing: h.orch.Processing()})
}

// QueueFile handles POST /files/{id}/queue requests.
func (h *Handlers) QueueFile(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}

	var req BatchRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}

	pipeline := orchestrator.PipelineConversion
	if req.Pipeline == string(orchestrator.PipelineSpatial) {
		pipeline = orchestrator.PipelineSpatial
	}

	if err := h.orch.QueueForFile(r.Context(), item.ID, pipeline); err != nil {
		writeError(w, http.StatusConflict, err.Error(), "QUEUE_FAILED")
		return
	}

	updated, err := h.orch.Item(item.ID)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, itemResponse(updated))
}

// CancelTask handles DELETE /files/{id}/task requests. Cancellation is best
// effort; the response only acknowledges the attempt.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	h.orch.CancelTask(r.Context(), item.ID)
	w.WriteHeader(http.StatusAccepted)
}

// PauseTask handles POST /files/{id}/pause requests. The task's process is
// suspended in place; the item keeps its status and progress.
func (h *Handlers) PauseTask(w http.ResponseWriter, r *http.Request) {
	h.controlTask(w, r, h.orch.PauseTask, "PAUSE_FAILED")
}

// ResumeTask handles POST /files/{id}/resume requests.
func (h *Handlers) ResumeTask(w http.ResponseWriter, r *http.Request) {
	h.controlTask(w, r, h.orch.ResumeTask, "RESUME_FAILED")
}

func (h *Handlers) controlTask(w http.ResponseWriter, r *http.Request, op func(string) error, code string) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	if err := op(item.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetLogs handles GET /files/{id}/logs requests.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{
		ID:    item.ID,
		Lines: h.orch.Logs(item.ID),
	})
}

// GetEstimate handles GET /files/{id}/estimate requests.
func (h *Handlers) GetEstimate(w http.ResponseWriter, r *http.Request) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	est, err := h.orch.EstimateFor(item.ID)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{
		VideoKbps: est.VideoKbps,
		AudioKbps: est.AudioKbps,
		TotalKbps: est.TotalKbps,
		SizeMB:    est.SizeMB,
		SizeKnown: est.SizeKnown,
	})
}

// GetConversionConfig handles GET /config/conversion requests.
func (h *Handlers) GetConversionConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.ConversionConfig())
}

// UpdateConversionConfig handles PUT /config/conversion requests.
func (h *Handlers) UpdateConversionConfig(w http.ResponseWriter, r *http.Request) {
	var req ConversionConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.orch.UpdateConversionConfig(func(c *media.ConversionConfig) {
		applyString(&c.Container, req.Container)
		applyString(&c.VideoCodec, req.VideoCodec)
		applyString(&c.VideoBitrateMode, req.VideoBitrateMode)
		applyString(&c.VideoBitrate, req.VideoBitrate)
		applyString(&c.AudioCodec, req.AudioCodec)
		applyString(&c.AudioBitrate, req.AudioBitrate)
		applyString(&c.AudioChannels, req.AudioChannels)
		applyString(&c.Resolution, req.Resolution)
		applyString(&c.FPS, req.FPS)
		applyString(&c.Preset, req.Preset)
		if req.CRF != nil {
			c.CRF = *req.CRF
		}
		if req.Quality != nil {
			c.Quality = *req.Quality
		}
		applyString(&c.MLUpscale, req.MLUpscale)
		if req.HWDecode != nil {
			c.HWDecode = *req.HWDecode
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
		return
	}
	writeJSON(w, http.StatusOK, h.orch.ConversionConfig())
}

// UpdateSpatialConfig handles PUT /config/spatial requests.
func (h *Handlers) UpdateSpatialConfig(w http.ResponseWriter, r *http.Request) {
	var req SpatialConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.orch.UpdateSpatialConfig(func(c *media.SpatialConfig) {
		applyString(&c.EncoderSize, req.EncoderSize)
		if req.MaxDisparity != nil {
			c.MaxDisparity = *req.MaxDisparity
		}
		if req.SkipDownscale != nil {
			c.SkipDownscale = *req.SkipDownscale
		}
		if req.Duration != nil {
			c.Duration = req.Duration
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_CONFIG")
		return
	}
	writeJSON(w, http.StatusOK, h.orch.SpatialConfig())
}

// GetStatus handles GET /status requests.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Processing: h.orch.Processing()})
}

// decode reads and validates a JSON request body, writing the error
// response itself on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// item resolves the {id} path value to a snapshot, writing the error
// response itself on failure.
func (h *Handlers) item(w http.ResponseWriter, r *http.Request) (*media.Item, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file ID is required", "MISSING_FILE_ID")
		return nil, false
	}
	item, err := h.orch.Item(id)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return nil, false
	}
	return item, true
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(string) error) {
	item, ok := h.item(w, r)
	if !ok {
		return
	}
	if err := op(item.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
		return
	}
	updated, err := h.orch.Item(item.ID)
	if err != nil {
		h.writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse(updated))
}

func (h *Handlers) writeOrchestratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, media.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
		return
	}
	h.logger.Error("request failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
