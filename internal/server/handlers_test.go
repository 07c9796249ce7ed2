package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/framefold/framefold/internal/media"
	"github.com/framefold/framefold/internal/orchestrator"
	"github.com/framefold/framefold/internal/probe"
)

// mockBackend implements orchestrator.Backend for handler tests.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Submit(ctx context.Context, task orchestrator.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *mockBackend) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	handler http.Handler
	orch    *orchestrator.Orchestrator
	backend *mockBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := &mockBackend{}
	orch := orchestrator.New(backend, orchestrator.WithLogger(testLogger()))
	handlers := NewHandlers(orch, probe.NewFFprobe(""), testLogger())
	return &fixture{
		handler: NewRouter(handlers, testLogger(), DefaultConfig()),
		orch:    orch,
		backend: backend,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeItem(t *testing.T, rec *httptest.ResponseRecorder) ItemResponse {
	t.Helper()
	var resp ItemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// addItem bypasses the probe by registering the file directly on the
// orchestrator with canned metadata.
func (f *fixture) addItem(path string) string {
	item := f.orch.AddFile(path, &media.SourceMetadata{
		Duration:   "120.0",
		Resolution: "1920x1080",
		Width:      1920,
		Height:     1080,
		VideoCodec: "h264",
	})
	return item.ID
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAddFile_InvalidBody(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestAddFile_MissingPath(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/files", AddFileRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestListFiles(t *testing.T) {
	f := newFixture(t)
	f.addItem("/videos/a.mp4")
	f.addItem("/videos/b.mp4")

	rec := f.do(t, http.MethodGet, "/files", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []ItemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "/videos/a.mp4", resp[0].Path)
	assert.Equal(t, "1920x1080", resp[0].Resolution)
	assert.Equal(t, string(media.StatusIdle), resp[0].Status)
}

func TestGetFile_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/files/ghost", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE_NOT_FOUND")
}

func TestSelectDeselect(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	rec := f.do(t, http.MethodPost, "/files/"+id+"/select", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(media.StatusSelected), decodeItem(t, rec).Status)

	rec = f.do(t, http.MethodPost, "/files/"+id+"/deselect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(media.StatusIdle), decodeItem(t, rec).Status)
}

func TestSelect_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	// Deselecting an idle item is not a valid transition.
	rec := f.do(t, http.MethodPost, "/files/"+id+"/deselect", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TRANSITION")
}

func TestEditFile(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	rotation := 90
	flipH := true
	start := "00:00:05"
	rec := f.do(t, http.MethodPut, "/files/"+id+"/edit", EditRequest{
		Crop:           &CropRect{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
		Rotation:       &rotation,
		FlipHorizontal: &flipH,
		TrimStart:      &start,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	item, err := f.orch.Item(id)
	require.NoError(t, err)
	assert.Equal(t, 90, item.Rotation)
	assert.True(t, item.FlipHorizontal)
	assert.False(t, item.FlipVertical)
	assert.Equal(t, "00:00:05", item.TrimStart)
	assert.InDelta(t, 0.25, item.Crop.X, 0.001)
	assert.InDelta(t, 0.5, item.Crop.Width, 0.001)
}

func TestEditFile_InvalidRotation(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	rotation := 45
	rec := f.do(t, http.MethodPut, "/files/"+id+"/edit", EditRequest{Rotation: &rotation})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestStartBatch(t *testing.T) {
	f := newFixture(t)
	f.backend.On("Submit", mock.Anything, mock.Anything).Return(nil)

	id := f.addItem("/videos/a.mp4")
	require.NoError(t, f.orch.Select(id))

	rec := f.do(t, http.MethodPost, "/batch", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Processing)

	item, err := f.orch.Item(id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusQueued, item.Status)
}

func TestQueueFile(t *testing.T) {
	f := newFixture(t)
	f.backend.On("Submit", mock.Anything, mock.Anything).Return(nil)

	id := f.addItem("/videos/a.mp4")

	rec := f.do(t, http.MethodPost, "/files/"+id+"/queue", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, string(media.StatusQueued), decodeItem(t, rec).Status)

	// A second queue attempt on an already-active item conflicts.
	rec = f.do(t, http.MethodPost, "/files/"+id+"/queue", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	f.backend.On("Cancel", mock.Anything, mock.Anything).Return(nil)

	id := f.addItem("/videos/a.mp4")
	rec := f.do(t, http.MethodDelete, "/files/"+id+"/task", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.backend.AssertCalled(t, "Cancel", mock.Anything, id)
}

func TestGetLogs(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	f.orch.HandleEvent(orchestrator.Event{ID: id, Kind: orchestrator.EventLog, Line: "frame=10"})

	rec := f.do(t, http.MethodGet, "/files/"+id+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LogsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"frame=10"}, resp.Lines)
}

func TestGetEstimate(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/videos/a.mp4")

	rec := f.do(t, http.MethodGet, "/files/"+id+"/estimate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EstimateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.SizeKnown)
	assert.Positive(t, resp.VideoKbps)
	assert.Positive(t, resp.SizeMB)
}

func TestUpdateConversionConfig(t *testing.T) {
	f := newFixture(t)

	crf := 18
	container := "mkv"
	rec := f.do(t, http.MethodPut, "/config/conversion", ConversionConfigRequest{
		CRF:       &crf,
		Container: &container,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := f.orch.ConversionConfig()
	assert.Equal(t, 18, cfg.CRF)
	assert.Equal(t, "mkv", cfg.Container)
	// Untouched fields keep their defaults.
	assert.Equal(t, "libx264", cfg.VideoCodec)
}

func TestUpdateConversionConfig_Invalid(t *testing.T) {
	f := newFixture(t)

	crf := 99
	rec := f.do(t, http.MethodPut, "/config/conversion", ConversionConfigRequest{CRF: &crf})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 23, f.orch.ConversionConfig().CRF)
}

func TestUpdateSpatialConfig(t *testing.T) {
	f := newFixture(t)

	encoder := "l"
	disparity := 45
	rec := f.do(t, http.MethodPut, "/config/spatial", SpatialConfigRequest{
		EncoderSize:  &encoder,
		MaxDisparity: &disparity,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := f.orch.SpatialConfig()
	assert.Equal(t, "l", cfg.EncoderSize)
	assert.Equal(t, 45, cfg.MaxDisparity)
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Processing)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/files", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

// pausableMock adds suspend/resume support to the mock backend.
type pausableMock struct {
	mockBackend
}

func (m *pausableMock) Pause(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *pausableMock) Resume(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func TestPauseAndResumeTask(t *testing.T) {
	backend := &pausableMock{}
	backend.On("Submit", mock.Anything, mock.Anything).Return(nil)
	backend.On("Pause", mock.Anything).Return(nil)
	backend.On("Resume", mock.Anything).Return(nil)

	orch := orchestrator.New(backend, orchestrator.WithLogger(testLogger()))
	handlers := NewHandlers(orch, probe.NewFFprobe(""), testLogger())
	f := &fixture{handler: NewRouter(handlers, testLogger(), DefaultConfig()), orch: orch}

	id := f.addItem("/tmp/movie.mkv")
	rec := f.do(t, http.MethodPost, "/files/"+id+"/queue", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/files/"+id+"/pause", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	backend.AssertCalled(t, "Pause", id)

	rec = f.do(t, http.MethodPost, "/files/"+id+"/resume", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	backend.AssertCalled(t, "Resume", id)
}

func TestPauseTask_UnsupportedBackendIsConflict(t *testing.T) {
	f := newFixture(t)
	id := f.addItem("/tmp/movie.mkv")

	rec := f.do(t, http.MethodPost, "/files/"+id+"/pause", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "PAUSE_FAILED", resp.Code)
}

func TestPauseTask_UnknownFile(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/files/nope/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateConversionConfig_UpscaleMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/config/conversion", map[string]any{
		"ml_upscale": "esrgan-2x",
		"hw_decode":  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := f.orch.ConversionConfig()
	assert.Equal(t, "esrgan-2x", cfg.MLUpscale)
	assert.True(t, cfg.HWDecode)

	rec = f.do(t, http.MethodPut, "/config/conversion", map[string]any{
		"ml_upscale": "waifu2x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "esrgan-2x", f.orch.ConversionConfig().MLUpscale)
}
