package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /status", h.GetStatus)

	mux.HandleFunc("POST /files", h.AddFile)
	mux.HandleFunc("GET /files", h.ListFiles)
	mux.HandleFunc("GET /files/{id}", h.GetFile)
	mux.HandleFunc("POST /files/{id}/select", h.SelectFile)
	mux.HandleFunc("POST /files/{id}/deselect", h.DeselectFile)
	mux.HandleFunc("PUT /files/{id}/edit", h.EditFile)
	mux.HandleFunc("POST /files/{id}/queue", h.QueueFile)
	mux.HandleFunc("POST /files/{id}/pause", h.PauseTask)
	mux.HandleFunc("POST /files/{id}/resume", h.ResumeTask)
	mux.HandleFunc("DELETE /files/{id}/task", h.CancelTask)
	mux.HandleFunc("GET /files/{id}/logs", h.GetLogs)
	mux.HandleFunc("GET /files/{id}/estimate", h.GetEstimate)

	mux.HandleFunc("POST /batch", h.StartBatch)

	mux.HandleFunc("GET /config/conversion", h.GetConversionConfig)
	mux.HandleFunc("PUT /config/conversion", h.UpdateConversionConfig)
	mux.HandleFunc("PUT /config/spatial", h.UpdateSpatialConfig)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
