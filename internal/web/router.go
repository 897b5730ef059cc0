// Package web provides the HTTP router and handlers for parsing, archiving
// and browsing .msg files.
package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eslider/msgparse/internal/archive"
	"github.com/eslider/msgparse/internal/message"
	"github.com/eslider/msgparse/internal/pstsource"
	"github.com/eslider/msgparse/internal/storage"
)

// DefaultMaxUpload bounds request bodies when Config.MaxUpload is unset.
const DefaultMaxUpload = 64 << 20

// MessageParser decodes an uploaded .msg file.
type MessageParser interface {
	ParseReader(r io.Reader) (*message.Message, error)
}

// Config holds dependencies for the web layer.
type Config struct {
	Parser  MessageParser
	Archive *archive.Store
	Store   storage.ObjectStore
	Logger  *slog.Logger

	// Importer enables PST uploads; nil disables /api/import/pst.
	Importer *pstsource.Importer

	MaxUpload int64
}

// NewRouter creates the Chi router with all routes.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", handleHealth())

	// Pages.
	r.Get("/", handleIndexPage(cfg))
	r.Get("/messages/{id}", handleMessagePage(cfg))

	r.Route("/api", func(r chi.Router) {
		r.Post("/parse", handleParse(cfg))

		r.Get("/messages", handleListMessages(cfg))
		r.Post("/messages", handleUpload(cfg))
		r.Get("/messages/{id}", handleMessage(cfg))
		r.Get("/messages/{id}/eml", handleEML(cfg))
		r.Get("/messages/{id}/properties", handleProperties(cfg))
		r.Get("/messages/{id}/attachments/{n}", handleAttachment(cfg))

		// Import API (PST/OST).
		r.Post("/import/pst", handleImportPST(cfg))
		r.Get("/import/status/{id}", handleImportStatus())
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
