// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/auth"
	"github.com/fruitsalade/mediafs/internal/events"
	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/optimizer"
	"github.com/fruitsalade/mediafs/internal/protocol"
	"github.com/fruitsalade/mediafs/internal/quota"
	"github.com/fruitsalade/mediafs/internal/storage"
	"github.com/fruitsalade/mediafs/internal/vfs"
)

const maxJSONBody = 1 << 20

// Options holds the limits and defaults the handlers enforce.
type Options struct {
	DefaultPreset string
	MaxUploadSize int64
	MaxFiles      int

	// RateLimiter throttles authenticated requests per account; nil disables it.
	RateLimiter *quota.RateLimiter
}

// Server is the HTTP server.
type Server struct {
	lister      *vfs.Lister
	collector   *vfs.Collector
	mutator     *vfs.Mutator
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	presets     optimizer.Presets
	opts        Options

	// Folder selection per account.
	sessions *sessions
}

// NewServer creates a new server.
func NewServer(
	lister *vfs.Lister,
	collector *vfs.Collector,
	mutator *vfs.Mutator,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	presets optimizer.Presets,
	opts Options,
) *Server {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = vfs.DefaultMaxFiles
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = vfs.DefaultMaxUploadSize
	}
	return &Server{
		lister:      lister,
		collector:   collector,
		mutator:     mutator,
		auth:        authHandler,
		broadcaster: broadcaster,
		presets:     presets,
		opts:        opts,
		sessions:    newSessions(),
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	protected := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if s.opts.RateLimiter != nil {
			next = s.opts.RateLimiter.Middleware(auth.GetAccountID)(next)
		}
		return s.auth.Middleware(next)
	}

	// Read endpoints
	mux.Handle("GET /api/v1/media/list/{path...}", protected(s.handleList))
	mux.Handle("GET /api/v1/media/usage/{path...}", protected(s.handleUsage))
	mux.Handle("GET /api/v1/media/presets", protected(s.handlePresets))

	// Write endpoints
	mux.Handle("POST /api/v1/media/folders", protected(s.handleCreateFolder))
	mux.Handle("POST /api/v1/media/upload/{path...}", protected(s.handleUpload))
	mux.Handle("POST /api/v1/media/rename", protected(s.handleRename))
	mux.Handle("POST /api/v1/media/move", protected(s.handleMove))
	mux.Handle("POST /api/v1/media/delete", protected(s.handleDelete))

	// Selection endpoints
	mux.Handle("POST /api/v1/media/selection", protected(s.handleSelection))
	mux.Handle("POST /api/v1/media/picker", protected(s.handlePicker))

	// SSE endpoint
	mux.Handle("GET /api/v1/events", protected(s.handleEvents))

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe(auth.GetAccountID(r.Context()))
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// pathParam parses the {path...} wildcard; an empty value is the root.
func pathParam(r *http.Request) (vfs.Path, error) {
	return vfs.ParsePath(r.PathValue("path"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendFailure maps a domain error onto a status code and logs server-side
// failures.
func (s *Server) sendFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error:     http.StatusText(code),
		Code:      code,
		Details:   err.Error(),
		RequestID: logging.GetRequestID(r.Context()),
	})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, vfs.ErrInvalidName),
		errors.Is(err, vfs.ErrInvalidMove),
		errors.Is(err, vfs.ErrNotImage),
		errors.Is(err, vfs.ErrTooManyFiles):
		return http.StatusBadRequest
	case errors.Is(err, vfs.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, vfs.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vfs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
