// Package api provides the HTTP server and handlers. The API is the
// presentation boundary: it issues the four session commands and renders
// the session's view state, never raw storage errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/auth"
	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/display"
	"github.com/baselight/baselight/internal/events"
	"github.com/baselight/baselight/internal/logging"
	"github.com/baselight/baselight/internal/metrics"
	"github.com/baselight/baselight/internal/profile"
	"github.com/baselight/baselight/internal/session"
)

// Server is the HTTP server.
type Server struct {
	session       *session.Session
	auth          *auth.Auth
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(sess *session.Session, authHandler *auth.Auth, broadcaster *events.Broadcaster, maxUploadSize int64) *Server {
	return &Server{
		session:       sess,
		auth:          authHandler,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, metrics, and logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.auth.Enabled() {
		mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)
	}

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/state", s.handleState)
	protected.HandleFunc("POST /api/v1/profile/open", s.handleOpenProfile)
	protected.HandleFunc("POST /api/v1/profile/create", s.handleCreateProfile)
	protected.HandleFunc("POST /api/v1/profile/switch", s.handleSwitchProfile)
	protected.HandleFunc("POST /api/v1/assets", s.handleSaveAssets)
	protected.HandleFunc("GET /api/v1/assets/{name}", s.handleAssetPayload)
	protected.HandleFunc("GET /api/v1/events", s.handleEvents)

	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// stateResponse is the presentation view rendered as JSON.
type stateResponse struct {
	Profile   string       `json:"profile"`
	Assets    []assetState `json:"assets"`
	Busy      bool         `json:"busy"`
	Error     string       `json:"error,omitempty"`
	NameError string       `json:"name_error,omitempty"`
	Supported bool         `json:"supported"`
}

type assetState struct {
	Name       string `json:"name"`
	DisplayID  string `json:"display_id"`
	MIMEType   string `json:"mime_type"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleOpenProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hint string `json:"hint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.session.OpenProfile(r.Context(), req.Hint)
	s.finishCommand(w, err)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hint string `json:"hint"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.session.CreateProfile(r.Context(), req.Hint, req.Name)
	s.finishCommand(w, err)
}

func (s *Server) handleSwitchProfile(w http.ResponseWriter, r *http.Request) {
	s.session.SwitchProfile()
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleSaveAssets(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		sendError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		sendError(w, http.StatusBadRequest, "no files provided")
		return
	}

	uploads := make([]profile.FileUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			sendError(w, http.StatusBadRequest, "unreadable file part")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			sendError(w, http.StatusBadRequest, "unreadable file part")
			return
		}
		uploads = append(uploads, profile.FileUpload{
			// Browsers may send a path; keep only the base name.
			Name:    filepath.Base(fh.Filename),
			Content: data,
		})
	}

	err := s.session.SaveAssets(r.Context(), uploads)
	s.finishCommand(w, err)
}

func (s *Server) handleAssetPayload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ref := s.session.Ref(name)
	if ref == nil {
		sendError(w, http.StatusNotFound, "no such asset in current listing")
		return
	}
	payload, err := ref.Payload()
	if errors.Is(err, display.ErrRevoked) {
		sendError(w, http.StatusGone, "display reference revoked")
		return
	}
	w.Header().Set("Content-Type", ref.MIMEType())
	w.Write(payload)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := events.MarshalEvent(ev)
			if err != nil {
				logging.Error("event marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// finishCommand maps command outcomes to HTTP statuses and always responds
// with the fresh view state, so the client renders exactly what the session
// holds. Raw storage errors never reach the wire.
func (s *Server) finishCommand(w http.ResponseWriter, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
		// Includes swallowed cancellations.
	case errors.Is(err, session.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoProfile):
		status = http.StatusConflict
	case errors.Is(err, capability.ErrPlatformUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, profile.ErrInvalidName):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	s.writeState(w, status)
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	v := s.session.View()
	resp := stateResponse{
		Profile:   v.ProfileName,
		Assets:    make([]assetState, 0, len(v.Assets)),
		Busy:      v.Busy,
		Error:     v.ErrorMessage,
		NameError: v.NameError,
		Supported: v.Supported,
	}
	for _, a := range v.Assets {
		resp.Assets = append(resp.Assets, assetState{
			Name:       a.Name,
			DisplayID:  a.Ref.ID(),
			MIMEType:   a.Ref.MIMEType(),
			Generation: a.Ref.Generation(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
