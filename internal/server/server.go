// Package server exposes claim sessions over HTTP.
//
// Endpoints:
//
//	GET    /api/health                  health check
//	POST   /api/claims                  create a claim session
//	GET    /api/claims/{id}             current claim state
//	POST   /api/claims/{id}/image       select a photo (multipart "file" or raw body)
//	GET    /api/claims/{id}/image       raw photo bytes
//	POST   /api/claims/{id}/analyze     start the damage analysis (202)
//	POST   /api/claims/{id}/reset       discard the claim
//	DELETE /api/claims/{id}             delete the session
//
// State responses carry the photo as a data URI unless ?includeImage=false.
package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/fpang/vehicle-claim-estimator/internal/claim"
	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/session"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

// DefaultMaxUploadBytes caps a photo upload when Options leaves it unset.
const DefaultMaxUploadBytes = 20 << 20

// Sessions is the subset of the session manager the handlers use.
type Sessions interface {
	Create(ctx context.Context) (string, claim.State, error)
	Get(ctx context.Context, id string) (claim.State, error)
	SelectImage(ctx context.Context, id, filename string, r io.Reader) (claim.State, error)
	StartAnalysis(ctx context.Context, id string) (claim.State, error)
	Analyze(ctx context.Context, id string) (claim.State, error)
	Reset(ctx context.Context, id string) (claim.State, error)
	Image(ctx context.Context, id string) (*filehandler.Payload, error)
	Delete(ctx context.Context, id string) error
}

var _ Sessions = (*session.Manager)(nil)

// Options configures the HTTP surface.
type Options struct {
	// Service is reported by the health check.
	Service string
	Version string

	// AllowedOrigins lists extra CORS origins; localhost is always allowed.
	AllowedOrigins []string

	// OriginSecret, when set, must arrive in the x-origin-verify header.
	OriginSecret string

	MaxUploadBytes int64

	// SyncAnalysis makes analyze wait for the outcome instead of returning
	// 202, for hosts that suspend work after the response (Lambda).
	SyncAnalysis bool
}

// Server serves the claim API.
type Server struct {
	sessions Sessions
	opts     Options
}

// New creates a Server backed by sessions.
func New(sessions Sessions, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Service == "" {
		opts.Service = "vehicle-claim-estimator"
	}
	return &Server{sessions: sessions, opts: opts}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/claims", s.handleCreate)
	mux.HandleFunc("GET /api/claims/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/claims/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/claims/{id}/image", s.handleSelectImage)
	mux.HandleFunc("GET /api/claims/{id}/image", s.handleImage)
	mux.HandleFunc("POST /api/claims/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/claims/{id}/reset", s.handleReset)

	var h http.Handler = mux
	h = withOriginVerify(s.opts.OriginSecret, h)
	h = withCORS(s.opts.AllowedOrigins, h)
	h = withMetrics(h)
	h = withLogging(h)
	return gzhttp.GzipHandler(h)
}

// stateResponse is the body returned by every state-changing endpoint.
type stateResponse struct {
	SessionID string     `json:"sessionId"`
	State     claim.View `json:"state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.opts.Service,
		"version": s.opts.Version,
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, st, err := s.sessions.Create(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create claim", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, stateResponse{SessionID: id, State: st.View(includeImage(r))})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		sessionError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, stateResponse{SessionID: id, State: st.View(includeImage(r))})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		sessionError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSelectImage accepts either a multipart form with a "file" part or
// the raw image as the request body. A photo that cannot be decoded is not
// an HTTP error: the claim moves to the error state and that is returned.
func (s *Server) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)

	filename, body, err := uploadBody(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.sessions.SelectImage(r.Context(), id, filename, body)
	if err != nil {
		sessionError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, stateResponse{SessionID: id, State: st.View(includeImage(r))})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.sessions.Image(r.Context(), id)
	if err != nil {
		sessionError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", p.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(p.Data); err != nil {
		log.Debug().Err(err).Str("claim", id).Msg("Client went away while sending claim image")
	}
}

// handleAnalyze starts the analysis in the background. The response is the
// analyzing snapshot; clients poll GET /api/claims/{id} for the outcome.
// Without a photo, or with one already running, the unchanged state comes
// back with 200. With SyncAnalysis the outcome itself is returned.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.opts.SyncAnalysis {
		st, err := s.sessions.Analyze(r.Context(), id)
		if err != nil {
			sessionError(w, id, err)
			return
		}
		respondJSON(w, http.StatusOK, stateResponse{SessionID: id, State: st.View(includeImage(r))})
		return
	}

	before, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		sessionError(w, id, err)
		return
	}
	st, err := s.sessions.StartAnalysis(r.Context(), id)
	if err != nil {
		sessionError(w, id, err)
		return
	}

	status := http.StatusOK
	if before.Status != claim.StatusAnalyzing && st.Status == claim.StatusAnalyzing {
		status = http.StatusAccepted
	}
	respondJSON(w, status, stateResponse{SessionID: id, State: st.View(includeImage(r))})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.sessions.Reset(r.Context(), id)
	if err != nil {
		sessionError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, stateResponse{SessionID: id, State: st.View(includeImage(r))})
}

func includeImage(r *http.Request) bool {
	v := r.URL.Query().Get("includeImage")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// uploadBody returns the filename and content of an uploaded photo.
func uploadBody(r *http.Request) (string, io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := filepath.Base(r.URL.Query().Get("filename"))
		if name == "." || name == "/" {
			name = ""
		}
		return name, r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, errors.New("malformed multipart upload")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return "", nil, errors.New(`multipart upload has no "file" part`)
		}
		if err != nil {
			return "", nil, errors.New("malformed multipart upload")
		}
		if part.FormName() == "file" {
			return filepath.Base(part.FileName()), part, nil
		}
		part.Close()
	}
}

func sessionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidID):
		httpError(w, http.StatusBadRequest, "invalid claim id")
	case errors.Is(err, session.ErrNotFound):
		httpError(w, http.StatusNotFound, "claim not found")
	default:
		httpError(w, http.StatusInternalServerError, "internal error", "claim="+id, err.Error())
	}
}
