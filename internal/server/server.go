// Package server exposes the license validation API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	internalhttp "github.com/keymint/keymint/internal/http"
	"github.com/keymint/keymint/internal/license"
)

// Pinger verifies storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server handles license validation requests.
type Server struct {
	svc    *license.Service
	pinger Pinger
}

// Option configures a Server.
type Option func(*Server)

// WithPinger wires a storage connectivity check into /healthz.
func WithPinger(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// New creates a Server around a license service.
func New(svc *license.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the HTTP routing for the validation API.
func (s *Server) Handler(logger zerolog.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(internalhttp.RequestLogger(logger))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	if len(corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet},
		})
		r.Use(c.Handler)
	}

	r.Get("/check_license", s.handleCheckLicense)
	r.Get("/healthz", s.handleHealth)

	return r
}

// CheckResponse is the wire format for a validation verdict.
type CheckResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// handleCheckLicense validates an (activation key, fingerprint) pair,
// binding the key on first use.
func (s *Server) handleCheckLicense(w http.ResponseWriter, r *http.Request) {
	activationKey := r.URL.Query().Get("key")
	fingerprint := r.URL.Query().Get("fingerprint")

	if activationKey == "" || fingerprint == "" {
		zerolog.Ctx(r.Context()).Warn().Msg("Activation key or fingerprint missing in request")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, CheckResponse{Valid: false, Message: "activation key or fingerprint missing"})
		return
	}

	verdict, err := s.svc.Check(r.Context(), activationKey, fingerprint)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("License check failed")
	}

	render.Status(r, statusCode(verdict.Status))
	render.JSON(w, r, CheckResponse{Valid: verdict.Valid, Message: verdict.Message})
}

// handleHealth reports process and storage health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.pinger.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable"})
			return
		}
	}

	render.JSON(w, r, map[string]string{"status": "ok"})
}

// statusCode maps a protocol verdict to an HTTP response code.
func statusCode(status license.Status) int {
	switch status {
	case license.StatusNotFound:
		return http.StatusNotFound
	case license.StatusMismatch:
		return http.StatusForbidden
	case license.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
