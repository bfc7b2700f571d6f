package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the HTTP surface: /metrics when prometheus is enabled,
// /healthz, and /admin/* when handlers is non-nil
func NewRouter(handlers *AdminHandlers, authToken string) chi.Router {
	r := chi.NewRouter()

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	if handlers == nil {
		return r
	}

	r.Get("/healthz", handlers.handleHealth)

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(authToken))
		r.Get("/environments", handlers.handleEnvironments)
		r.Get("/environments/{name}/allowlist", handlers.handleAllowlist)
	})

	return r
}

// Server serves the router until Shutdown
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on the prometheus address from cfg.Config and serves status
// in the background
func Start(status StatusProvider) (*Server, error) {
	var handlers *AdminHandlers
	if cfg.Config.Admin.Enabled && status != nil {
		handlers = NewAdminHandlers(status)
	}

	addr := net.JoinHostPort(cfg.Config.Prometheus.Address, strconv.Itoa(cfg.Config.Prometheus.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(handlers, cfg.Config.Admin.AuthToken),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", addr).Msg("Metrics server stopped")
		}
	}()

	log.Info().
		Str("address", addr).
		Bool("admin", handlers != nil).
		Msg("Metrics server listening")

	return s, nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
