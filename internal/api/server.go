// Package api exposes the conversation core over HTTP: the ticket surface,
// the admin provisioning endpoints, the webhook ingress, and the health and
// metrics probes. Handlers translate between JSON and the service layer;
// none of them spawn long-lived work.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/app"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/pkg/logger"
)

// Server carries the service aggregate into the handlers.
type Server struct {
	svc  *app.Services
	log  logger.Logger
	http *http.Server
}

// NewServer builds the router and binds it to the configured port.
func NewServer(svc *app.Services) *Server {
	s := &Server{svc: svc, log: svc.Log}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", svc.Config.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports liveness plus a DB round-trip.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.svc.DB.PingContext(ctx); err != nil {
		httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": err.Error(),
		})
		return
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}
