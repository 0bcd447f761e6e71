package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/routing"
)

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	var in routing.RuleInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	rule, err := s.svc.Routing.CreateRule(r.Context(), actor.OrganizationID, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.svc.Routing.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	rules, err := s.svc.Routing.ListRules(r.Context(), actor.OrganizationID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"rules": rules})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var in routing.RuleInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	rule, err := s.svc.Routing.UpdateRule(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Routing.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleReroute re-runs the routing rules against an existing ticket.
func (s *Server) handleReroute(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Routing.Reevaluate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "rerouted"})
}

func (s *Server) handleRoutingLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.svc.Routing.Logs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"logs": logs})
}
