package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/service/sla"
)

func (s *Server) handleCreateSla(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	var in sla.DefinitionInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	def, err := s.svc.Slas.CreateDefinition(r.Context(), actor.OrganizationID, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, def)
}

func (s *Server) handleGetSla(w http.ResponseWriter, r *http.Request) {
	def, err := s.svc.Slas.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, def)
}

func (s *Server) handleListSlas(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	defs, err := s.svc.Slas.ListDefinitions(r.Context(), actor.OrganizationID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"slas": defs})
}

func (s *Server) handleUpdateSla(w http.ResponseWriter, r *http.Request) {
	var in sla.DefinitionInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	def, err := s.svc.Slas.UpdateDefinition(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, def)
}

func (s *Server) handleDeleteSla(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Slas.DeleteDefinition(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleSlaViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := s.svc.Slas.Violations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"violations": violations})
}
