package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/service/outbound"
)

// handleSendEmail sends one outbound email on a ticket's thread.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	ticketID := chi.URLParam(r, "id")

	var in outbound.SendInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	if in.AdminName == "" {
		in.AdminName = actor.Email
	}

	msg, err := s.svc.Outbound.SendFromTicket(r.Context(), ticketID, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, msg)
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := s.svc.Outbound.EmailsForTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"emails": emails})
}

// handleListFiltered lists filter-dropped inbound mail. Only populated
// when EMAIL_LOG_FILTERED records the rows.
func (s *Server) handleListFiltered(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var accountID *string
	if v := q.Get("account_id"); v != "" {
		accountID = &v
	}
	emails, err := s.svc.Emails.ListFiltered(r.Context(), accountID,
		queryInt(q.Get("limit"), 50), queryInt(q.Get("offset"), 0))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"emails": emails})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	var in outbound.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	tpl, err := s.svc.Outbound.CreateTemplate(r.Context(), actor.OrganizationID, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.svc.Outbound.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	tpls, err := s.svc.Outbound.ListTemplates(r.Context(), actor.OrganizationID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"templates": tpls})
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in outbound.TemplateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	tpl, err := s.svc.Outbound.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Outbound.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.NoContent(w)
}
