package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	var in emailaccount.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	a, err := s.svc.Accounts.Create(r.Context(), actor.OrganizationID, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, a)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Accounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	accts, err := s.svc.Accounts.List(r.Context(), actor.OrganizationID)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"accounts": accts})
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var in emailaccount.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	a, err := s.svc.Accounts.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Accounts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleTestAccount opens and closes a real provider connection with the
// stored credentials.
func (s *Server) handleTestAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Accounts.TestConnection(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSetPolling(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.Accounts.SetPolling(r.Context(), chi.URLParam(r, "id"), enabled); err != nil {
			s.serviceError(w, err)
			return
		}
		httputil.OK(w, map[string]bool{"imap_enabled": enabled})
	}
}
