package api

import (
	"net/http"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
)

type ticketIDsRequest struct {
	TicketIDs []string `json:"ticket_ids"`
}

func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	var req ticketIDsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.svc.Tickets.SoftDelete(r.Context(), req.TicketIDs); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"deleted": len(req.TicketIDs)})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req ticketIDsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.svc.Tickets.Restore(r.Context(), req.TicketIDs); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"restored": len(req.TicketIDs)})
}

func (s *Server) handleListTrash(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	q := r.URL.Query()

	tickets, total, err := s.svc.Tickets.ListTrash(r.Context(), actor.OrganizationID,
		queryInt(q.Get("limit"), 50), queryInt(q.Get("offset"), 0))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"tickets": tickets, "total": total})
}

func (s *Server) handleHardDelete(w http.ResponseWriter, r *http.Request) {
	var req ticketIDsRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.svc.Tickets.HardDelete(r.Context(), req.TicketIDs); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"purged": len(req.TicketIDs)})
}

// handlePurgeTrash runs the retention reap immediately instead of waiting
// for the hourly schedule.
func (s *Server) handlePurgeTrash(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Reaper.ReapNow(r.Context())
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]int{"purged": n})
}
