package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaydesk/helpdesk-core/internal/auth"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

type createTicketRequest struct {
	Context  string  `json:"context"`
	Subject  string  `json:"subject"`
	Message  string  `json:"message"`
	Priority *string `json:"priority"`
}

// handleCreateTicket creates or continues a conversation for the caller.
// An open ticket with the same context and normalized subject absorbs the
// message as a reply instead of opening a duplicate.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	var req createTicketRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	in := ticket.IngestInput{
		Channel:        domain.SourceWeb,
		Context:        req.Context,
		Subject:        req.Subject,
		Body:           req.Message,
		OrganizationID: actor.OrganizationID,
	}
	if actor.UserID != "" {
		uid := actor.UserID
		in.UserID = &uid
	}
	if req.Priority != nil {
		p := domain.TicketPriority(*req.Priority)
		in.Priority = &p
	}

	t, msg, trig, err := s.svc.Tickets.IngestCustomerMessage(r.Context(), in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.fireTrigger(trig)

	httputil.Created(w, map[string]any{"ticket": t, "message": msg})
}

type replyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCustomerReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	t, err := s.svc.Tickets.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if !s.canAccess(actor, t) {
		httputil.Forbidden(w, "not your ticket")
		return
	}

	var req replyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	msg, trig, err := s.svc.Tickets.AppendCustomerReply(r.Context(), id, req.Message)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.fireTrigger(trig)

	httputil.Created(w, msg)
}

func (s *Server) handleAdminReply(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	var req replyRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	msg, err := s.svc.Tickets.AppendAdminReply(r.Context(), id, actor.UserID, req.Message)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.Created(w, msg)
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	t, err := s.svc.Tickets.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if !s.canAccess(actor, t) {
		httputil.Forbidden(w, "not your ticket")
		return
	}

	if err := s.svc.Tickets.Escalate(r.Context(), id); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.TicketHumanAssigned)})
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req priorityRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.svc.Tickets.UpdatePriority(r.Context(), id, domain.TicketPriority(req.Priority)); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"priority": req.Priority})
}

type assignRequest struct {
	AdminEmail string `json:"admin_email"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req assignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := s.svc.Tickets.AssignToAdmin(r.Context(), id, req.AdminEmail); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"assigned_to": req.AdminEmail})
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	if err := s.svc.Tickets.CloseTicket(r.Context(), id, actor.UserID); err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(domain.TicketClosed)})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := auth.ActorFrom(r.Context())

	t, msgs, err := s.svc.Tickets.GetThread(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if !s.canAccess(actor, t) {
		httputil.Forbidden(w, "not your ticket")
		return
	}
	httputil.OK(w, map[string]any{"ticket": t, "messages": msgs})
}

// handleListTickets lists the caller's tickets; admins see every ticket
// and may filter by status, priority, and assignee.
func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	q := r.URL.Query()

	f := ticket.ListFilter{
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if actor.IsAdmin() {
		f.Status = q.Get("status")
		f.Priority = q.Get("priority")
		f.AssignedTo = q.Get("assigned_to")
		f.OrganizationID = actor.OrganizationID
	} else {
		uid := actor.UserID
		f.UserID = &uid
	}

	tickets, total, err := s.svc.Tickets.List(r.Context(), f)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"tickets": tickets, "total": total})
}

func (s *Server) handleSlaStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.svc.Tickets.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	status, err := s.svc.Slas.Status(r.Context(), t)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, status)
}

// canAccess allows admins everywhere and owners on their own tickets.
func (s *Server) canAccess(actor *domain.Actor, t *domain.Ticket) bool {
	if actor == nil {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	return t.UserID != nil && *t.UserID == actor.UserID
}

// fireTrigger hands an AI trigger to the coordinator when one is running.
func (s *Server) fireTrigger(trig *domain.AiTrigger) {
	if trig == nil || s.svc.AI == nil {
		return
	}
	s.svc.AI.Trigger(*trig)
}

func queryInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
