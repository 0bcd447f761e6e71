package ticket

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/blob"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/lockmap"
)

// Router re-evaluates routing rules for a freshly created ticket. Wired in
// after construction because the rule engine's actions call back into this
// service.
type Router interface {
	RouteNewTicket(ctx context.Context, t *domain.Ticket, firstBody string)
}

// SlaSource resolves the active SLA policy for a priority. A nil policy
// with nil error means no policy is configured.
type SlaSource interface {
	ActiveForPriority(ctx context.Context, orgID *string, p domain.TicketPriority) (*domain.SlaDefinition, error)
}

// SlaHooks receives lifecycle notifications the SLA tracker cares about.
// Both calls are best-effort; a failed hook never fails the mutation.
type SlaHooks interface {
	AdminResponded(ctx context.Context, t *domain.Ticket)
	TicketClosed(ctx context.Context, t *domain.Ticket)
}

// Service is the ticket state manager. All ticket mutations and message
// appends go through it; a per-ticket keyed mutex serializes them.
type Service struct {
	repo    Repository
	locks   *lockmap.KeyedMutex
	clock   clock.Clock
	metrics metrics.Metrics

	router   Router
	slas     SlaSource
	slaHooks SlaHooks
	blobs    blob.Store
}

// NewService creates a ticket service backed by the given repository.
func NewService(repo Repository, clk clock.Clock, m metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{
		repo:    repo,
		locks:   lockmap.New(),
		clock:   clk,
		metrics: m,
	}
}

// SetRouter wires the routing engine in after construction.
func (s *Service) SetRouter(r Router) { s.router = r }

// SetSlaSource wires the SLA policy lookup in after construction.
func (s *Service) SetSlaSource(src SlaSource) { s.slas = src }

// SetSlaHooks wires the SLA tracker notifications in after construction.
func (s *Service) SetSlaHooks(h SlaHooks) { s.slaHooks = h }

// IngestInput carries one inbound customer message.
type IngestInput struct {
	Channel        domain.TicketSource
	UserID         *string
	OrganizationID *string
	Context        string
	Subject        string
	Body           string
	Priority       *domain.TicketPriority

	// SuppressAI blocks the AI trigger regardless of eligibility. Set for
	// auto-submitted inbound mail to avoid responder loops.
	SuppressAI bool
}

func (in IngestInput) validate() error {
	if in.Context == "" {
		return fmt.Errorf("%w: context is required", ErrValidation)
	}
	if in.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if in.Body == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !domain.ValidSource(in.Channel) {
		return fmt.Errorf("%w: unknown channel %q", ErrValidation, in.Channel)
	}
	if in.Priority != nil && !domain.ValidPriority(*in.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *in.Priority)
	}
	return nil
}

// IngestCustomerMessage locates an open continuation for (context, subject,
// user) or creates a new ticket, appends the customer message, runs routing
// on new tickets, and reports whether the AI coordinator should reply.
func (s *Service) IngestCustomerMessage(ctx context.Context, in IngestInput) (*domain.Ticket, *domain.Message, *domain.AiTrigger, error) {
	if err := in.validate(); err != nil {
		return nil, nil, nil, err
	}

	subjectKey := mail.NormalizeSubject(in.Subject)

	// The ingest key serializes find-or-create for one continuation triple
	// so two racing ingests cannot both create a ticket.
	ingestKey := "ingest:" + in.Context + "\x00" + subjectKey
	if in.UserID != nil {
		ingestKey += "\x00" + *in.UserID
	}
	s.locks.Lock(ingestKey)

	t, err := s.repo.FindContinuation(ctx, in.Context, subjectKey, in.UserID)
	created := false
	switch {
	case err == nil:
		// continuation
	case err == ErrNotFound:
		t, err = s.createTicket(ctx, in)
		if err != nil {
			s.locks.Unlock(ingestKey)
			return nil, nil, nil, err
		}
		created = true
	default:
		s.locks.Unlock(ingestKey)
		return nil, nil, nil, err
	}

	msg, err := s.appendLocked(ctx, t.ID, domain.SenderCustomer, in.Body, nil, nil)
	s.locks.Unlock(ingestKey)
	if err != nil {
		return t, nil, nil, err
	}

	if created {
		s.metrics.TicketCreated(string(in.Channel))
		if s.router != nil {
			s.router.RouteNewTicket(ctx, t, in.Body)
		}
		// Routing may have assigned or reprioritized; re-read before
		// deciding on the AI trigger.
		if fresh, err := s.repo.GetTicket(ctx, t.ID); err == nil {
			t = fresh
		}
	}

	var trigger *domain.AiTrigger
	if !in.SuppressAI && in.Channel.AllowsAutoReply() && t.EligibleForAutoReply() {
		trigger = &domain.AiTrigger{
			TicketID:  t.ID,
			MessageID: msg.ID,
			Context:   t.Context,
			Subject:   t.Subject,
		}
	}
	return t, msg, trigger, nil
}

func (s *Service) createTicket(ctx context.Context, in IngestInput) (*domain.Ticket, error) {
	now := s.clock.Now()
	priority := domain.PriorityMedium
	if in.Priority != nil {
		priority = *in.Priority
	}

	t := &domain.Ticket{
		ID:             uuid.New().String(),
		OrganizationID: in.OrganizationID,
		UserID:         in.UserID,
		Context:        in.Context,
		Subject:        in.Subject,
		Status:         domain.TicketOpen,
		Priority:       priority,
		Source:         in.Channel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.linkSla(ctx, t)

	if err := s.repo.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	log.Printf("[TicketService] Created ticket %s (context=%s, source=%s)", t.ID, t.Context, t.Source)
	return t, nil
}

// linkSla attaches the active SLA policy matching the ticket's priority.
func (s *Service) linkSla(ctx context.Context, t *domain.Ticket) {
	if s.slas == nil {
		return
	}
	def, err := s.slas.ActiveForPriority(ctx, t.OrganizationID, t.Priority)
	if err != nil {
		log.Printf("[TicketService] SLA lookup for ticket %s: %v", t.ID, err)
		return
	}
	if def != nil {
		t.SlaID = &def.ID
	}
}

// AppendCustomerReply adds a customer message to an existing ticket and
// reports whether the AI coordinator should reply.
func (s *Service) AppendCustomerReply(ctx context.Context, ticketID, body string) (*domain.Message, *domain.AiTrigger, error) {
	if body == "" {
		return nil, nil, fmt.Errorf("%w: message is required", ErrValidation)
	}

	s.locks.Lock(ticketID)
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		s.locks.Unlock(ticketID)
		return nil, nil, err
	}
	if !t.IsOpen() {
		s.locks.Unlock(ticketID)
		return nil, nil, fmt.Errorf("reply to %s ticket: %w", t.Status, ErrInvalidTransition)
	}
	msg, err := s.appendLocked(ctx, ticketID, domain.SenderCustomer, body, nil, nil)
	s.locks.Unlock(ticketID)
	if err != nil {
		return nil, nil, err
	}

	var trigger *domain.AiTrigger
	if t.Source.AllowsAutoReply() && t.EligibleForAutoReply() {
		trigger = &domain.AiTrigger{TicketID: t.ID, MessageID: msg.ID, Context: t.Context, Subject: t.Subject}
	}
	return msg, trigger, nil
}

// AppendAiReply commits a generated reply. It re-checks eligibility under
// the ticket lock: a ticket that was assigned or closed while generation
// ran rejects the commit with ErrInvalidTransition and stores nothing.
func (s *Service) AppendAiReply(ctx context.Context, ticketID, text string, confidence float64, success bool) (*domain.Message, error) {
	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !t.EligibleForAutoReply() {
		return nil, fmt.Errorf("ai reply on %s ticket: %w", t.Status, ErrInvalidTransition)
	}
	return s.appendLocked(ctx, ticketID, domain.SenderAI, text, &confidence, &success)
}

// AppendAdminReply adds an agent response, stamping first/last response
// times for the SLA tracker.
func (s *Service) AppendAdminReply(ctx context.Context, ticketID, adminID, text string) (*domain.Message, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}

	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted {
		return nil, ErrDeleted
	}
	if t.Status == domain.TicketClosed {
		return nil, fmt.Errorf("admin reply to closed ticket: %w", ErrInvalidTransition)
	}

	now := s.clock.Now()
	u := UpdateFields{LastResponseAt: &now}
	if t.FirstResponseAt == nil {
		u.FirstResponseAt = &now
		t.FirstResponseAt = &now
	}
	t.LastResponseAt = &now
	if err := s.repo.UpdateTicket(ctx, ticketID, u); err != nil {
		return nil, err
	}

	msg, err := s.appendLocked(ctx, ticketID, domain.SenderAdmin, text, nil, nil)
	if err != nil {
		return nil, err
	}
	if s.slaHooks != nil {
		s.slaHooks.AdminResponded(ctx, t)
	}
	return msg, nil
}

// AppendSystemMessage records an operational note (rate-limit suppression,
// escalation, generation failure) on the thread.
func (s *Service) AppendSystemMessage(ctx context.Context, ticketID, text string) (*domain.Message, error) {
	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	if _, err := s.repo.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.appendLocked(ctx, ticketID, domain.SenderSystem, text, nil, nil)
}

// appendLocked stamps and stores a message. Callers hold the ticket lock
// (or the ingest key lock for brand-new tickets), which is what makes the
// created_at sequence strictly increasing per ticket.
func (s *Service) appendLocked(ctx context.Context, ticketID string, sender domain.MessageSender, body string, confidence *float64, success *bool) (*domain.Message, error) {
	m := &domain.Message{
		ID:         uuid.New().String(),
		TicketID:   ticketID,
		Sender:     sender,
		Body:       body,
		Confidence: confidence,
		Success:    success,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.MessageAppended(string(sender))
	return m, nil
}

// AssignToAdmin transitions open -> human_assigned. Assigning the same
// admin twice is a no-op; assigning a closed ticket is rejected.
func (s *Service) AssignToAdmin(ctx context.Context, ticketID, adminEmail string) error {
	if adminEmail == "" {
		return fmt.Errorf("%w: admin email is required", ErrValidation)
	}

	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.IsDeleted {
		return ErrDeleted
	}
	if t.Status == domain.TicketClosed {
		return fmt.Errorf("assign closed ticket: %w", ErrInvalidTransition)
	}
	if t.AssignedTo != nil && *t.AssignedTo == adminEmail {
		return nil
	}

	status := domain.TicketHumanAssigned
	if err := s.repo.UpdateTicket(ctx, ticketID, UpdateFields{Status: &status, AssignedTo: &adminEmail}); err != nil {
		return err
	}
	log.Printf("[TicketService] Ticket %s assigned to %s", ticketID, adminEmail)
	return nil
}

// Escalate moves an open ticket to human_assigned without picking an
// agent and notes the handover on the thread. Any AI generation racing
// this transition finds the ticket ineligible at commit time.
func (s *Service) Escalate(ctx context.Context, ticketID string) error {
	s.locks.Lock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		s.locks.Unlock(ticketID)
		return err
	}
	if t.IsDeleted {
		s.locks.Unlock(ticketID)
		return ErrDeleted
	}
	if t.Status == domain.TicketClosed {
		s.locks.Unlock(ticketID)
		return fmt.Errorf("escalate closed ticket: %w", ErrInvalidTransition)
	}
	if t.Status == domain.TicketHumanAssigned {
		s.locks.Unlock(ticketID)
		return nil
	}

	status := domain.TicketHumanAssigned
	if err := s.repo.UpdateTicket(ctx, ticketID, UpdateFields{Status: &status}); err != nil {
		s.locks.Unlock(ticketID)
		return err
	}
	_, err = s.appendLocked(ctx, ticketID, domain.SenderSystem, "Ticket escalated to human support.", nil, nil)
	s.locks.Unlock(ticketID)
	return err
}

// CloseTicket moves any live ticket to closed and stamps resolved_at.
// Closing a closed ticket is a no-op; closing a deleted ticket fails.
func (s *Service) CloseTicket(ctx context.Context, ticketID, by string) error {
	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.IsDeleted {
		return ErrDeleted
	}
	if t.Status == domain.TicketClosed {
		return nil
	}

	now := s.clock.Now()
	status := domain.TicketClosed
	if err := s.repo.UpdateTicket(ctx, ticketID, UpdateFields{Status: &status, ResolvedAt: &now}); err != nil {
		return err
	}
	t.Status = status
	t.ResolvedAt = &now
	log.Printf("[TicketService] Ticket %s closed by %s", ticketID, by)
	if s.slaHooks != nil {
		s.slaHooks.TicketClosed(ctx, t)
	}
	return nil
}

// UpdatePriority changes the priority and relinks the matching SLA policy.
func (s *Service) UpdatePriority(ctx context.Context, ticketID string, p domain.TicketPriority) error {
	if !domain.ValidPriority(p) {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, p)
	}

	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.IsDeleted {
		return ErrDeleted
	}
	if t.Priority == p {
		return nil
	}

	u := UpdateFields{Priority: &p}
	t.Priority = p
	s.linkSla(ctx, t)
	if t.SlaID != nil {
		u.SlaID = t.SlaID
	}
	return s.repo.UpdateTicket(ctx, ticketID, u)
}

// SetCategory sets the ticket's category (routing rule action).
func (s *Service) SetCategory(ctx context.Context, ticketID, category string) error {
	s.locks.Lock(ticketID)
	defer s.locks.Unlock(ticketID)

	if _, err := s.repo.GetTicket(ctx, ticketID); err != nil {
		return err
	}
	return s.repo.UpdateTicket(ctx, ticketID, UpdateFields{Category: &category})
}

// Get returns a single ticket.
func (s *Service) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.repo.GetTicket(ctx, id)
}

// GetThread returns a ticket with its messages in order.
func (s *Service) GetThread(ctx context.Context, id string) (*domain.Ticket, []domain.Message, error) {
	t, err := s.repo.GetTicket(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, msgs, nil
}

// List returns tickets matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Ticket, int, error) {
	return s.repo.ListTickets(ctx, f)
}
