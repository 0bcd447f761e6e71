// Package sla tracks response and resolution deadlines against
// priority-scoped policies, records violations, and answers
// "where does this ticket stand".
package sla

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// Service implements the SLA tracker.
type Service struct {
	repo    Repository
	clock   clock.Clock
	metrics metrics.Metrics
}

// NewService creates an SLA service.
func NewService(repo Repository, clk clock.Clock, m metrics.Metrics) *Service {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Service{repo: repo, clock: clk, metrics: m}
}

// ActiveForPriority implements ticket.SlaSource.
func (s *Service) ActiveForPriority(ctx context.Context, orgID *string, p domain.TicketPriority) (*domain.SlaDefinition, error) {
	return s.repo.ActiveForPriority(ctx, orgID, p)
}

// AdminResponded implements ticket.SlaHooks: called after the first (or
// any) admin reply, with first_response_at already stamped on t.
func (s *Service) AdminResponded(ctx context.Context, t *domain.Ticket) {
	if t.SlaID == nil || t.FirstResponseAt == nil {
		return
	}
	def, err := s.repo.GetDefinition(ctx, *t.SlaID)
	if err != nil {
		log.Printf("[SlaService] Definition %s: %v", *t.SlaID, err)
		return
	}

	expected := Deadline(def, t.CreatedAt, def.ResponseTimeMinutes)
	actual := *t.FirstResponseAt
	if !actual.After(expected) {
		return
	}

	minutes := int(actual.Sub(expected).Minutes())
	if err := s.recordOrResolve(ctx, t, def, domain.ViolationResponseTime, expected, actual, minutes); err != nil {
		log.Printf("[SlaService] Response violation for %s: %v", t.ID, err)
	}
}

// TicketClosed implements ticket.SlaHooks: called with resolved_at
// stamped on t.
func (s *Service) TicketClosed(ctx context.Context, t *domain.Ticket) {
	if t.SlaID == nil || t.ResolvedAt == nil {
		return
	}
	def, err := s.repo.GetDefinition(ctx, *t.SlaID)
	if err != nil {
		log.Printf("[SlaService] Definition %s: %v", *t.SlaID, err)
		return
	}

	expected := Deadline(def, t.CreatedAt, def.ResolutionTimeMinutes)
	actual := *t.ResolvedAt
	if !actual.After(expected) {
		return
	}

	minutes := int(actual.Sub(expected).Minutes())
	if err := s.recordOrResolve(ctx, t, def, domain.ViolationResolutionTime, expected, actual, minutes); err != nil {
		log.Printf("[SlaService] Resolution violation for %s: %v", t.ID, err)
	}
}

// recordOrResolve finalizes a pending violation from the scanner or
// records a fresh one.
func (s *Service) recordOrResolve(ctx context.Context, t *domain.Ticket, def *domain.SlaDefinition, vt domain.SlaViolationType, expected, actual time.Time, minutes int) error {
	exists, err := s.repo.HasViolation(ctx, t.ID, vt)
	if err != nil {
		return err
	}
	if exists {
		return s.repo.ResolveViolation(ctx, t.ID, vt, actual, minutes)
	}

	s.metrics.SlaViolation(string(vt))
	return s.repo.CreateViolation(ctx, &domain.SlaViolation{
		ID:               uuid.New().String(),
		TicketID:         t.ID,
		SlaID:            def.ID,
		ViolationType:    vt,
		ExpectedTime:     expected,
		ActualTime:       &actual,
		ViolationMinutes: &minutes,
		IsResolved:       true,
		CreatedAt:        s.clock.Now(),
	})
}

// Scan walks live SLA-linked tickets and records pending violations for
// deadlines that passed without being met. Runs every minute from the
// task supervisor. Returns the number of violations recorded.
func (s *Service) Scan(ctx context.Context) (int, error) {
	tickets, err := s.repo.ListTicketsPendingSla(ctx, 500)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	recorded := 0
	for i := range tickets {
		t := &tickets[i]
		def, err := s.repo.GetDefinition(ctx, *t.SlaID)
		if err != nil {
			log.Printf("[SlaService] Definition %s: %v", *t.SlaID, err)
			continue
		}

		if t.FirstResponseAt == nil {
			n, err := s.recordPending(ctx, t, def, domain.ViolationResponseTime, def.ResponseTimeMinutes, now)
			if err != nil {
				log.Printf("[SlaService] Scan response %s: %v", t.ID, err)
			}
			recorded += n
		}
		if t.ResolvedAt == nil {
			n, err := s.recordPending(ctx, t, def, domain.ViolationResolutionTime, def.ResolutionTimeMinutes, now)
			if err != nil {
				log.Printf("[SlaService] Scan resolution %s: %v", t.ID, err)
			}
			recorded += n
		}
	}
	return recorded, nil
}

func (s *Service) recordPending(ctx context.Context, t *domain.Ticket, def *domain.SlaDefinition, vt domain.SlaViolationType, minutes int, now time.Time) (int, error) {
	expected := Deadline(def, t.CreatedAt, minutes)
	if !now.After(expected) {
		return 0, nil
	}
	exists, err := s.repo.HasViolation(ctx, t.ID, vt)
	if err != nil || exists {
		return 0, err
	}

	overdue := int(now.Sub(expected).Minutes())
	s.metrics.SlaViolation(string(vt))
	return 1, s.repo.CreateViolation(ctx, &domain.SlaViolation{
		ID:               uuid.New().String(),
		TicketID:         t.ID,
		SlaID:            def.ID,
		ViolationType:    vt,
		ExpectedTime:     expected,
		ViolationMinutes: &overdue,
		CreatedAt:        now,
	})
}

// Status answers GetSlaStatus for one ticket.
func (s *Service) Status(ctx context.Context, t *domain.Ticket) (*domain.SlaStatus, error) {
	if t.SlaID == nil {
		return nil, ErrNoSla
	}
	def, err := s.repo.GetDefinition(ctx, *t.SlaID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := &domain.SlaStatus{
		Sla:        def,
		Response:   deadlineStatus(Deadline(def, t.CreatedAt, def.ResponseTimeMinutes), t.FirstResponseAt, now),
		Resolution: deadlineStatus(Deadline(def, t.CreatedAt, def.ResolutionTimeMinutes), t.ResolvedAt, now),
	}
	return status, nil
}

func deadlineStatus(expected time.Time, actual *time.Time, now time.Time) *domain.SlaDeadline {
	d := &domain.SlaDeadline{Expected: expected, Actual: actual}
	ref := now
	if actual != nil {
		ref = *actual
	}
	if ref.After(expected) {
		d.Violated = true
		overdue := int(ref.Sub(expected).Minutes())
		d.OverdueBy = &overdue
	}
	return d
}

// Violations returns a ticket's recorded violations.
func (s *Service) Violations(ctx context.Context, ticketID string) ([]domain.SlaViolation, error) {
	return s.repo.ListViolations(ctx, ticketID)
}

// DefinitionInput is the admin CRUD payload for an SLA policy.
type DefinitionInput struct {
	Name                  string                `json:"name"`
	Priority              domain.TicketPriority `json:"priority"`
	ResponseTimeMinutes   int                   `json:"response_time_minutes"`
	ResolutionTimeMinutes int                   `json:"resolution_time_minutes"`
	BusinessHoursOnly     bool                  `json:"business_hours_only"`
	BusinessHoursStart    *string               `json:"business_hours_start"`
	BusinessHoursEnd      *string               `json:"business_hours_end"`
	BusinessDays          []int                 `json:"business_days"`
	IsActive              *bool                 `json:"is_active"`
}

func (in DefinitionInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !domain.ValidPriority(in.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
	}
	if in.ResponseTimeMinutes <= 0 || in.ResolutionTimeMinutes <= 0 {
		return fmt.Errorf("%w: response and resolution minutes must be positive", ErrValidation)
	}
	if in.BusinessHoursOnly {
		if _, ok := parseHHMM(in.BusinessHoursStart); !ok {
			return fmt.Errorf("%w: business_hours_start must be HH:MM", ErrValidation)
		}
		if _, ok := parseHHMM(in.BusinessHoursEnd); !ok {
			return fmt.Errorf("%w: business_hours_end must be HH:MM", ErrValidation)
		}
		if len(in.BusinessDays) == 0 {
			return fmt.Errorf("%w: business_days is required", ErrValidation)
		}
	}
	return nil
}

// CreateDefinition validates and stores a policy.
func (s *Service) CreateDefinition(ctx context.Context, orgID *string, in DefinitionInput) (*domain.SlaDefinition, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := s.clock.Now()
	d := &domain.SlaDefinition{
		ID:                    uuid.New().String(),
		OrganizationID:        orgID,
		Name:                  in.Name,
		Priority:              in.Priority,
		ResponseTimeMinutes:   in.ResponseTimeMinutes,
		ResolutionTimeMinutes: in.ResolutionTimeMinutes,
		BusinessHoursOnly:     in.BusinessHoursOnly,
		BusinessHoursStart:    in.BusinessHoursStart,
		BusinessHoursEnd:      in.BusinessHoursEnd,
		BusinessDays:          in.BusinessDays,
		IsActive:              active,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// UpdateDefinition validates and replaces a policy.
func (s *Service) UpdateDefinition(ctx context.Context, id string, in DefinitionInput) (*domain.SlaDefinition, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	d, err := s.repo.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	d.Name = in.Name
	d.Priority = in.Priority
	d.ResponseTimeMinutes = in.ResponseTimeMinutes
	d.ResolutionTimeMinutes = in.ResolutionTimeMinutes
	d.BusinessHoursOnly = in.BusinessHoursOnly
	d.BusinessHoursStart = in.BusinessHoursStart
	d.BusinessHoursEnd = in.BusinessHoursEnd
	d.BusinessDays = in.BusinessDays
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
	d.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateDefinition(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetDefinition returns one policy.
func (s *Service) GetDefinition(ctx context.Context, id string) (*domain.SlaDefinition, error) {
	return s.repo.GetDefinition(ctx, id)
}

// ListDefinitions returns the org's policies.
func (s *Service) ListDefinitions(ctx context.Context, orgID *string) ([]domain.SlaDefinition, error) {
	return s.repo.ListDefinitions(ctx, orgID)
}

// DeleteDefinition removes a policy.
func (s *Service) DeleteDefinition(ctx context.Context, id string) error {
	return s.repo.DeleteDefinition(ctx, id)
}
