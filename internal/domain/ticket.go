package domain

import "time"

// TicketStatus enumerates the lifecycle states of a ticket.
type TicketStatus string

const (
	TicketOpen          TicketStatus = "open"
	TicketHumanAssigned TicketStatus = "human_assigned"
	TicketClosed        TicketStatus = "closed"
)

// TicketPriority orders tickets for SLA policy selection and routing.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

// ValidPriority reports whether p is one of the recognized priorities.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TicketSource identifies the channel a ticket was created from.
type TicketSource string

const (
	SourceWeb    TicketSource = "web"
	SourceEmail  TicketSource = "email"
	SourceAPI    TicketSource = "api"
	SourceChat   TicketSource = "chat"
	SourcePhone  TicketSource = "phone"
	SourceSocial TicketSource = "social"
)

// ValidSource reports whether s is one of the recognized sources.
func ValidSource(s TicketSource) bool {
	switch s {
	case SourceWeb, SourceEmail, SourceAPI, SourceChat, SourcePhone, SourceSocial:
		return true
	}
	return false
}

// AllowsAutoReply reports whether the channel permits an AI reply.
// Phone, chat, and social conversations are handled by their own
// frontends and never trigger generation here.
func (s TicketSource) AllowsAutoReply() bool {
	switch s {
	case SourceWeb, SourceEmail, SourceAPI:
		return true
	}
	return false
}

// Ticket is one support conversation. Status moves open -> human_assigned
// -> closed (or open -> closed directly); soft delete is only legal on
// closed tickets.
type Ticket struct {
	ID              string         `json:"id" db:"id"`
	OrganizationID  *string        `json:"organization_id" db:"organization_id"`
	UserID          *string        `json:"user_id" db:"user_id"`
	Context         string         `json:"context" db:"context"`
	Subject         string         `json:"subject" db:"subject"`
	Status          TicketStatus   `json:"status" db:"status"`
	Priority        TicketPriority `json:"priority" db:"priority"`
	Source          TicketSource   `json:"source" db:"source"`
	Category        *string        `json:"category" db:"category"`
	AssignedTo      *string        `json:"assigned_to" db:"assigned_to"`
	SlaID           *string        `json:"sla_id" db:"sla_id"`
	IsDeleted       bool           `json:"is_deleted" db:"is_deleted"`
	DeletedAt       *time.Time     `json:"deleted_at" db:"deleted_at"`
	FirstResponseAt *time.Time     `json:"first_response_at" db:"first_response_at"`
	LastResponseAt  *time.Time     `json:"last_response_at" db:"last_response_at"`
	ResolvedAt      *time.Time     `json:"resolved_at" db:"resolved_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the ticket still accepts customer traffic.
func (t *Ticket) IsOpen() bool {
	return t.Status != TicketClosed && !t.IsDeleted
}

// EligibleForAutoReply reports whether an AI reply may be generated right
// now: nobody has taken the ticket and it is still open.
func (t *Ticket) EligibleForAutoReply() bool {
	return t.Status == TicketOpen && t.AssignedTo == nil && !t.IsDeleted
}

// AiTrigger signals that an ingested customer message should be answered
// by the AI reply coordinator. It carries just enough to rebuild the
// generation request without holding the ticket lock.
type AiTrigger struct {
	TicketID  string
	MessageID string
	Context   string
	Subject   string
}
