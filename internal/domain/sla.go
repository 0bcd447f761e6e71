package domain

import "time"

// SlaDefinition is the response/resolution policy for one priority level.
// Business-hours clamping applies when BusinessHoursOnly is set; hours are
// "HH:MM" strings interpreted in UTC, days are time.Weekday values.
type SlaDefinition struct {
	ID                    string         `json:"id" db:"id"`
	OrganizationID        *string        `json:"organization_id" db:"organization_id"`
	Name                  string         `json:"name" db:"name"`
	Priority              TicketPriority `json:"priority" db:"priority"`
	ResponseTimeMinutes   int            `json:"response_time_minutes" db:"response_time_minutes"`
	ResolutionTimeMinutes int            `json:"resolution_time_minutes" db:"resolution_time_minutes"`
	BusinessHoursOnly     bool           `json:"business_hours_only" db:"business_hours_only"`
	BusinessHoursStart    *string        `json:"business_hours_start" db:"business_hours_start"`
	BusinessHoursEnd      *string        `json:"business_hours_end" db:"business_hours_end"`
	BusinessDays          []int          `json:"business_days" db:"business_days"`
	IsActive              bool           `json:"is_active" db:"is_active"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// SlaViolationType distinguishes the two deadline families.
type SlaViolationType string

const (
	ViolationResponseTime   SlaViolationType = "response_time"
	ViolationResolutionTime SlaViolationType = "resolution_time"
)

// SlaViolation records a missed deadline on a ticket.
type SlaViolation struct {
	ID               string           `json:"id" db:"id"`
	TicketID         string           `json:"ticket_id" db:"ticket_id"`
	SlaID            string           `json:"sla_id" db:"sla_id"`
	ViolationType    SlaViolationType `json:"violation_type" db:"violation_type"`
	ExpectedTime     time.Time        `json:"expected_time" db:"expected_time"`
	ActualTime       *time.Time       `json:"actual_time" db:"actual_time"`
	ViolationMinutes *int             `json:"violation_minutes" db:"violation_minutes"`
	IsResolved       bool             `json:"is_resolved" db:"is_resolved"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// SlaDeadline is one side (response or resolution) of a ticket's SLA state.
type SlaDeadline struct {
	Expected  time.Time  `json:"expected"`
	Actual    *time.Time `json:"actual"`
	Violated  bool       `json:"violated"`
	OverdueBy *int       `json:"overdue_minutes,omitempty"`
}

// SlaStatus is the answer to "where does this ticket stand against its SLA".
type SlaStatus struct {
	Sla        *SlaDefinition `json:"sla"`
	Response   *SlaDeadline   `json:"response"`
	Resolution *SlaDeadline   `json:"resolution"`
}
