package domain

import "time"

// RuleActionType enumerates what a routing rule may do to a ticket.
type RuleActionType string

const (
	ActionAssignToAgent RuleActionType = "assign_to_agent"
	ActionAssignToGroup RuleActionType = "assign_to_group"
	ActionSetPriority   RuleActionType = "set_priority"
	ActionAddTag        RuleActionType = "add_tag"
	ActionSetCategory   RuleActionType = "set_category"
)

// ValidRuleAction reports whether a is one of the recognized actions.
func ValidRuleAction(a RuleActionType) bool {
	switch a {
	case ActionAssignToAgent, ActionAssignToGroup, ActionSetPriority, ActionAddTag, ActionSetCategory:
		return true
	}
	return false
}

// RuleConditions is the typed condition set of a routing rule. Groups AND
// together; within a group any element match suffices. An empty group is
// not a condition and is skipped.
type RuleConditions struct {
	Keywords   []string `json:"keywords,omitempty"`
	IssueTypes []string `json:"issue_types,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Contexts   []string `json:"context,omitempty"`
	Priorities []string `json:"priority,omitempty"`
}

// Empty reports whether no group carries any element. A rule with empty
// conditions never matches.
func (c RuleConditions) Empty() bool {
	return len(c.Keywords) == 0 && len(c.IssueTypes) == 0 && len(c.Tags) == 0 &&
		len(c.Contexts) == 0 && len(c.Priorities) == 0
}

// RoutingRule maps matched conditions to a single action. Rules evaluate
// in descending Priority order and only the first match fires.
type RoutingRule struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID *string        `json:"organization_id" db:"organization_id"`
	Name           string         `json:"name" db:"name"`
	Priority       int            `json:"priority" db:"priority"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	Conditions     RuleConditions `json:"conditions" db:"conditions"`
	ActionType     RuleActionType `json:"action_type" db:"action_type"`
	ActionValue    string         `json:"action_value" db:"action_value"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// RoutingLog is the audit row written for every rule that fired.
type RoutingLog struct {
	ID                string    `json:"id" db:"id"`
	TicketID          string    `json:"ticket_id" db:"ticket_id"`
	RuleID            string    `json:"rule_id" db:"rule_id"`
	RuleName          string    `json:"rule_name" db:"rule_name"`
	ActionTaken       string    `json:"action_taken" db:"action_taken"`
	MatchedConditions []string  `json:"matched_conditions" db:"matched_conditions"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
