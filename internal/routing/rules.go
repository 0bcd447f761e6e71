package routing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// RuleInput is the admin CRUD payload for a routing rule.
type RuleInput struct {
	Name        string                `json:"name"`
	Priority    int                   `json:"priority"`
	IsActive    *bool                 `json:"is_active"`
	Conditions  domain.RuleConditions `json:"conditions"`
	ActionType  domain.RuleActionType `json:"action_type"`
	ActionValue string                `json:"action_value"`
}

func (in RuleInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !domain.ValidRuleAction(in.ActionType) {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, in.ActionType)
	}
	if in.ActionValue == "" {
		return fmt.Errorf("%w: action_value is required", ErrValidation)
	}
	if in.ActionType == domain.ActionSetPriority && !domain.ValidPriority(domain.TicketPriority(in.ActionValue)) {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, in.ActionValue)
	}
	if in.Conditions.Empty() {
		return fmt.Errorf("%w: at least one condition is required", ErrValidation)
	}
	for _, p := range in.Conditions.Priorities {
		if !domain.ValidPriority(domain.TicketPriority(p)) {
			return fmt.Errorf("%w: unknown condition priority %q", ErrValidation, p)
		}
	}
	return nil
}

// CreateRule validates and stores a new rule.
func (e *Engine) CreateRule(ctx context.Context, orgID *string, in RuleInput) (*domain.RoutingRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	now := e.clock.Now()
	r := &domain.RoutingRule{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           in.Name,
		Priority:       in.Priority,
		IsActive:       active,
		Conditions:     in.Conditions,
		ActionType:     in.ActionType,
		ActionValue:    in.ActionValue,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.repo.CreateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRule validates and replaces a rule's mutable fields.
func (e *Engine) UpdateRule(ctx context.Context, id string, in RuleInput) (*domain.RoutingRule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r, err := e.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	r.Name = in.Name
	r.Priority = in.Priority
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	r.Conditions = in.Conditions
	r.ActionType = in.ActionType
	r.ActionValue = in.ActionValue
	r.UpdatedAt = e.clock.Now()

	if err := e.repo.UpdateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRule returns one rule.
func (e *Engine) GetRule(ctx context.Context, id string) (*domain.RoutingRule, error) {
	return e.repo.GetRule(ctx, id)
}

// ListRules returns every rule for the org, priority descending.
func (e *Engine) ListRules(ctx context.Context, orgID *string) ([]domain.RoutingRule, error) {
	return e.repo.ListRules(ctx, orgID)
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	return e.repo.DeleteRule(ctx, id)
}
