// Package routing applies first-match routing rules to new tickets:
// condition groups AND together, elements within a group OR, rules
// evaluate in descending priority, and every fired rule leaves an audit
// row.
package routing

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// Engine evaluates and applies routing rules.
type Engine struct {
	repo    Repository
	tickets TicketOps
	clock   clock.Clock
}

// NewEngine creates a routing engine.
func NewEngine(repo Repository, tickets TicketOps, clk clock.Clock) *Engine {
	return &Engine{repo: repo, tickets: tickets, clock: clk}
}

// RouteNewTicket runs the rules against a freshly created ticket. Routing
// is best-effort: a failed action is logged and never fails ingestion.
func (e *Engine) RouteNewTicket(ctx context.Context, t *domain.Ticket, firstBody string) {
	if err := e.evaluate(ctx, t, firstBody); err != nil {
		log.Printf("[RoutingEngine] Route ticket %s: %v", t.ID, err)
	}
}

// Reevaluate re-runs the rules for an existing ticket on demand, using
// the first customer message as the keyword haystack.
func (e *Engine) Reevaluate(ctx context.Context, ticketID string) error {
	t, msgs, err := e.tickets.GetThread(ctx, ticketID)
	if err != nil {
		return err
	}
	firstBody := ""
	for _, m := range msgs {
		if m.Sender == domain.SenderCustomer {
			firstBody = m.Body
			break
		}
	}
	return e.evaluate(ctx, t, firstBody)
}

func (e *Engine) evaluate(ctx context.Context, t *domain.Ticket, firstBody string) error {
	rules, err := e.repo.ListActiveRules(ctx, t.OrganizationID)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	var tagNames []string
	tags, err := e.repo.TicketTags(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("load ticket tags: %w", err)
	}
	for _, tag := range tags {
		tagNames = append(tagNames, strings.ToLower(tag.Name))
	}

	haystack := strings.ToLower(t.Subject + " " + firstBody)

	for _, rule := range rules {
		matched, conditions := matchRule(rule, t, haystack, tagNames)
		if !matched {
			continue
		}

		action, err := e.apply(ctx, t, rule)
		if err != nil {
			return fmt.Errorf("rule %s action: %w", rule.ID, err)
		}

		logRow := &domain.RoutingLog{
			ID:                uuid.New().String(),
			TicketID:          t.ID,
			RuleID:            rule.ID,
			RuleName:          rule.Name,
			ActionTaken:       action,
			MatchedConditions: conditions,
			CreatedAt:         e.clock.Now(),
		}
		if err := e.repo.CreateLog(ctx, logRow); err != nil {
			return fmt.Errorf("rule %s audit: %w", rule.ID, err)
		}

		log.Printf("[RoutingEngine] Ticket %s matched rule %q: %s", t.ID, rule.Name, action)
		// first-match semantics
		return nil
	}
	return nil
}

// matchRule checks every non-empty condition group. Groups AND; elements
// within a group OR. A rule with no conditions never matches.
func matchRule(rule domain.RoutingRule, t *domain.Ticket, haystack string, tagNames []string) (bool, []string) {
	c := rule.Conditions
	if c.Empty() {
		return false, nil
	}

	var matched []string

	if len(c.Keywords) > 0 {
		hit := ""
		for _, kw := range c.Keywords {
			if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
				hit = kw
				break
			}
		}
		if hit == "" {
			return false, nil
		}
		matched = append(matched, "keyword:"+hit)
	}

	if len(c.IssueTypes) > 0 {
		category := ""
		if t.Category != nil {
			category = strings.ToLower(*t.Category)
		}
		hit := ""
		for _, it := range c.IssueTypes {
			if strings.ToLower(it) == category {
				hit = it
				break
			}
		}
		if hit == "" {
			return false, nil
		}
		matched = append(matched, "issue_type:"+hit)
	}

	if len(c.Tags) > 0 {
		hit := ""
		for _, want := range c.Tags {
			for _, have := range tagNames {
				if strings.ToLower(want) == have {
					hit = want
					break
				}
			}
			if hit != "" {
				break
			}
		}
		if hit == "" {
			return false, nil
		}
		matched = append(matched, "tag:"+hit)
	}

	if len(c.Contexts) > 0 {
		hit := ""
		for _, cx := range c.Contexts {
			if cx == t.Context {
				hit = cx
				break
			}
		}
		if hit == "" {
			return false, nil
		}
		matched = append(matched, "context:"+hit)
	}

	if len(c.Priorities) > 0 {
		hit := ""
		for _, p := range c.Priorities {
			if domain.TicketPriority(p) == t.Priority {
				hit = p
				break
			}
		}
		if hit == "" {
			return false, nil
		}
		matched = append(matched, "priority:"+hit)
	}

	return true, matched
}

// apply executes the rule's action. Re-applying an action that already
// holds (same assignee, same priority) is a no-op inside the ticket
// service, which keeps re-evaluation idempotent.
func (e *Engine) apply(ctx context.Context, t *domain.Ticket, rule domain.RoutingRule) (string, error) {
	switch rule.ActionType {
	case domain.ActionAssignToAgent:
		if err := e.tickets.AssignToAdmin(ctx, t.ID, rule.ActionValue); err != nil {
			return "", err
		}
		return "assigned_to_agent:" + rule.ActionValue, nil

	case domain.ActionSetPriority:
		if err := e.tickets.UpdatePriority(ctx, t.ID, domain.TicketPriority(rule.ActionValue)); err != nil {
			return "", err
		}
		return "set_priority:" + rule.ActionValue, nil

	case domain.ActionAddTag:
		tag, err := e.repo.EnsureTag(ctx, t.OrganizationID, rule.ActionValue)
		if err != nil {
			return "", err
		}
		if err := e.repo.AttachTag(ctx, t.ID, tag.ID); err != nil {
			return "", err
		}
		return "added_tag:" + rule.ActionValue, nil

	case domain.ActionSetCategory:
		if err := e.tickets.SetCategory(ctx, t.ID, rule.ActionValue); err != nil {
			return "", err
		}
		return "set_category:" + rule.ActionValue, nil

	case domain.ActionAssignToGroup:
		// Group dispatch lives outside the core; a group tag makes the
		// ticket visible to the external router.
		tag, err := e.repo.EnsureTag(ctx, t.OrganizationID, "group:"+rule.ActionValue)
		if err != nil {
			return "", err
		}
		if err := e.repo.AttachTag(ctx, t.ID, tag.ID); err != nil {
			return "", err
		}
		return "assigned_to_group:" + rule.ActionValue, nil

	default:
		return "", fmt.Errorf("%w: action %q", ErrValidation, rule.ActionType)
	}
}

// Logs returns a ticket's routing audit trail.
func (e *Engine) Logs(ctx context.Context, ticketID string) ([]domain.RoutingLog, error) {
	return e.repo.ListLogs(ctx, ticketID)
}
