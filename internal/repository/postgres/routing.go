package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/routing"
)

// RoutingRepo implements routing.Repository against PostgreSQL. Rule
// conditions live in a jsonb column and parse once per load.
type RoutingRepo struct{ db *sql.DB }

// NewRoutingRepo creates a Postgres-backed routing repository.
func NewRoutingRepo(db *sql.DB) *RoutingRepo { return &RoutingRepo{db: db} }

func scanRule(row interface{ Scan(...interface{}) error }) (*domain.RoutingRule, error) {
	r := &domain.RoutingRule{}
	var raw []byte
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Priority, &r.IsActive,
		&raw, &r.ActionType, &r.ActionValue, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Conditions); err != nil {
			return nil, fmt.Errorf("parse rule conditions: %w", err)
		}
	}
	return r, nil
}

const ruleColumns = `id, organization_id, name, priority, is_active,
	conditions, action_type, action_value, created_at, updated_at`

func (r *RoutingRepo) listRules(ctx context.Context, where string, args ...interface{}) ([]domain.RoutingRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM routing_rules `+where+` ORDER BY priority DESC, created_at ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()

	var out []domain.RoutingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routing rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *RoutingRepo) ListActiveRules(ctx context.Context, orgID *string) ([]domain.RoutingRule, error) {
	if orgID != nil {
		return r.listRules(ctx,
			`WHERE is_active = TRUE AND (organization_id = $1 OR organization_id IS NULL)`, *orgID)
	}
	return r.listRules(ctx, `WHERE is_active = TRUE AND organization_id IS NULL`)
}

func (r *RoutingRepo) ListRules(ctx context.Context, orgID *string) ([]domain.RoutingRule, error) {
	if orgID != nil {
		return r.listRules(ctx, `WHERE organization_id = $1 OR organization_id IS NULL`, *orgID)
	}
	return r.listRules(ctx, ``)
}

func (r *RoutingRepo) GetRule(ctx context.Context, id string) (*domain.RoutingRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM routing_rules WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get routing rule: %w", err)
	}
	return rule, nil
}

func (r *RoutingRepo) CreateRule(ctx context.Context, rule *domain.RoutingRule) error {
	conds, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO routing_rules
			(id, organization_id, name, priority, is_active, conditions,
			 action_type, action_value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, rule.ID, rule.OrganizationID, rule.Name, rule.Priority, rule.IsActive,
		conds, rule.ActionType, rule.ActionValue, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("create routing rule: %w", err)
	}
	return nil
}

func (r *RoutingRepo) UpdateRule(ctx context.Context, rule *domain.RoutingRule) error {
	conds, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE routing_rules SET name = $1, priority = $2, is_active = $3,
			conditions = $4, action_type = $5, action_value = $6, updated_at = $7
		WHERE id = $8
	`, rule.Name, rule.Priority, rule.IsActive, conds, rule.ActionType,
		rule.ActionValue, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("update routing rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return routing.ErrNotFound
	}
	return nil
}

func (r *RoutingRepo) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete routing rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return routing.ErrNotFound
	}
	return nil
}

func (r *RoutingRepo) CreateLog(ctx context.Context, l *domain.RoutingLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routing_logs
			(id, ticket_id, rule_id, rule_name, action_taken, matched_conditions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.TicketID, l.RuleID, l.RuleName, l.ActionTaken,
		pq.Array(l.MatchedConditions), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create routing log: %w", err)
	}
	return nil
}

func (r *RoutingRepo) ListLogs(ctx context.Context, ticketID string) ([]domain.RoutingLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, rule_id, rule_name, action_taken, matched_conditions, created_at
		FROM routing_logs
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list routing logs: %w", err)
	}
	defer rows.Close()

	var out []domain.RoutingLog
	for rows.Next() {
		var l domain.RoutingLog
		if err := rows.Scan(&l.ID, &l.TicketID, &l.RuleID, &l.RuleName,
			&l.ActionTaken, pq.Array(&l.MatchedConditions), &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan routing log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// EnsureTag relies on the unique index on (organization_id, name) and
// re-reads after a conflicting insert.
func (r *RoutingRepo) EnsureTag(ctx context.Context, orgID *string, name string) (*domain.Tag, error) {
	t := &domain.Tag{}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tags (id, organization_id, name, color, created_at)
		VALUES ($1, $2, $3, '#64748b', NOW())
		ON CONFLICT (organization_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, organization_id, name, color, created_at
	`, uuid.New().String(), orgID, name).Scan(
		&t.ID, &t.OrganizationID, &t.Name, &t.Color, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure tag: %w", err)
	}
	return t, nil
}

func (r *RoutingRepo) AttachTag(ctx context.Context, ticketID, tagID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ticket_tags (ticket_id, tag_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, ticketID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (r *RoutingRepo) TicketTags(ctx context.Context, ticketID string) ([]domain.Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.organization_id, t.name, t.color, t.created_at
		FROM tags t
		JOIN ticket_tags tt ON tt.tag_id = t.id
		WHERE tt.ticket_id = $1
		ORDER BY t.name ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket tags: %w", err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
