package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
)

// EmailAccountRepo implements emailaccount.Repository against PostgreSQL.
type EmailAccountRepo struct{ db *sql.DB }

// NewEmailAccountRepo creates a Postgres-backed email account repository.
func NewEmailAccountRepo(db *sql.DB) *EmailAccountRepo { return &EmailAccountRepo{db: db} }

const accountColumns = `
	id, organization_id, name, email_address, provider, username,
	password_sealed, api_key_sealed, smtp_host, smtp_port, imap_host,
	imap_port, imap_enabled, last_polled_at, is_active, is_default,
	created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*domain.EmailAccount, error) {
	a := &domain.EmailAccount{}
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Name, &a.EmailAddress, &a.Provider,
		&a.Username, &a.Password, &a.APIKey, &a.SMTPHost, &a.SMTPPort,
		&a.IMAPHost, &a.IMAPPort, &a.IMAPEnabled, &a.LastPolledAt,
		&a.IsActive, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *EmailAccountRepo) GetAccount(ctx context.Context, id string) (*domain.EmailAccount, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, emailaccount.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email account: %w", err)
	}
	return a, nil
}

func (r *EmailAccountRepo) ListAccounts(ctx context.Context, orgID *string) ([]domain.EmailAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM email_accounts`
	args := []interface{}{}
	if orgID != nil {
		q += ` WHERE organization_id = $1`
		args = append(args, *orgID)
	}
	q += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list email accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *EmailAccountRepo) CreateAccount(ctx context.Context, a *domain.EmailAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_accounts
			(id, organization_id, name, email_address, provider, username,
			 password_sealed, api_key_sealed, smtp_host, smtp_port, imap_host,
			 imap_port, imap_enabled, is_active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, a.ID, a.OrganizationID, a.Name, a.EmailAddress, a.Provider, a.Username,
		a.Password, a.APIKey, a.SMTPHost, a.SMTPPort, a.IMAPHost, a.IMAPPort,
		a.IMAPEnabled, a.IsActive, a.IsDefault, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email account: %w", err)
	}
	return nil
}

func (r *EmailAccountRepo) UpdateAccount(ctx context.Context, a *domain.EmailAccount) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_accounts SET
			name = $1, email_address = $2, provider = $3, username = $4,
			password_sealed = $5, api_key_sealed = $6, smtp_host = $7,
			smtp_port = $8, imap_host = $9, imap_port = $10, imap_enabled = $11,
			is_active = $12, is_default = $13, updated_at = $14
		WHERE id = $15
	`, a.Name, a.EmailAddress, a.Provider, a.Username, a.Password, a.APIKey,
		a.SMTPHost, a.SMTPPort, a.IMAPHost, a.IMAPPort, a.IMAPEnabled,
		a.IsActive, a.IsDefault, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update email account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return emailaccount.ErrNotFound
	}
	return nil
}

func (r *EmailAccountRepo) DeleteAccount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM email_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete email account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return emailaccount.ErrNotFound
	}
	return nil
}

func (r *EmailAccountRepo) ClearDefault(ctx context.Context, orgID *string, keep string) error {
	q := `UPDATE email_accounts SET is_default = FALSE, updated_at = NOW() WHERE id <> $1`
	args := []interface{}{keep}
	if orgID != nil {
		q += ` AND organization_id = $2`
		args = append(args, *orgID)
	} else {
		q += ` AND organization_id IS NULL`
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("clear default sender: %w", err)
	}
	return nil
}

func (r *EmailAccountRepo) DefaultSender(ctx context.Context, orgID *string) (*domain.EmailAccount, error) {
	return r.senderWhere(ctx, orgID, "is_default = TRUE AND is_active = TRUE")
}

func (r *EmailAccountRepo) AnyActiveSender(ctx context.Context, orgID *string) (*domain.EmailAccount, error) {
	return r.senderWhere(ctx, orgID, "is_active = TRUE")
}

func (r *EmailAccountRepo) senderWhere(ctx context.Context, orgID *string, cond string) (*domain.EmailAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM email_accounts WHERE ` + cond
	args := []interface{}{}
	if orgID != nil {
		q += ` AND organization_id = $1`
		args = append(args, *orgID)
	} else {
		q += ` AND organization_id IS NULL`
	}
	q += ` ORDER BY created_at ASC LIMIT 1`

	a, err := scanAccount(r.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, emailaccount.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select sender: %w", err)
	}
	return a, nil
}

func (r *EmailAccountRepo) ListPollable(ctx context.Context) ([]domain.EmailAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM email_accounts
		WHERE imap_enabled = TRUE AND is_active = TRUE
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pollable accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email account: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *EmailAccountRepo) SetLastPolled(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE email_accounts SET last_polled_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("set last polled: %w", err)
	}
	return nil
}

func (r *EmailAccountRepo) SetPolling(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE email_accounts SET imap_enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set polling: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return emailaccount.ErrNotFound
	}
	return nil
}
