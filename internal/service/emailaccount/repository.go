package emailaccount

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// Sentinel errors for the email account service layer.
var (
	ErrNotFound           = errors.New("email account not found")
	ErrValidation         = errors.New("invalid email account")
	ErrNoSenderConfigured = errors.New("no active sender account configured")
)

// Repository defines data access for email accounts.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetAccount returns one account or ErrNotFound.
	GetAccount(ctx context.Context, id string) (*domain.EmailAccount, error)

	// ListAccounts returns the org's accounts.
	ListAccounts(ctx context.Context, orgID *string) ([]domain.EmailAccount, error)

	// CreateAccount inserts an account.
	CreateAccount(ctx context.Context, a *domain.EmailAccount) error

	// UpdateAccount replaces an account's mutable fields.
	UpdateAccount(ctx context.Context, a *domain.EmailAccount) error

	// DeleteAccount removes an account.
	DeleteAccount(ctx context.Context, id string) error

	// ClearDefault unsets is_default on every account of the org except
	// keep. Enforces the at-most-one-default invariant.
	ClearDefault(ctx context.Context, orgID *string, keep string) error

	// DefaultSender returns the org's default active account, or
	// ErrNotFound.
	DefaultSender(ctx context.Context, orgID *string) (*domain.EmailAccount, error)

	// AnyActiveSender returns any active account for the org, or
	// ErrNotFound.
	AnyActiveSender(ctx context.Context, orgID *string) (*domain.EmailAccount, error)

	// ListPollable returns accounts with imap_enabled and is_active set.
	ListPollable(ctx context.Context) ([]domain.EmailAccount, error)

	// SetLastPolled stamps last_polled_at.
	SetLastPolled(ctx context.Context, id string, at time.Time) error

	// SetPolling toggles imap_enabled.
	SetPolling(ctx context.Context, id string, enabled bool) error
}
