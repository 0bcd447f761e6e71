// Package emailaccount manages mailbox accounts: addressing, sealed
// credentials, the default-sender invariant, and polling toggles.
package emailaccount

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/sealed"
)

// Service implements email account management. Credentials are sealed on
// write and unsealed only at use time (send or poll).
type Service struct {
	repo      Repository
	box       *sealed.Box
	providers *mail.ProviderFactory
	clock     clock.Clock
}

// NewService creates an email account service.
func NewService(repo Repository, box *sealed.Box, providers *mail.ProviderFactory, clk clock.Clock) *Service {
	return &Service{repo: repo, box: box, providers: providers, clock: clk}
}

// Input is the CRUD payload. Password and APIKey arrive as plaintext and
// are sealed before storage; empty strings on update keep the stored
// secret.
type Input struct {
	Name         string               `json:"name"`
	EmailAddress string               `json:"email_address"`
	Provider     domain.EmailProvider `json:"provider"`
	Username     *string              `json:"username"`
	Password     string               `json:"password"`
	APIKey       string               `json:"api_key"`
	SMTPHost     *string              `json:"smtp_host"`
	SMTPPort     *int                 `json:"smtp_port"`
	IMAPHost     *string              `json:"imap_host"`
	IMAPPort     *int                 `json:"imap_port"`
	IMAPEnabled  bool                 `json:"imap_enabled"`
	IsActive     *bool                `json:"is_active"`
	IsDefault    bool                 `json:"is_default"`
}

func (in Input) validate() error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !strings.Contains(in.EmailAddress, "@") {
		return fmt.Errorf("%w: email_address is invalid", ErrValidation)
	}
	if !domain.ValidProvider(in.Provider) {
		return fmt.Errorf("%w: unknown provider %q", ErrValidation, in.Provider)
	}
	return nil
}

// Create seals the credentials and stores a new account. Making it the
// default clears the flag on the org's other accounts.
func (s *Service) Create(ctx context.Context, orgID *string, in Input) (*domain.EmailAccount, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	a := &domain.EmailAccount{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           in.Name,
		EmailAddress:   strings.ToLower(in.EmailAddress),
		Provider:       in.Provider,
		Username:       in.Username,
		SMTPHost:       in.SMTPHost,
		SMTPPort:       in.SMTPPort,
		IMAPHost:       in.IMAPHost,
		IMAPPort:       in.IMAPPort,
		IMAPEnabled:    in.IMAPEnabled,
		IsActive:       true,
		IsDefault:      in.IsDefault,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	if err := s.sealInto(a, in.Password, in.APIKey); err != nil {
		return nil, err
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	if a.IsDefault {
		if err := s.repo.ClearDefault(ctx, orgID, a.ID); err != nil {
			return nil, err
		}
	}
	log.Printf("[EmailAccountService] Created account %s (%s, provider=%s)", a.ID, a.EmailAddress, a.Provider)
	return a, nil
}

// Update replaces mutable fields, re-sealing any supplied secrets.
func (s *Service) Update(ctx context.Context, id string, in Input) (*domain.EmailAccount, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	a.Name = in.Name
	a.EmailAddress = strings.ToLower(in.EmailAddress)
	a.Provider = in.Provider
	a.Username = in.Username
	a.SMTPHost = in.SMTPHost
	a.SMTPPort = in.SMTPPort
	a.IMAPHost = in.IMAPHost
	a.IMAPPort = in.IMAPPort
	a.IMAPEnabled = in.IMAPEnabled
	a.IsDefault = in.IsDefault
	if in.IsActive != nil {
		a.IsActive = *in.IsActive
	}
	if err := s.sealInto(a, in.Password, in.APIKey); err != nil {
		return nil, err
	}
	a.UpdatedAt = s.clock.Now()

	if err := s.repo.UpdateAccount(ctx, a); err != nil {
		return nil, err
	}
	if a.IsDefault {
		if err := s.repo.ClearDefault(ctx, a.OrganizationID, a.ID); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// sealInto seals non-empty secrets onto the account record.
func (s *Service) sealInto(a *domain.EmailAccount, password, apiKey string) error {
	if password != "" {
		ct, err := s.box.SealString(password)
		if err != nil {
			return fmt.Errorf("seal password: %w", err)
		}
		a.Password = &ct
	}
	if apiKey != "" {
		ct, err := s.box.SealString(apiKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		a.APIKey = &ct
	}
	return nil
}

// Unseal decrypts the account's stored credentials for immediate use.
// The caller must not persist or log the result.
func (s *Service) Unseal(a *domain.EmailAccount) (mail.Credentials, error) {
	creds := mail.Credentials{}
	if a.Username != nil {
		creds.Username = *a.Username
	}
	if a.Password != nil && *a.Password != "" {
		pw, err := s.box.OpenString(*a.Password)
		if err != nil {
			return mail.Credentials{}, fmt.Errorf("unseal password for %s: %w", a.ID, err)
		}
		creds.Password = pw
	}
	if a.APIKey != nil && *a.APIKey != "" {
		key, err := s.box.OpenString(*a.APIKey)
		if err != nil {
			return mail.Credentials{}, fmt.Errorf("unseal api key for %s: %w", a.ID, err)
		}
		creds.APIKey = key
	}
	return creds, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id string) (*domain.EmailAccount, error) {
	return s.repo.GetAccount(ctx, id)
}

// List returns the org's accounts.
func (s *Service) List(ctx context.Context, orgID *string) ([]domain.EmailAccount, error) {
	return s.repo.ListAccounts(ctx, orgID)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteAccount(ctx, id)
}

// SetPolling toggles IMAP polling for an account. The poll supervisor
// picks the change up on its next reconcile pass.
func (s *Service) SetPolling(ctx context.Context, id string, enabled bool) error {
	if _, err := s.repo.GetAccount(ctx, id); err != nil {
		return err
	}
	return s.repo.SetPolling(ctx, id, enabled)
}

// Pollable returns the accounts the IMAP supervisor should be polling.
func (s *Service) Pollable(ctx context.Context) ([]domain.EmailAccount, error) {
	return s.repo.ListPollable(ctx)
}

// MarkPolled stamps a successful poll cycle.
func (s *Service) MarkPolled(ctx context.Context, id string) error {
	return s.repo.SetLastPolled(ctx, id, s.clock.Now())
}

// SelectSender resolves the outbound account: the explicit id when given,
// else the org default, else any active account.
func (s *Service) SelectSender(ctx context.Context, orgID *string, accountID *string) (*domain.EmailAccount, error) {
	if accountID != nil && *accountID != "" {
		a, err := s.repo.GetAccount(ctx, *accountID)
		if err != nil {
			return nil, err
		}
		if !a.IsActive {
			return nil, fmt.Errorf("account %s: %w", a.ID, ErrNoSenderConfigured)
		}
		return a, nil
	}

	a, err := s.repo.DefaultSender(ctx, orgID)
	if err == nil {
		return a, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	a, err = s.repo.AnyActiveSender(ctx, orgID)
	if err == ErrNotFound {
		return nil, ErrNoSenderConfigured
	}
	return a, err
}

// TestConnection unseals the credentials and probes the provider.
func (s *Service) TestConnection(ctx context.Context, id string) error {
	a, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	creds, err := s.Unseal(a)
	if err != nil {
		return err
	}
	p, err := s.providers.ForAccount(a, creds)
	if err != nil {
		return err
	}
	return p.TestConnection(ctx)
}
