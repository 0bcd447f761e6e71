package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// ErrUnsupportedProvider is returned for accounts whose provider has no
// delivery implementation ("other" placeholder accounts).
var ErrUnsupportedProvider = errors.New("mail: unsupported provider")

// Credentials are the unsealed secrets of one email account. The caller
// unseals them immediately before the send and zeroes them after.
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// ProviderFactory builds a Provider for an email account. SES shares one
// SDK client (credentials come from the AWS chain); the rest are cheap
// per-call constructions from the account's own credentials.
type ProviderFactory struct {
	SMTPDialTimeout time.Duration
	HTTPTimeout     time.Duration

	ses *SESProvider
}

// NewProviderFactory creates a factory.
func NewProviderFactory(smtpDialTimeout, httpTimeout time.Duration) *ProviderFactory {
	return &ProviderFactory{SMTPDialTimeout: smtpDialTimeout, HTTPTimeout: httpTimeout}
}

// EnableSES attaches a shared SES client for accounts with provider "ses".
func (f *ProviderFactory) EnableSES(ctx context.Context, region string) error {
	p, err := NewSESProvider(ctx, region, "", "")
	if err != nil {
		return err
	}
	f.ses = p
	return nil
}

// ForAccount maps an account's provider to a Provider implementation.
func (f *ProviderFactory) ForAccount(acct *domain.EmailAccount, creds Credentials) (Provider, error) {
	switch acct.Provider {
	case domain.ProviderSMTP:
		host, port := smtpEndpoint(acct)
		if host == "" {
			return nil, fmt.Errorf("account %s: smtp host not configured", acct.ID)
		}
		username := creds.Username
		if username == "" {
			username = acct.EmailAddress
		}
		return NewSMTPProvider(host, port, username, creds.Password, f.SMTPDialTimeout), nil

	case domain.ProviderSendGrid:
		if creds.APIKey == "" {
			return nil, fmt.Errorf("account %s: sendgrid api key not configured", acct.ID)
		}
		return NewSendGridProvider(creds.APIKey, f.HTTPTimeout), nil

	case domain.ProviderSES:
		if f.ses == nil {
			return nil, fmt.Errorf("account %s: ses provider not enabled", acct.ID)
		}
		return f.ses, nil

	case domain.ProviderMailgun:
		if creds.APIKey == "" {
			return nil, fmt.Errorf("account %s: mailgun api key not configured", acct.ID)
		}
		domainPart := ""
		if at := strings.LastIndex(acct.EmailAddress, "@"); at >= 0 {
			domainPart = acct.EmailAddress[at+1:]
		}
		return NewMailgunProvider(creds.APIKey, domainPart, f.HTTPTimeout), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, acct.Provider)
	}
}

// smtpEndpoint resolves the submission host and port, with well-known
// defaults for the big consumer providers when the account left them blank.
func smtpEndpoint(acct *domain.EmailAccount) (string, int) {
	host, port := "", 587
	if acct.SMTPHost != nil {
		host = *acct.SMTPHost
	}
	if acct.SMTPPort != nil {
		port = *acct.SMTPPort
	}
	if host == "" {
		switch mailboxDomain(acct.EmailAddress) {
		case "gmail.com", "googlemail.com":
			host = "smtp.gmail.com"
		case "outlook.com", "hotmail.com", "office365.com", "live.com":
			host = "smtp.office365.com"
		}
	}
	return host, port
}

// IMAPEndpoint resolves the IMAP host and port for inbound polling, with
// the same well-known defaults.
func IMAPEndpoint(acct *domain.EmailAccount) (string, int) {
	host, port := "", 993
	if acct.IMAPHost != nil {
		host = *acct.IMAPHost
	}
	if acct.IMAPPort != nil && *acct.IMAPPort != 0 {
		port = *acct.IMAPPort
	}
	if host == "" {
		switch mailboxDomain(acct.EmailAddress) {
		case "gmail.com", "googlemail.com":
			host = "imap.gmail.com"
		case "outlook.com", "hotmail.com", "office365.com", "live.com":
			host = "outlook.office365.com"
		}
	}
	return host, port
}

func mailboxDomain(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 {
		return strings.ToLower(address[at+1:])
	}
	return ""
}
