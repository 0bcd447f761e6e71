package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/pkg/httpretry"
)

// MailgunProvider sends through the Mailgun v3 messages API. The sending
// domain is taken from the From address unless overridden.
type MailgunProvider struct {
	apiKey  string
	domain  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewMailgunProvider creates a Mailgun provider. domain may be empty, in
// which case the From address's domain is used per send.
func NewMailgunProvider(apiKey, domain string, timeout time.Duration) *MailgunProvider {
	return &MailgunProvider{
		apiKey:  apiKey,
		domain:  domain,
		baseURL: "https://api.mailgun.net/v3",
		client:  httpretry.NewRetryClientWithDelays(&http.Client{Timeout: timeout}, 3, 500*time.Millisecond, 2*time.Second),
	}
}

// Name implements Provider.
func (p *MailgunProvider) Name() string { return "mailgun" }

func (p *MailgunProvider) sendingDomain(env *Envelope) string {
	if p.domain != "" {
		return p.domain
	}
	if at := strings.LastIndex(env.From, "@"); at >= 0 {
		return env.From[at+1:]
	}
	return ""
}

// Send implements Provider.
func (p *MailgunProvider) Send(ctx context.Context, env *Envelope) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("mailgun api key not configured")
	}
	domain := p.sendingDomain(env)
	if domain == "" {
		return "", fmt.Errorf("mailgun sending domain not configured")
	}

	form := url.Values{}
	from := env.From
	if env.FromName != "" {
		from = fmt.Sprintf("%s <%s>", env.FromName, env.From)
	}
	form.Set("from", from)
	form.Set("to", strings.Join(env.To, ","))
	if len(env.Cc) > 0 {
		form.Set("cc", strings.Join(env.Cc, ","))
	}
	if len(env.Bcc) > 0 {
		form.Set("bcc", strings.Join(env.Bcc, ","))
	}
	form.Set("subject", env.Subject)
	if env.BodyText != "" {
		form.Set("text", env.BodyText)
	}
	if env.BodyHTML != "" {
		form.Set("html", env.BodyHTML)
	}
	if env.ReplyTo != "" {
		form.Set("h:Reply-To", env.ReplyTo)
	}
	form.Set("h:Message-Id", "<"+env.MessageID+">")
	if env.InReplyTo != "" {
		form.Set("h:In-Reply-To", "<"+env.InReplyTo+">")
	}
	if len(env.References) > 0 {
		refs := make([]string, len(env.References))
		for i, r := range env.References {
			refs[i] = "<" + r + ">"
		}
		form.Set("h:References", strings.Join(refs, " "))
	}

	endpoint := fmt.Sprintf("%s/%s/messages", p.baseURL, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth("api", p.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("mailgun status %d: %s", resp.StatusCode, detail)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.ID != "" {
		return CanonicalMessageID(out.ID), nil
	}
	return env.MessageID, nil
}

// TestConnection implements Provider by listing the domain.
func (p *MailgunProvider) TestConnection(ctx context.Context) error {
	domain := p.domain
	if domain == "" {
		return fmt.Errorf("mailgun sending domain not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/domains/"+domain, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mailgun status %d", resp.StatusCode)
	}
	return nil
}
