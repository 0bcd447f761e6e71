package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/pkg/httpretry"
)

// SendGridProvider sends through the SendGrid v3 Mail Send API. The retry
// client already applies the transient retry schedule (429/5xx, jittered
// exponential backoff), so failures escaping Send are final.
type SendGridProvider struct {
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewSendGridProvider creates a SendGrid provider.
func NewSendGridProvider(apiKey string, timeout time.Duration) *SendGridProvider {
	return &SendGridProvider{
		apiKey:  apiKey,
		baseURL: "https://api.sendgrid.com/v3",
		client:  httpretry.NewRetryClientWithDelays(&http.Client{Timeout: timeout}, 3, 500*time.Millisecond, 2*time.Second),
	}
}

// Name implements Provider.
func (p *SendGridProvider) Name() string { return "sendgrid" }

// Send implements Provider.
func (p *SendGridProvider) Send(ctx context.Context, env *Envelope) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("sendgrid api key not configured")
	}

	toList := func(addrs []string) []map[string]string {
		out := make([]map[string]string, len(addrs))
		for i, a := range addrs {
			out[i] = map[string]string{"email": a}
		}
		return out
	}

	personalization := map[string]interface{}{"to": toList(env.To)}
	if len(env.Cc) > 0 {
		personalization["cc"] = toList(env.Cc)
	}
	if len(env.Bcc) > 0 {
		personalization["bcc"] = toList(env.Bcc)
	}

	headers := map[string]string{"Message-ID": "<" + env.MessageID + ">"}
	if env.InReplyTo != "" {
		headers["In-Reply-To"] = "<" + env.InReplyTo + ">"
	}
	if len(env.References) > 0 {
		refs := ""
		for i, r := range env.References {
			if i > 0 {
				refs += " "
			}
			refs += "<" + r + ">"
		}
		headers["References"] = refs
	}

	content := []map[string]string{}
	if env.BodyText != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": env.BodyText})
	}
	if env.BodyHTML != "" {
		content = append(content, map[string]string{"type": "text/html", "value": env.BodyHTML})
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{personalization},
		"from":             map[string]string{"email": env.From, "name": env.FromName},
		"subject":          env.Subject,
		"content":          content,
		"headers":          headers,
	}
	if env.ReplyTo != "" {
		payload["reply_to"] = map[string]string{"email": env.ReplyTo}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, detail)
	}

	if id := resp.Header.Get("X-Message-Id"); id != "" {
		return id, nil
	}
	return env.MessageID, nil
}

// TestConnection implements Provider by fetching the API key's scopes.
func (p *SendGridProvider) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/scopes", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendgrid status %d", resp.StatusCode)
	}
	return nil
}
