package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
)

// webhookBodyLimit caps the inbound payload; anything larger than a full
// MIME message with inline parts is rejected.
const webhookBodyLimit = 10 << 20

// inboundWebhook is the JSON shape relay services post to /webhooks/email.
type inboundWebhook struct {
	AccountID  string   `json:"account_id"`
	MessageID  string   `json:"message_id"`
	InReplyTo  string   `json:"in_reply_to"`
	References []string `json:"references"`
	Subject    string   `json:"subject"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Cc         []string `json:"cc"`
	BodyText   string   `json:"body_text"`
	BodyHTML   string   `json:"body_html"`

	ListUnsubscribe bool `json:"list_unsubscribe"`
	AutoSubmitted   bool `json:"auto_submitted"`
}

// handleInboundWebhook is the push-based alternative to IMAP polling. The
// payload runs through the same classify/thread/ingest pipeline as polled
// mail, so dedup and spam filtering behave identically.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	if !s.verifyWebhookSignature(body, r.Header.Get("X-Webhook-Signature")) {
		httputil.Unauthorized(w, "invalid webhook signature")
		return
	}

	var payload inboundWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON payload")
		return
	}
	if payload.AccountID == "" || payload.From == "" {
		httputil.BadRequest(w, "account_id and from are required")
		return
	}

	acct, err := s.svc.Accounts.Get(r.Context(), payload.AccountID)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	in := &mail.Inbound{
		MessageID:       payload.MessageID,
		InReplyTo:       payload.InReplyTo,
		References:      payload.References,
		Subject:         payload.Subject,
		From:            payload.From,
		To:              payload.To,
		Cc:              payload.Cc,
		BodyText:        payload.BodyText,
		BodyHTML:        payload.BodyHTML,
		Date:            time.Now().UTC(),
		ListUnsubscribe: payload.ListUnsubscribe,
		AutoSubmitted:   payload.AutoSubmitted,
	}

	outcome, err := s.svc.Ingestor.Process(r.Context(), acct, in)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"outcome": outcome})
}

// verifyWebhookSignature checks the hex HMAC-SHA256 of the raw body keyed
// with the shared JWT secret. Constant-time compare.
func (s *Server) verifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.svc.Config.Auth.JWTSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
