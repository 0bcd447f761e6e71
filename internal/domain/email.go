package domain

import "time"

// EmailProvider identifies the delivery mechanism for an email account.
type EmailProvider string

const (
	ProviderSMTP     EmailProvider = "smtp"
	ProviderSendGrid EmailProvider = "sendgrid"
	ProviderSES      EmailProvider = "ses"
	ProviderMailgun  EmailProvider = "mailgun"
	ProviderOther    EmailProvider = "other"
)

// ValidProvider reports whether p is one of the recognized providers.
func ValidProvider(p EmailProvider) bool {
	switch p {
	case ProviderSMTP, ProviderSendGrid, ProviderSES, ProviderMailgun, ProviderOther:
		return true
	}
	return false
}

// EmailStatus tracks an EmailMessage through its life.
type EmailStatus string

const (
	EmailSent     EmailStatus = "sent"
	EmailReceived EmailStatus = "received"
	EmailFailed   EmailStatus = "failed"
	EmailDraft    EmailStatus = "draft"
	EmailPending  EmailStatus = "pending"
	EmailFiltered EmailStatus = "filtered"
)

// EmailDirection distinguishes inbound from outbound mail.
type EmailDirection string

const (
	DirectionInbound  EmailDirection = "inbound"
	DirectionOutbound EmailDirection = "outbound"
)

// EmailMessage is one email tied (usually) to a ticket. The pair
// (email_account_id, message_id) is unique, which makes inbound ingestion
// idempotent under redelivery.
type EmailMessage struct {
	ID             string         `json:"id" db:"id"`
	TicketID       *string        `json:"ticket_id" db:"ticket_id"`
	EmailAccountID string         `json:"email_account_id" db:"email_account_id"`
	MessageID      string         `json:"message_id" db:"message_id"`
	InReplyTo      *string        `json:"in_reply_to" db:"in_reply_to"`
	References     *string        `json:"references" db:"references"`
	Subject        string         `json:"subject" db:"subject"`
	BodyText       *string        `json:"body_text" db:"body_text"`
	BodyHTML       *string        `json:"body_html" db:"body_html"`
	FromAddress    string         `json:"from_address" db:"from_address"`
	ToAddresses    []string       `json:"to_addresses" db:"to_addresses"`
	CcAddresses    []string       `json:"cc_addresses" db:"cc_addresses"`
	BccAddresses   []string       `json:"bcc_addresses" db:"bcc_addresses"`
	Status         EmailStatus    `json:"status" db:"status"`
	Direction      EmailDirection `json:"direction" db:"direction"`
	HasAttachments bool           `json:"has_attachments" db:"has_attachments"`
	ErrorMessage   *string        `json:"error_message" db:"error_message"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	SentAt         *time.Time     `json:"sent_at" db:"sent_at"`
	ReceivedAt     *time.Time     `json:"received_at" db:"received_at"`
}

// EmailAccount holds addressing plus sealed credentials for one mailbox.
// Password and APIKey are ciphertext at rest; only the outbound dispatcher
// and the IMAP poller unseal them, at use time.
type EmailAccount struct {
	ID             string        `json:"id" db:"id"`
	OrganizationID *string       `json:"organization_id" db:"organization_id"`
	Name           string        `json:"name" db:"name"`
	EmailAddress   string        `json:"email_address" db:"email_address"`
	Provider       EmailProvider `json:"provider" db:"provider"`
	Username       *string       `json:"username" db:"username"`
	Password       *string       `json:"-" db:"password_sealed"`
	APIKey         *string       `json:"-" db:"api_key_sealed"`
	SMTPHost       *string       `json:"smtp_host" db:"smtp_host"`
	SMTPPort       *int          `json:"smtp_port" db:"smtp_port"`
	IMAPHost       *string       `json:"imap_host" db:"imap_host"`
	IMAPPort       *int          `json:"imap_port" db:"imap_port"`
	IMAPEnabled    bool          `json:"imap_enabled" db:"imap_enabled"`
	LastPolledAt   *time.Time    `json:"last_polled_at" db:"last_polled_at"`
	IsActive       bool          `json:"is_active" db:"is_active"`
	IsDefault      bool          `json:"is_default" db:"is_default"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// EmailTemplate is a reusable outbound email body with {{var}} placeholders.
type EmailTemplate struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID *string    `json:"organization_id" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	Subject        string     `json:"subject" db:"subject"`
	BodyText       string     `json:"body_text" db:"body_text"`
	BodyHTML       *string    `json:"body_html" db:"body_html"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
