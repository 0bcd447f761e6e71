package worker

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/blob"
	"github.com/relaydesk/helpdesk-core/internal/config"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/repository/postgres"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
	"github.com/relaydesk/helpdesk-core/internal/spam"
)

// InboundStore is the slice of the email repository the ingestor writes.
type InboundStore interface {
	CreateEmail(ctx context.Context, m *domain.EmailMessage) error
	HasMessageID(ctx context.Context, accountID, messageID string) (bool, error)
	TicketForMessageID(ctx context.Context, messageID string) (*string, error)
}

// SenderDirectory resolves inbound senders to platform users.
type SenderDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// AttachmentSink records inbound attachment rows.
type AttachmentSink interface {
	CreateAttachment(ctx context.Context, a *domain.Attachment) error
}

// ReplySink receives AI reply triggers emitted by successful ingests.
type ReplySink interface {
	Trigger(t domain.AiTrigger)
}

// Ingestor turns one parsed inbound email into ticket state: dedup, spam
// filtering, thread binding, message append, and attachment capture. It is
// shared by every account poller and safe for concurrent use.
type Ingestor struct {
	cfg         config.EmailConfig
	tickets     *ticket.Service
	emails      InboundStore
	senders     SenderDirectory
	classifier  *spam.Classifier
	attachments AttachmentSink
	blobs       blob.Store
	replies     ReplySink
	clock       clock.Clock
	metrics     metrics.Metrics
}

// NewIngestor creates an inbound email ingestor. classifier, attachments,
// and blobs may be nil to disable those stages.
func NewIngestor(cfg config.EmailConfig, tickets *ticket.Service, emails InboundStore, senders SenderDirectory, classifier *spam.Classifier, attachments AttachmentSink, blobs blob.Store, clk clock.Clock, m metrics.Metrics) *Ingestor {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Ingestor{
		cfg:         cfg,
		tickets:     tickets,
		emails:      emails,
		senders:     senders,
		classifier:  classifier,
		attachments: attachments,
		blobs:       blobs,
		clock:       clk,
		metrics:     m,
	}
}

// SetReplySink wires the AI reply coordinator in after construction.
// Without a sink, inbound ingests never produce automated replies.
func (ig *Ingestor) SetReplySink(sink ReplySink) { ig.replies = sink }

// Process ingests one inbound message for the account. The returned outcome
// is one of processed, duplicate, filtered, failed.
func (ig *Ingestor) Process(ctx context.Context, acct *domain.EmailAccount, in *mail.Inbound) (string, error) {
	msgID := mail.CanonicalMessageID(in.MessageID)
	if msgID == "" {
		// A missing Message-ID defeats dedup; synthesize a stable-enough one.
		msgID = mail.NewMessageID(acct.EmailAddress)
	}

	dup, err := ig.emails.HasMessageID(ctx, acct.ID, msgID)
	if err != nil {
		ig.metrics.EmailFetched("failed")
		return "failed", err
	}
	if dup {
		ig.metrics.EmailFetched("duplicate")
		return "duplicate", nil
	}

	sender, _ := ig.senders.GetUserByEmail(ctx, in.From)

	if verdict, reasons := ig.filterVerdict(ctx, in, sender); verdict != "" {
		// Default is drop without trace; EMAIL_LOG_FILTERED turns on review
		// mode, which keeps the row visible under /admin/emails/filtered.
		if ig.cfg.LogFiltered {
			if err := ig.recordEmail(ctx, acct, in, msgID, nil, domain.EmailFiltered); err != nil {
				if err == postgres.ErrDuplicateEmail {
					ig.metrics.EmailFetched("duplicate")
					return "duplicate", nil
				}
				ig.metrics.EmailFetched("failed")
				return "failed", err
			}
			log.Printf("[Ingestor] Filtered %s from %s as %s (%s)",
				msgID, in.From, verdict, strings.Join(reasons, ","))
		}
		ig.metrics.EmailFetched("filtered")
		return "filtered", nil
	}

	t, msg, err := ig.bindToTicket(ctx, acct, in, sender)
	if err != nil {
		ig.metrics.EmailFetched("failed")
		return "failed", err
	}

	if err := ig.recordEmail(ctx, acct, in, msgID, &t.ID, domain.EmailReceived); err != nil {
		if err == postgres.ErrDuplicateEmail {
			// Lost a redelivery race after the ticket write; the thread
			// already carries the message from the winning delivery.
			ig.metrics.EmailFetched("duplicate")
			return "duplicate", nil
		}
		ig.metrics.EmailFetched("failed")
		return "failed", err
	}

	ig.storeAttachments(ctx, t.ID, msg.ID, sender, in.Attachments)
	ig.metrics.EmailFetched("processed")
	return "processed", nil
}

// filterVerdict decides whether the message is dropped before ticket
// binding. Known senders and replies into live threads always pass.
func (ig *Ingestor) filterVerdict(ctx context.Context, in *mail.Inbound, sender *domain.User) (string, []string) {
	if ig.classifier == nil || !ig.cfg.SpamFilterEnabled {
		return "", nil
	}
	if sender != nil {
		return "", nil
	}
	if in.InReplyTo != "" {
		if tid, err := ig.emails.TicketForMessageID(ctx, mail.CanonicalMessageID(in.InReplyTo)); err == nil && tid != nil {
			// The reply exception covers live threads only; a reply into a
			// closed or trashed ticket gets no bypass.
			if t, err := ig.tickets.Get(ctx, *tid); err == nil && t.IsOpen() {
				return "", nil
			}
		}
	}

	res := ig.classifier.Classify(spam.Input{
		Subject:         in.Subject,
		BodyText:        in.BodyText,
		From:            in.From,
		ListUnsubscribe: in.ListUnsubscribe,
	})
	switch res.Category {
	case spam.Spam:
		return "spam", res.Reasons
	case spam.Promotion:
		if ig.cfg.FilterPromotions {
			return "promotion", res.Reasons
		}
	}
	return "", nil
}

// bindToTicket routes the message into the conversation store: a reply to
// a recorded message continues that ticket, anything else goes through the
// subject-continuation ingest path.
func (ig *Ingestor) bindToTicket(ctx context.Context, acct *domain.EmailAccount, in *mail.Inbound, sender *domain.User) (*domain.Ticket, *domain.Message, error) {
	body := in.BodyText
	if body == "" && in.BodyHTML != "" {
		body = in.BodyHTML
	}
	if body == "" {
		body = "(empty message)"
	}

	for _, ref := range ig.replyRefs(in) {
		tid, err := ig.emails.TicketForMessageID(ctx, ref)
		if err != nil || tid == nil {
			continue
		}
		t, err := ig.tickets.Get(ctx, *tid)
		if err != nil || !t.IsOpen() {
			continue
		}
		msg, trig, err := ig.tickets.AppendCustomerReply(ctx, *tid, body)
		if err == nil {
			ig.fireTrigger(trig)
			return t, msg, nil
		}
		// Fall through to fresh ingest when the thread refused the append.
	}

	var userID, orgID *string
	if sender != nil {
		userID = &sender.ID
		orgID = sender.OrganizationID
	}
	if orgID == nil {
		orgID = acct.OrganizationID
	}

	t, msg, trig, err := ig.tickets.IngestCustomerMessage(ctx, ticket.IngestInput{
		Channel:        domain.SourceEmail,
		UserID:         userID,
		OrganizationID: orgID,
		Context:        "email:" + acct.EmailAddress,
		Subject:        in.Subject,
		Body:           body,
		SuppressAI:     in.AutoSubmitted,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ingest inbound email: %w", err)
	}
	ig.fireTrigger(trig)
	return t, msg, nil
}

func (ig *Ingestor) fireTrigger(trig *domain.AiTrigger) {
	if trig == nil || ig.replies == nil {
		return
	}
	ig.replies.Trigger(*trig)
}

func (ig *Ingestor) replyRefs(in *mail.Inbound) []string {
	var refs []string
	if in.InReplyTo != "" {
		refs = append(refs, mail.CanonicalMessageID(in.InReplyTo))
	}
	// References runs oldest-first; check newest ancestors first.
	for i := len(in.References) - 1; i >= 0; i-- {
		refs = append(refs, mail.CanonicalMessageID(in.References[i]))
	}
	return refs
}

func (ig *Ingestor) recordEmail(ctx context.Context, acct *domain.EmailAccount, in *mail.Inbound, msgID string, ticketID *string, status domain.EmailStatus) error {
	now := ig.clock.Now()
	receivedAt := in.Date
	if receivedAt.IsZero() {
		receivedAt = now
	}
	rec := &domain.EmailMessage{
		ID:             uuid.New().String(),
		TicketID:       ticketID,
		EmailAccountID: acct.ID,
		MessageID:      msgID,
		Subject:        in.Subject,
		FromAddress:    in.From,
		ToAddresses:    in.To,
		CcAddresses:    in.Cc,
		Status:         status,
		Direction:      domain.DirectionInbound,
		HasAttachments: len(in.Attachments) > 0,
		CreatedAt:      now,
		ReceivedAt:     &receivedAt,
	}
	if in.BodyText != "" {
		rec.BodyText = &in.BodyText
	}
	if in.BodyHTML != "" {
		rec.BodyHTML = &in.BodyHTML
	}
	if in.InReplyTo != "" {
		canonical := mail.CanonicalMessageID(in.InReplyTo)
		rec.InReplyTo = &canonical
	}
	if len(in.References) > 0 {
		refs := "<" + strings.Join(in.References, "> <") + ">"
		rec.References = &refs
	}
	return ig.emails.CreateEmail(ctx, rec)
}

// storeAttachments is best-effort: a failed attachment never fails the
// ingest of the message itself.
func (ig *Ingestor) storeAttachments(ctx context.Context, ticketID, messageID string, sender *domain.User, atts []mail.InboundAttachment) {
	if ig.blobs == nil || ig.attachments == nil {
		return
	}
	uploadedBy := "inbound"
	if sender != nil {
		uploadedBy = sender.ID
	}
	for _, att := range atts {
		key := fmt.Sprintf("tickets/%s/%s", ticketID, uuid.New().String())
		if err := ig.blobs.Put(ctx, key, bytes.NewReader(att.Data), int64(len(att.Data)), att.MimeType); err != nil {
			log.Printf("[Ingestor] Store attachment %s for ticket %s: %v", att.FileName, ticketID, err)
			continue
		}
		rec := &domain.Attachment{
			ID:         uuid.New().String(),
			TicketID:   ticketID,
			MessageID:  &messageID,
			FileName:   att.FileName,
			FilePath:   key,
			FileSize:   int64(len(att.Data)),
			MimeType:   att.MimeType,
			UploadedBy: uploadedBy,
			CreatedAt:  ig.clock.Now(),
		}
		if err := ig.attachments.CreateAttachment(ctx, rec); err != nil {
			log.Printf("[Ingestor] Record attachment %s for ticket %s: %v", att.FileName, ticketID, err)
			if derr := ig.blobs.Delete(ctx, key); derr != nil {
				log.Printf("[Ingestor] Orphan blob %s: %v", key, derr)
			}
		}
	}
}
