package outbound

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
)

const (
	sendMaxAttempts = 3
	sendBaseDelay   = 500 * time.Millisecond
)

// TicketSource is the slice of the ticket service the dispatcher needs.
type TicketSource interface {
	Get(ctx context.Context, id string) (*domain.Ticket, error)
}

// Dispatcher sends ticket email. Sends are serialized per account by a
// bounded semaphore so one busy mailbox cannot starve the rest.
type Dispatcher struct {
	repo      Repository
	accounts  *emailaccount.Service
	providers *mail.ProviderFactory
	templates *mail.TemplateEngine
	tickets   TicketSource
	users     UserDirectory
	clock     clock.Clock
	metrics   metrics.Metrics

	maxPerAccount int
	mu            sync.Mutex
	sems          map[string]chan struct{}
}

// NewDispatcher creates an outbound dispatcher. maxPerAccount bounds
// concurrent sends through a single account.
func NewDispatcher(repo Repository, accounts *emailaccount.Service, providers *mail.ProviderFactory, templates *mail.TemplateEngine, tickets TicketSource, users UserDirectory, clk clock.Clock, m metrics.Metrics, maxPerAccount int) *Dispatcher {
	if maxPerAccount < 1 {
		maxPerAccount = 1
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Dispatcher{
		repo:          repo,
		accounts:      accounts,
		providers:     providers,
		templates:     templates,
		tickets:       tickets,
		users:         users,
		clock:         clk,
		metrics:       m,
		maxPerAccount: maxPerAccount,
		sems:          make(map[string]chan struct{}),
	}
}

// SendInput describes one outbound email. Body is liquid source; when
// TemplateID is set the stored template supplies subject and body and
// Body becomes the {{message}} variable.
type SendInput struct {
	AccountID  *string  `json:"account_id"`
	TemplateID *string  `json:"template_id"`
	To         []string `json:"to"`
	Cc         []string `json:"cc"`
	Bcc        []string `json:"bcc"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	AdminName  string   `json:"admin_name"`
}

// SendFromTicket renders and sends an email on the ticket's thread. The
// recipient defaults to the ticket owner; threading headers continue the
// most recent inbound message. Every attempt is recorded, failed sends
// included.
func (d *Dispatcher) SendFromTicket(ctx context.Context, ticketID string, in SendInput) (*domain.EmailMessage, error) {
	t, err := d.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var owner *domain.User
	if t.UserID != nil {
		owner, err = d.users.GetUser(ctx, *t.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve ticket owner: %w", err)
		}
	}
	to := in.To
	if len(to) == 0 {
		if owner == nil {
			return nil, fmt.Errorf("%w: ticket has no owner and no explicit recipients", ErrValidation)
		}
		to = []string{owner.Email}
	}

	acct, err := d.accounts.SelectSender(ctx, t.OrganizationID, in.AccountID)
	if err != nil {
		return nil, err
	}

	subject, bodyText, bodyHTML, err := d.render(ctx, t, owner, in)
	if err != nil {
		return nil, err
	}

	env := &mail.Envelope{
		From:      acct.EmailAddress,
		FromName:  acct.Name,
		To:        to,
		Cc:        in.Cc,
		Bcc:       in.Bcc,
		Subject:   subject,
		BodyText:  bodyText,
		BodyHTML:  bodyHTML,
		MessageID: mail.NewMessageID(acct.EmailAddress),
	}
	d.threadHeaders(ctx, ticketID, env)

	return d.deliver(ctx, acct, t, env)
}

// render produces subject and bodies, through the stored template when one
// is requested.
func (d *Dispatcher) render(ctx context.Context, t *domain.Ticket, owner *domain.User, in SendInput) (subject, bodyText, bodyHTML string, err error) {
	vars := mail.TemplateVars{
		TicketID:  t.ID,
		Subject:   t.Subject,
		Message:   in.Body,
		AdminName: in.AdminName,
	}
	if owner != nil {
		vars.CustomerName = owner.Name
		vars.CustomerEmail = owner.Email
	}

	if in.TemplateID != nil && *in.TemplateID != "" {
		tpl, err := d.repo.GetTemplate(ctx, *in.TemplateID)
		if err != nil {
			return "", "", "", err
		}
		subject, err = d.templates.Render(tpl.ID+":subject", tpl.Subject, vars)
		if err != nil {
			return "", "", "", fmt.Errorf("render template subject: %w", err)
		}
		bodyText, err = d.templates.Render(tpl.ID+":text", tpl.BodyText, vars)
		if err != nil {
			return "", "", "", fmt.Errorf("render template body: %w", err)
		}
		if tpl.BodyHTML != nil {
			bodyHTML, err = d.templates.Render(tpl.ID+":html", *tpl.BodyHTML, vars)
			if err != nil {
				return "", "", "", fmt.Errorf("render template html: %w", err)
			}
		}
		return subject, bodyText, bodyHTML, nil
	}

	if strings.TrimSpace(in.Body) == "" {
		return "", "", "", fmt.Errorf("%w: body is required without a template", ErrValidation)
	}
	subject = in.Subject
	if subject == "" {
		subject = "Re: " + t.Subject
	}
	bodyText, err = d.templates.Render("", in.Body, vars)
	if err != nil {
		return "", "", "", fmt.Errorf("render body: %w", err)
	}
	return subject, bodyText, "", nil
}

// threadHeaders continues the ticket's email thread off its most recent
// inbound message. A ticket with no inbound mail starts a fresh thread.
func (d *Dispatcher) threadHeaders(ctx context.Context, ticketID string, env *mail.Envelope) {
	last, err := d.repo.LatestInboundForTicket(ctx, ticketID)
	if err != nil {
		return
	}
	env.InReplyTo = last.MessageID
	if last.References != nil && *last.References != "" {
		for _, ref := range strings.Fields(*last.References) {
			env.References = append(env.References, mail.CanonicalMessageID(ref))
		}
	}
	env.References = append(env.References, last.MessageID)
}

// deliver records the email, sends it under the account semaphore with the
// transient-retry schedule, and finalizes the record's status.
func (d *Dispatcher) deliver(ctx context.Context, acct *domain.EmailAccount, t *domain.Ticket, env *mail.Envelope) (*domain.EmailMessage, error) {
	creds, err := d.accounts.Unseal(acct)
	if err != nil {
		return nil, err
	}
	provider, err := d.providers.ForAccount(acct, creds)
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	rec := &domain.EmailMessage{
		ID:             uuid.New().String(),
		TicketID:       &t.ID,
		EmailAccountID: acct.ID,
		MessageID:      env.MessageID,
		Subject:        env.Subject,
		BodyText:       &env.BodyText,
		FromAddress:    acct.EmailAddress,
		ToAddresses:    env.To,
		CcAddresses:    env.Cc,
		BccAddresses:   env.Bcc,
		Status:         domain.EmailPending,
		Direction:      domain.DirectionOutbound,
		CreatedAt:      now,
	}
	if env.InReplyTo != "" {
		rec.InReplyTo = &env.InReplyTo
	}
	if len(env.References) > 0 {
		refs := "<" + strings.Join(env.References, "> <") + ">"
		rec.References = &refs
	}
	if env.BodyHTML != "" {
		rec.BodyHTML = &env.BodyHTML
	}
	if err := d.repo.CreateEmail(ctx, rec); err != nil {
		return nil, err
	}

	sem := d.semaphore(acct.ID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	sendErr := d.sendWithRetry(ctx, provider, env)
	if sendErr != nil {
		msg := sendErr.Error()
		rec.Status = domain.EmailFailed
		rec.ErrorMessage = &msg
		if uerr := d.repo.UpdateEmailStatus(ctx, rec.ID, domain.EmailFailed, &msg, nil); uerr != nil {
			log.Printf("[OutboundDispatcher] Failed to record send failure for %s: %v", rec.ID, uerr)
		}
		d.metrics.OutboundSent(provider.Name(), false)
		return rec, fmt.Errorf("send via %s: %w", provider.Name(), sendErr)
	}

	sentAt := d.clock.Now()
	rec.Status = domain.EmailSent
	rec.SentAt = &sentAt
	if err := d.repo.UpdateEmailStatus(ctx, rec.ID, domain.EmailSent, nil, &sentAt); err != nil {
		log.Printf("[OutboundDispatcher] Sent %s but failed to record it: %v", rec.ID, err)
	}
	d.metrics.OutboundSent(provider.Name(), true)
	log.Printf("[OutboundDispatcher] Sent %s via %s to %s", rec.ID, provider.Name(), strings.Join(env.To, ", "))
	return rec, nil
}

// sendWithRetry retries transient failures with jittered exponential
// backoff. Permanent failures return immediately.
func (d *Dispatcher) sendWithRetry(ctx context.Context, p mail.Provider, env *mail.Envelope) error {
	var lastErr error
	delay := sendBaseDelay
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		if _, err := p.Send(ctx, env); err == nil {
			return nil
		} else if !mail.IsTransient(err) {
			return err
		} else {
			lastErr = err
		}
		if attempt == sendMaxAttempts {
			break
		}
		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

func (d *Dispatcher) semaphore(accountID string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.sems[accountID]
	if !ok {
		sem = make(chan struct{}, d.maxPerAccount)
		d.sems[accountID] = sem
	}
	return sem
}

// EmailsForTicket lists the ticket's email history, both directions.
func (d *Dispatcher) EmailsForTicket(ctx context.Context, ticketID string) ([]domain.EmailMessage, error) {
	if _, err := d.tickets.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	return d.repo.ListEmailsForTicket(ctx, ticketID)
}
