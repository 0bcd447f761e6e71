package outbound

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// memEmailRepo is an in-memory Repository for dispatcher tests.
type memEmailRepo struct {
	mu        sync.Mutex
	emails    map[string]*domain.EmailMessage
	templates map[string]*domain.EmailTemplate
	inbound   map[string]*domain.EmailMessage // latest per ticket
}

func newMemEmailRepo() *memEmailRepo {
	return &memEmailRepo{
		emails:    make(map[string]*domain.EmailMessage),
		templates: make(map[string]*domain.EmailTemplate),
		inbound:   make(map[string]*domain.EmailMessage),
	}
}

func (r *memEmailRepo) CreateEmail(_ context.Context, m *domain.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.emails[m.ID] = &cp
	return nil
}

func (r *memEmailRepo) UpdateEmailStatus(_ context.Context, id string, status domain.EmailStatus, errorMessage *string, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.emails[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.ErrorMessage = errorMessage
	m.SentAt = sentAt
	return nil
}

func (r *memEmailRepo) ListEmailsForTicket(_ context.Context, ticketID string) ([]domain.EmailMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailMessage
	for _, m := range r.emails {
		if m.TicketID != nil && *m.TicketID == ticketID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memEmailRepo) LatestInboundForTicket(_ context.Context, ticketID string) (*domain.EmailMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.inbound[ticketID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memEmailRepo) GetTemplate(_ context.Context, id string) (*domain.EmailTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memEmailRepo) ListTemplates(_ context.Context, _ *string) ([]domain.EmailTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailTemplate
	for _, t := range r.templates {
		out = append(out, *t)
	}
	return out, nil
}

func (r *memEmailRepo) CreateTemplate(_ context.Context, t *domain.EmailTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r *memEmailRepo) UpdateTemplate(_ context.Context, t *domain.EmailTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	r.templates[t.ID] = &cp
	return nil
}

func (r *memEmailRepo) DeleteTemplate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

// fakeTickets serves a single ticket.
type fakeTickets struct{ t *domain.Ticket }

func (f fakeTickets) Get(_ context.Context, id string) (*domain.Ticket, error) {
	if f.t == nil || f.t.ID != id {
		return nil, errors.New("ticket not found")
	}
	cp := *f.t
	return &cp, nil
}

// fakeUsers serves a single user.
type fakeUsers struct{ u *domain.User }

func (f fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	if f.u == nil || f.u.ID != id {
		return nil, errors.New("user not found")
	}
	cp := *f.u
	return &cp, nil
}

// scriptedProvider returns canned errors per attempt.
type scriptedProvider struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(_ context.Context, _ *mail.Envelope) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= len(p.errs) {
		return "", p.errs[p.calls-1]
	}
	return "provider-id", nil
}

func (p *scriptedProvider) TestConnection(context.Context) error { return nil }

func newTestDispatcher(repo *memEmailRepo, tickets fakeTickets, users fakeUsers) *Dispatcher {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewDispatcher(repo, nil, nil, mail.NewTemplateEngine(), tickets, users, clk, metrics.Noop{}, 2)
}

func testTicket() *domain.Ticket {
	uid := "u-1"
	return &domain.Ticket{
		ID:      "t-1",
		UserID:  &uid,
		Context: "billing",
		Subject: "Invoice question",
		Status:  domain.TicketOpen,
	}
}

func TestSendWithRetryTransientThenSuccess(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})
	p := &scriptedProvider{errs: []error{
		mail.Transientf("smtp 421 busy"),
		mail.Transientf("smtp 451 greylisted"),
	}}

	if err := d.sendWithRetry(context.Background(), p, &mail.Envelope{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 3", p.calls)
	}
}

func TestSendWithRetryPermanentFailsFast(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})
	perm := errors.New("smtp 550 mailbox unavailable")
	p := &scriptedProvider{errs: []error{perm}}

	err := d.sendWithRetry(context.Background(), p, &mail.Envelope{})
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want no retry on a permanent failure", p.calls)
	}
}

func TestSendWithRetryExhaustsAttempts(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})
	p := &scriptedProvider{errs: []error{
		mail.Transientf("down"),
		mail.Transientf("down"),
		mail.Transientf("still down"),
	}}

	err := d.sendWithRetry(context.Background(), p, &mail.Envelope{})
	if err == nil || !mail.IsTransient(err) {
		t.Fatalf("err = %v, want the last transient error", err)
	}
	if p.calls != sendMaxAttempts {
		t.Fatalf("calls = %d, want %d", p.calls, sendMaxAttempts)
	}
}

func TestRenderPlainBody(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})
	tk := testTicket()
	owner := &domain.User{ID: "u-1", Name: "Ada", Email: "ada@example.com"}

	subject, text, html, err := d.render(context.Background(), tk, owner, SendInput{
		Body:      "Hello {{customer_name}}, about ticket {{ticket_id}}.",
		AdminName: "Sam",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Re: Invoice question" {
		t.Fatalf("subject = %q, want threaded default", subject)
	}
	if text != "Hello Ada, about ticket t-1." {
		t.Fatalf("text = %q", text)
	}
	if html != "" {
		t.Fatalf("html = %q, want empty for plain sends", html)
	}

	if _, _, _, err := d.render(context.Background(), tk, owner, SendInput{Body: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for empty body", err)
	}
}

func TestRenderStoredTemplate(t *testing.T) {
	repo := newMemEmailRepo()
	d := newTestDispatcher(repo, fakeTickets{}, fakeUsers{})

	html := "<p>{{message}}</p>"
	tpl, err := d.CreateTemplate(context.Background(), nil, TemplateInput{
		Name:     "first response",
		Subject:  "Re: {{subject}}",
		BodyText: "Hi {{customer_name}},\n\n{{message}}\n\n{{admin_name}}",
		BodyHTML: &html,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	tk := testTicket()
	owner := &domain.User{ID: "u-1", Name: "Ada", Email: "ada@example.com"}
	subject, text, gotHTML, err := d.render(context.Background(), tk, owner, SendInput{
		TemplateID: &tpl.ID,
		Body:       "We are on it.",
		AdminName:  "Sam",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Re: Invoice question" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(text, "Hi Ada,") || !strings.Contains(text, "We are on it.") {
		t.Fatalf("text = %q", text)
	}
	if gotHTML != "<p>We are on it.</p>" {
		t.Fatalf("html = %q", gotHTML)
	}
}

func TestTemplateValidationRejectsBadLiquid(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})

	_, err := d.CreateTemplate(context.Background(), nil, TemplateInput{
		Name:     "broken",
		Subject:  "ok",
		BodyText: "{% if %}", // unclosed, malformed tag
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	_, err = d.CreateTemplate(context.Background(), nil, TemplateInput{Name: "", Subject: "s", BodyText: "b"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for missing name", err)
	}
}

func TestThreadHeadersContinueInbound(t *testing.T) {
	repo := newMemEmailRepo()
	d := newTestDispatcher(repo, fakeTickets{}, fakeUsers{})

	tid := "t-1"
	refs := "<root@example.com> <mid-1@example.com>"
	repo.inbound[tid] = &domain.EmailMessage{
		TicketID:   &tid,
		MessageID:  "mid-2@example.com",
		References: &refs,
	}

	env := &mail.Envelope{MessageID: "out-1@helpdesk.example.com"}
	d.threadHeaders(context.Background(), tid, env)

	if env.InReplyTo != "mid-2@example.com" {
		t.Fatalf("in-reply-to = %q", env.InReplyTo)
	}
	want := []string{"root@example.com", "mid-1@example.com", "mid-2@example.com"}
	if len(env.References) != len(want) {
		t.Fatalf("references = %v, want %v", env.References, want)
	}
	for i := range want {
		if env.References[i] != want[i] {
			t.Fatalf("references[%d] = %q, want %q", i, env.References[i], want[i])
		}
	}
}

func TestThreadHeadersFreshThread(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})
	env := &mail.Envelope{MessageID: "out-1@helpdesk.example.com"}
	d.threadHeaders(context.Background(), "t-1", env)
	if env.InReplyTo != "" || len(env.References) != 0 {
		t.Fatalf("fresh thread picked up headers: %+v", env)
	}
}

func TestSendFromTicketNoRecipient(t *testing.T) {
	tk := testTicket()
	tk.UserID = nil
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{t: tk}, fakeUsers{})

	_, err := d.SendFromTicket(context.Background(), tk.ID, SendInput{Body: "hello"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestNewDispatcherNilMetricsDefaultsToNoop(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	d := NewDispatcher(newMemEmailRepo(), nil, nil, mail.NewTemplateEngine(), fakeTickets{}, fakeUsers{}, clk, nil, 2)
	if d.metrics == nil {
		t.Fatal("metrics not defaulted")
	}
	// Must not panic when a send records its outcome.
	d.metrics.OutboundSent("scripted", true)
}

func TestTemplateCrud(t *testing.T) {
	d := newTestDispatcher(newMemEmailRepo(), fakeTickets{}, fakeUsers{})

	tpl, err := d.CreateTemplate(context.Background(), nil, TemplateInput{
		Name:     "welcome",
		Subject:  "Hi {{customer_name}}",
		BodyText: "{{message}}",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	upd, err := d.UpdateTemplate(context.Background(), tpl.ID, TemplateInput{
		Name:     "welcome v2",
		Subject:  "Hello {{customer_name}}",
		BodyText: "{{message}}",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Name != "welcome v2" {
		t.Fatalf("name = %q", upd.Name)
	}

	if err := d.DeleteTemplate(context.Background(), tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.GetTemplate(context.Background(), tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
