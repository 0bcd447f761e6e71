package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu       sync.Mutex
	tickets  map[string]*domain.Ticket
	messages map[string][]domain.Message
	atts     []domain.Attachment
}

func newMemRepo() *memRepo {
	return &memRepo{
		tickets:  make(map[string]*domain.Ticket),
		messages: make(map[string][]domain.Message),
	}
}

func (r *memRepo) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) FindContinuation(_ context.Context, tctx, subject string, userID *string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.IsDeleted || t.Status == domain.TicketClosed {
			continue
		}
		if t.Context != tctx || mail.NormalizeSubject(t.Subject) != subject {
			continue
		}
		if userID == nil || t.UserID == nil || *t.UserID != *userID {
			continue
		}
		cp := *t
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *memRepo) CreateTicket(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tickets[t.ID] = &cp
	return nil
}

func (r *memRepo) UpdateTicket(_ context.Context, id string, u UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Category != nil {
		t.Category = u.Category
	}
	if u.AssignedTo != nil {
		t.AssignedTo = u.AssignedTo
	}
	if u.ClearAssignedTo {
		t.AssignedTo = nil
	}
	if u.SlaID != nil {
		t.SlaID = u.SlaID
	}
	if u.FirstResponseAt != nil {
		t.FirstResponseAt = u.FirstResponseAt
	}
	if u.LastResponseAt != nil {
		t.LastResponseAt = u.LastResponseAt
	}
	if u.ResolvedAt != nil {
		t.ResolvedAt = u.ResolvedAt
	}
	return nil
}

func (r *memRepo) ListTickets(_ context.Context, f ListFilter) ([]domain.Ticket, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.IsDeleted != f.Deleted {
			continue
		}
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (r *memRepo) SetDeleted(_ context.Context, ids []string, deleted bool, deletedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		t, ok := r.tickets[id]
		if !ok {
			return ErrNotFound
		}
		t.IsDeleted = deleted
		t.DeletedAt = deletedAt
	}
	return nil
}

func (r *memRepo) HardDeleteTickets(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.tickets, id)
		delete(r.messages, id)
	}
	return nil
}

func (r *memRepo) ListExpiredTrash(_ context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, t := range r.tickets {
		if t.IsDeleted && t.DeletedAt != nil && t.DeletedAt.Before(cutoff) {
			out = append(out, *t)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memRepo) AppendMessage(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.TicketID] = append(r.messages[m.TicketID], *m)
	return nil
}

func (r *memRepo) ListMessages(_ context.Context, ticketID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages[ticketID]...), nil
}

func (r *memRepo) ListAttachments(_ context.Context, ticketIDs []string) ([]domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Attachment
	for _, a := range r.atts {
		for _, id := range ticketIDs {
			if a.TicketID == id {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// hookRecorder captures SLA lifecycle notifications.
type hookRecorder struct {
	mu        sync.Mutex
	responded []string
	closed    []string
}

func (h *hookRecorder) AdminResponded(_ context.Context, t *domain.Ticket) {
	h.mu.Lock()
	h.responded = append(h.responded, t.ID)
	h.mu.Unlock()
}

func (h *hookRecorder) TicketClosed(_ context.Context, t *domain.Ticket) {
	h.mu.Lock()
	h.closed = append(h.closed, t.ID)
	h.mu.Unlock()
}

func strptr(s string) *string { return &s }

func newTestService() (*Service, *memRepo, *clock.Fake) {
	repo := newMemRepo()
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewService(repo, clk, metrics.Noop{}), repo, clk
}

func ingest(t *testing.T, svc *Service, userID string) *domain.Ticket {
	t.Helper()
	tk, _, _, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceWeb,
		UserID:  strptr(userID),
		Context: "billing",
		Subject: "Invoice question",
		Body:    "Why was I charged twice?",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return tk
}

func TestIngestCreatesTicketAndTrigger(t *testing.T) {
	svc, repo, _ := newTestService()

	tk, msg, trig, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceWeb,
		UserID:  strptr("u1"),
		Context: "billing",
		Subject: "Invoice question",
		Body:    "Why was I charged twice?",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if tk.Status != domain.TicketOpen {
		t.Fatalf("status = %s, want open", tk.Status)
	}
	if tk.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %s, want default medium", tk.Priority)
	}
	if msg.Sender != domain.SenderCustomer {
		t.Fatalf("sender = %s", msg.Sender)
	}
	if trig == nil {
		t.Fatal("expected an AI trigger for a fresh web ticket")
	}
	if trig.TicketID != tk.ID || trig.MessageID != msg.ID {
		t.Fatalf("trigger %+v does not match ticket %s / message %s", trig, tk.ID, msg.ID)
	}
	msgs, _ := repo.ListMessages(context.Background(), tk.ID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
}

func TestIngestContinuesOpenTicket(t *testing.T) {
	svc, _, _ := newTestService()
	first := ingest(t, svc, "u1")

	// Same context, same normalized subject, same user: continuation.
	second, _, _, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceEmail,
		UserID:  strptr("u1"),
		Context: "billing",
		Subject: "RE: Invoice question",
		Body:    "Still waiting.",
	})
	if err != nil {
		t.Fatalf("ingest continuation: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("continuation created a new ticket: %s vs %s", second.ID, first.ID)
	}

	// Different user: new ticket even with an identical subject.
	other, _, _, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceWeb,
		UserID:  strptr("u2"),
		Context: "billing",
		Subject: "Invoice question",
		Body:    "Me too.",
	})
	if err != nil {
		t.Fatalf("ingest other user: %v", err)
	}
	if other.ID == first.ID {
		t.Fatal("tickets from different users were merged")
	}
}

func TestIngestClosedTicketStartsNewThread(t *testing.T) {
	svc, _, _ := newTestService()
	first := ingest(t, svc, "u1")
	if err := svc.CloseTicket(context.Background(), first.ID, "admin@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := ingest(t, svc, "u1")
	if second.ID == first.ID {
		t.Fatal("reply after close reopened the old ticket")
	}
}

func TestIngestSuppressAI(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, trig, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel:    domain.SourceEmail,
		UserID:     strptr("u1"),
		Context:    "support",
		Subject:    "Out of office",
		Body:       "I am away until Monday.",
		SuppressAI: true,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if trig != nil {
		t.Fatal("SuppressAI: expected no trigger")
	}
}

func TestIngestChatChannelNeverTriggers(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, trig, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceChat,
		UserID:  strptr("u1"),
		Context: "support",
		Subject: "Chat session",
		Body:    "hi",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if trig != nil {
		t.Fatal("chat channel: expected no trigger")
	}
}

func TestIngestValidation(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, _, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel: domain.SourceWeb,
		Subject: "No context",
		Body:    "body",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	bad := domain.TicketPriority("frantic")
	_, _, _, err = svc.IngestCustomerMessage(context.Background(), IngestInput{
		Channel:  domain.SourceWeb,
		Context:  "billing",
		Subject:  "s",
		Body:     "b",
		Priority: &bad,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for bad priority", err)
	}
}

func TestAppendCustomerReplyClosedTicket(t *testing.T) {
	svc, _, _ := newTestService()
	tk := ingest(t, svc, "u1")
	if err := svc.CloseTicket(context.Background(), tk.ID, "admin@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, _, err := svc.AppendCustomerReply(context.Background(), tk.ID, "hello?")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestAppendCustomerReplyAssignedNoTrigger(t *testing.T) {
	svc, _, _ := newTestService()
	tk := ingest(t, svc, "u1")
	if err := svc.AssignToAdmin(context.Background(), tk.ID, "agent@example.com"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	msg, trig, err := svc.AppendCustomerReply(context.Background(), tk.ID, "any news?")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if msg == nil {
		t.Fatal("message not stored")
	}
	if trig != nil {
		t.Fatal("assigned ticket still produced a trigger")
	}
}

func TestAppendAiReplyEligibilityRecheck(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")

	// Escalation between generation and commit voids the reply.
	if err := svc.Escalate(context.Background(), tk.ID); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	_, err := svc.AppendAiReply(context.Background(), tk.ID, "Thanks for reaching out!", 0.92, true)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	msgs, _ := repo.ListMessages(context.Background(), tk.ID)
	for _, m := range msgs {
		if m.Sender == domain.SenderAI {
			t.Fatal("rejected AI reply was stored anyway")
		}
	}
}

func TestAppendAiReplyStoresConfidence(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")

	msg, err := svc.AppendAiReply(context.Background(), tk.ID, "Here is what happened.", 0.87, true)
	if err != nil {
		t.Fatalf("ai reply: %v", err)
	}
	if msg.Confidence == nil || *msg.Confidence != 0.87 {
		t.Fatalf("confidence = %v, want 0.87", msg.Confidence)
	}
	if msg.Success == nil || !*msg.Success {
		t.Fatalf("success = %v, want true", msg.Success)
	}
	msgs, _ := repo.ListMessages(context.Background(), tk.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
}

func TestAppendAdminReplyStampsResponseTimes(t *testing.T) {
	svc, repo, clk := newTestService()
	hooks := &hookRecorder{}
	svc.SetSlaHooks(hooks)
	tk := ingest(t, svc, "u1")

	clk.Advance(30 * time.Minute)
	firstAt := clk.Now()
	if _, err := svc.AppendAdminReply(context.Background(), tk.ID, "agent@example.com", "Looking into it."); err != nil {
		t.Fatalf("admin reply: %v", err)
	}

	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.FirstResponseAt == nil || !got.FirstResponseAt.Equal(firstAt) {
		t.Fatalf("first_response_at = %v, want %v", got.FirstResponseAt, firstAt)
	}

	clk.Advance(time.Hour)
	if _, err := svc.AppendAdminReply(context.Background(), tk.ID, "agent@example.com", "Fixed."); err != nil {
		t.Fatalf("second admin reply: %v", err)
	}
	got, _ = repo.GetTicket(context.Background(), tk.ID)
	if !got.FirstResponseAt.Equal(firstAt) {
		t.Fatal("first_response_at moved on second reply")
	}
	if !got.LastResponseAt.Equal(clk.Now()) {
		t.Fatalf("last_response_at = %v, want %v", got.LastResponseAt, clk.Now())
	}
	if len(hooks.responded) != 2 {
		t.Fatalf("AdminResponded called %d times, want 2", len(hooks.responded))
	}
}

func TestAssignToAdmin(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")

	if err := svc.AssignToAdmin(context.Background(), tk.ID, "agent@example.com"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.Status != domain.TicketHumanAssigned {
		t.Fatalf("status = %s, want human_assigned", got.Status)
	}
	if got.AssignedTo == nil || *got.AssignedTo != "agent@example.com" {
		t.Fatalf("assigned_to = %v", got.AssignedTo)
	}

	// Same admin twice is a no-op.
	if err := svc.AssignToAdmin(context.Background(), tk.ID, "agent@example.com"); err != nil {
		t.Fatalf("reassign same admin: %v", err)
	}

	if err := svc.CloseTicket(context.Background(), tk.ID, "agent@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := svc.AssignToAdmin(context.Background(), tk.ID, "other@example.com")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("assign closed: err = %v, want ErrInvalidTransition", err)
	}
}

func TestEscalateAppendsSystemNote(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")

	if err := svc.Escalate(context.Background(), tk.ID); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.Status != domain.TicketHumanAssigned {
		t.Fatalf("status = %s, want human_assigned", got.Status)
	}
	if got.AssignedTo != nil {
		t.Fatalf("escalate assigned an agent: %v", *got.AssignedTo)
	}

	msgs, _ := repo.ListMessages(context.Background(), tk.ID)
	last := msgs[len(msgs)-1]
	if last.Sender != domain.SenderSystem {
		t.Fatalf("last sender = %s, want system", last.Sender)
	}

	// Escalating again is a no-op and adds no second note.
	if err := svc.Escalate(context.Background(), tk.ID); err != nil {
		t.Fatalf("re-escalate: %v", err)
	}
	again, _ := repo.ListMessages(context.Background(), tk.ID)
	if len(again) != len(msgs) {
		t.Fatal("idempotent escalate appended another message")
	}
}

func TestCloseTicket(t *testing.T) {
	svc, repo, clk := newTestService()
	hooks := &hookRecorder{}
	svc.SetSlaHooks(hooks)
	tk := ingest(t, svc, "u1")

	clk.Advance(2 * time.Hour)
	if err := svc.CloseTicket(context.Background(), tk.ID, "admin@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.Status != domain.TicketClosed {
		t.Fatalf("status = %s, want closed", got.Status)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(clk.Now()) {
		t.Fatalf("resolved_at = %v, want %v", got.ResolvedAt, clk.Now())
	}

	// Closing again is a no-op and does not re-fire the hook.
	if err := svc.CloseTicket(context.Background(), tk.ID, "admin@example.com"); err != nil {
		t.Fatalf("re-close: %v", err)
	}
	if len(hooks.closed) != 1 {
		t.Fatalf("TicketClosed called %d times, want 1", len(hooks.closed))
	}
}

// fixedSla resolves every priority to one definition.
type fixedSla struct{ def *domain.SlaDefinition }

func (f fixedSla) ActiveForPriority(context.Context, *string, domain.TicketPriority) (*domain.SlaDefinition, error) {
	return f.def, nil
}

func TestUpdatePriorityRelinksSla(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")

	def := &domain.SlaDefinition{ID: "sla-urgent"}
	svc.SetSlaSource(fixedSla{def: def})

	if err := svc.UpdatePriority(context.Background(), tk.ID, domain.PriorityUrgent); err != nil {
		t.Fatalf("update priority: %v", err)
	}
	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.Priority != domain.PriorityUrgent {
		t.Fatalf("priority = %s, want urgent", got.Priority)
	}
	if got.SlaID == nil || *got.SlaID != "sla-urgent" {
		t.Fatalf("sla_id = %v, want sla-urgent", got.SlaID)
	}

	if err := svc.UpdatePriority(context.Background(), tk.ID, domain.TicketPriority("frantic")); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSoftDeleteRequiresClosed(t *testing.T) {
	svc, repo, _ := newTestService()
	open := ingest(t, svc, "u1")
	closed := ingest(t, svc, "u2")
	if err := svc.CloseTicket(context.Background(), closed.ID, "admin@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}

	// All-or-nothing: one open ticket in the batch fails the whole call.
	err := svc.SoftDelete(context.Background(), []string{closed.ID, open.ID})
	if !errors.Is(err, ErrNotClosed) {
		t.Fatalf("err = %v, want ErrNotClosed", err)
	}
	got, _ := repo.GetTicket(context.Background(), closed.ID)
	if got.IsDeleted {
		t.Fatal("partial batch soft-deleted the closed ticket")
	}

	if err := svc.SoftDelete(context.Background(), []string{closed.ID}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, _ = repo.GetTicket(context.Background(), closed.ID)
	if !got.IsDeleted || got.DeletedAt == nil {
		t.Fatal("ticket not marked deleted")
	}

	if err := svc.SoftDelete(context.Background(), []string{closed.ID}); !errors.Is(err, ErrDeleted) {
		t.Fatalf("double delete: err = %v, want ErrDeleted", err)
	}
}

func TestRestore(t *testing.T) {
	svc, repo, _ := newTestService()
	tk := ingest(t, svc, "u1")
	if err := svc.CloseTicket(context.Background(), tk.ID, "admin@example.com"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := svc.SoftDelete(context.Background(), []string{tk.ID}); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if err := svc.Restore(context.Background(), []string{tk.ID}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ := repo.GetTicket(context.Background(), tk.ID)
	if got.IsDeleted || got.DeletedAt != nil {
		t.Fatal("restore left the deleted flag set")
	}

	// Restoring a live ticket is an invalid transition.
	if err := svc.Restore(context.Background(), []string{tk.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestPurgeExpiredPerOrg(t *testing.T) {
	svc, repo, clk := newTestService()

	mk := func(user string, org *string) *domain.Ticket {
		tk, _, _, err := svc.IngestCustomerMessage(context.Background(), IngestInput{
			Channel:        domain.SourceWeb,
			UserID:         strptr(user),
			OrganizationID: org,
			Context:        "support",
			Subject:        "Cleanup " + user,
			Body:           "body",
		})
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if err := svc.CloseTicket(context.Background(), tk.ID, "admin@example.com"); err != nil {
			t.Fatalf("close: %v", err)
		}
		if err := svc.SoftDelete(context.Background(), []string{tk.ID}); err != nil {
			t.Fatalf("soft delete: %v", err)
		}
		return tk
	}

	longRetention := strptr("org-long")
	defTicket := mk("u1", nil)
	orgTicket := mk("u2", longRetention)

	clk.Advance(40 * 24 * time.Hour)

	// Default retention 30d; org-long keeps trash for 90d.
	cutoffFor := func(orgID *string) time.Time {
		if orgID != nil && *orgID == *longRetention {
			return clk.Now().Add(-90 * 24 * time.Hour)
		}
		return clk.Now().Add(-30 * 24 * time.Hour)
	}
	purged, err := svc.PurgeExpiredPerOrg(context.Background(), clk.Now().Add(-30*24*time.Hour), cutoffFor, 100)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, err := repo.GetTicket(context.Background(), defTicket.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("default-retention ticket survived the purge")
	}
	if _, err := repo.GetTicket(context.Background(), orgTicket.ID); err != nil {
		t.Fatal("long-retention ticket was purged early")
	}
}
