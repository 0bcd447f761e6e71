package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return db, mock, func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	}
}

func ticketRows(ids ...string) *sqlmock.Rows {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "organization_id", "user_id", "context", "subject", "status",
		"priority", "source", "category", "assigned_to", "sla_id", "is_deleted",
		"deleted_at", "first_response_at", "last_response_at", "resolved_at",
		"created_at", "updated_at",
	})
	for _, id := range ids {
		rows.AddRow(id, nil, "u-1", "billing", "Invoice question", "open",
			"medium", "web", nil, nil, nil, false, nil, nil, nil, nil, now, now)
	}
	return rows
}

func TestGetTicket(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id = \\$1").
		WithArgs("t-1").
		WillReturnRows(ticketRows("t-1"))

	got, err := repo.GetTicket(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "t-1" || got.Status != domain.TicketOpen {
		t.Fatalf("ticket = %+v", got)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTicket(context.Background(), "missing")
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateTicketNormalizesSubjectKey(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	uid := "u-1"
	tk := &domain.Ticket{
		ID:        "t-1",
		UserID:    &uid,
		Context:   "billing",
		Subject:   "RE: Invoice question",
		Status:    domain.TicketOpen,
		Priority:  domain.PriorityMedium,
		Source:    domain.SourceEmail,
		CreatedAt: now,
	}

	// subject_key is the normalized subject, not the raw one.
	mock.ExpectExec("INSERT INTO tickets").
		WithArgs("t-1", nil, &uid, "billing", "RE: Invoice question",
			"invoice question", "open", "medium", "email",
			nil, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CreateTicket(context.Background(), tk); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestFindContinuationUserScoped(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	uid := "u-1"
	mock.ExpectQuery("SELECT (.+) FROM tickets\\s+WHERE context = \\$1 AND subject_key = \\$2(.+)AND user_id = \\$3").
		WithArgs("billing", "invoice question", "u-1").
		WillReturnRows(ticketRows("t-1"))

	got, err := repo.FindContinuation(context.Background(), "billing", "invoice question", &uid)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "t-1" {
		t.Fatalf("ticket = %+v", got)
	}
}

func TestFindContinuationNoMatch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM tickets\\s+WHERE context = \\$1 AND subject_key = \\$2(.+)AND user_id IS NULL").
		WithArgs("billing", "invoice question").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindContinuation(context.Background(), "billing", "invoice question", nil)
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTicketBuildsSparseSet(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	status := domain.TicketHumanAssigned
	agent := "agent@example.com"
	mock.ExpectExec("UPDATE tickets SET status = \\$1, assigned_to = \\$2, updated_at = NOW\\(\\) WHERE id = \\$3").
		WithArgs("human_assigned", "agent@example.com", "t-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateTicket(context.Background(), "t-1", ticket.UpdateFields{
		Status:     &status,
		AssignedTo: &agent,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestUpdateTicketNoFieldsIsNoOp(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	// No expectations registered: an empty update must not hit the db.
	if err := repo.UpdateTicket(context.Background(), "t-1", ticket.UpdateFields{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
}

func TestUpdateTicketMissingRow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	status := domain.TicketClosed
	mock.ExpectExec("UPDATE tickets SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateTicket(context.Background(), "missing", ticket.UpdateFields{Status: &status})
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetDeletedRollsBackPartialBatch(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	// Two ids requested, only one row touched: the batch fails.
	mock.ExpectExec("UPDATE tickets SET is_deleted = \\$1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := repo.SetDeleted(context.Background(), []string{"t-1", "t-2"}, true, &now)
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHardDeleteCascades(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM attachments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM ticket_tags").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM routing_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM sla_violations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE email_messages SET ticket_id = NULL").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM messages").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM tickets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.HardDeleteTickets(context.Background(), []string{"t-1"}); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
}

func TestListTicketsAppliesFilter(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tickets WHERE is_deleted = \\$1 AND status = \\$2").
		WithArgs(false, "open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT (.+) FROM tickets WHERE is_deleted = \\$1 AND status = \\$2 ORDER BY created_at DESC").
		WithArgs(false, "open", 50, 0).
		WillReturnRows(ticketRows("t-1", "t-2"))

	out, total, err := repo.ListTickets(context.Background(), ticket.ListFilter{Status: "open"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(out) != 2 {
		t.Fatalf("total = %d, rows = %d", total, len(out))
	}
}

func TestAppendAndListMessages(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewTicketRepo(db)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m := &domain.Message{
		ID: "m-1", TicketID: "t-1", Sender: domain.SenderCustomer,
		Body: "hello", CreatedAt: now,
	}
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("m-1", "t-1", "customer", "hello", nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.AppendMessage(context.Background(), m); err != nil {
		t.Fatalf("append: %v", err)
	}

	mock.ExpectQuery("SELECT id, ticket_id, sender, message, confidence, success, created_at\\s+FROM messages").
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ticket_id", "sender", "message", "confidence", "success", "created_at",
		}).AddRow("m-1", "t-1", "customer", "hello", nil, nil, now))

	msgs, err := repo.ListMessages(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}
}
