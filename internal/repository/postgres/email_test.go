package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/outbound"
)

func emailRow(id, messageID string) *sqlmock.Rows {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "ticket_id", "email_account_id", "message_id", "in_reply_to",
		"references", "subject", "body_text", "body_html", "from_address",
		"to_addresses", "cc_addresses", "bcc_addresses", "status", "direction",
		"has_attachments", "error_message", "created_at", "sent_at", "received_at",
	}).AddRow(id, "t-1", "acct-1", messageID, nil, nil, "Invoice question",
		"hello", nil, "alice@example.com", "{support@example.com}", "{}", "{}",
		"received", "inbound", false, nil, now, nil, now)
}

func TestCreateEmail(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tid := "t-1"
	body := "hello"
	m := &domain.EmailMessage{
		ID:             "e-1",
		TicketID:       &tid,
		EmailAccountID: "acct-1",
		MessageID:      "<mid-1@example.com>",
		Subject:        "Invoice question",
		BodyText:       &body,
		FromAddress:    "alice@example.com",
		ToAddresses:    []string{"support@example.com"},
		Status:         domain.EmailReceived,
		Direction:      domain.DirectionInbound,
		CreatedAt:      now,
		ReceivedAt:     &now,
	}

	mock.ExpectExec("INSERT INTO email_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.CreateEmail(context.Background(), m); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCreateEmailUniqueViolation(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectExec("INSERT INTO email_messages").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateEmail(context.Background(), &domain.EmailMessage{ID: "e-1"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestUpdateEmailStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE email_messages SET status = \\$1, error_message = \\$2, sent_at = \\$3").
		WithArgs("sent", nil, now, "e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateEmailStatus(context.Background(), "e-1", domain.EmailSent, nil, &now); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestUpdateEmailStatusMissingRow(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectExec("UPDATE email_messages SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateEmailStatus(context.Background(), "missing", domain.EmailFailed, nil, nil)
	if !errors.Is(err, outbound.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLatestInboundForTicket(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM email_messages\\s+WHERE ticket_id = \\$1 AND direction = 'inbound'").
		WithArgs("t-1").
		WillReturnRows(emailRow("e-1", "<mid-1@example.com>"))

	got, err := repo.LatestInboundForTicket(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("latest inbound: %v", err)
	}
	if got.MessageID != "<mid-1@example.com>" {
		t.Fatalf("message id = %q", got.MessageID)
	}
	if len(got.ToAddresses) != 1 || got.ToAddresses[0] != "support@example.com" {
		t.Fatalf("to = %v", got.ToAddresses)
	}
}

func TestLatestInboundNoRows(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT (.+) FROM email_messages\\s+WHERE ticket_id = \\$1 AND direction = 'inbound'").
		WithArgs("t-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.LatestInboundForTicket(context.Background(), "t-9")
	if !errors.Is(err, outbound.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHasMessageID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acct-1", "<mid-1@example.com>").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err := repo.HasMessageID(context.Background(), "acct-1", "<mid-1@example.com>")
	if err != nil {
		t.Fatalf("has message id: %v", err)
	}
	if !seen {
		t.Fatal("expected message id to be known")
	}
}

func TestTicketForMessageID(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT ticket_id FROM email_messages\\s+WHERE message_id = \\$1 AND ticket_id IS NOT NULL").
		WithArgs("<mid-1@example.com>").
		WillReturnRows(sqlmock.NewRows([]string{"ticket_id"}).AddRow("t-1"))

	got, err := repo.TicketForMessageID(context.Background(), "<mid-1@example.com>")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || *got != "t-1" {
		t.Fatalf("ticket = %v", got)
	}
}

func TestTicketForMessageIDUnknown(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectQuery("SELECT ticket_id FROM email_messages").
		WithArgs("<unknown@example.com>").
		WillReturnError(sql.ErrNoRows)

	got, err := repo.TicketForMessageID(context.Background(), "<unknown@example.com>")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Fatalf("ticket = %v, want nil", *got)
	}
}

func TestListFilteredScopesToAccount(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	acct := "acct-1"
	mock.ExpectQuery("SELECT (.+) FROM email_messages WHERE status = 'filtered' AND email_account_id = \\$1").
		WithArgs("acct-1", 50, 0).
		WillReturnRows(emailRow("e-1", "<mid-1@example.com>"))

	out, err := repo.ListFiltered(context.Background(), &acct, 0, 0)
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("rows = %d", len(out))
	}
}

func TestTemplateRowsAffectedMapping(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewEmailRepo(db)

	mock.ExpectExec("UPDATE email_templates SET").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateTemplate(context.Background(), &domain.EmailTemplate{ID: "tpl-1"})
	if !errors.Is(err, outbound.ErrNotFound) {
		t.Fatalf("update err = %v, want ErrNotFound", err)
	}

	mock.ExpectExec("DELETE FROM email_templates WHERE id = \\$1").
		WithArgs("tpl-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.DeleteTemplate(context.Background(), "tpl-1")
	if !errors.Is(err, outbound.ErrNotFound) {
		t.Fatalf("delete err = %v, want ErrNotFound", err)
	}
}
