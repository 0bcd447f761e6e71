package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/metrics"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// memSlaRepo is an in-memory Repository for SLA service tests.
type memSlaRepo struct {
	mu         sync.Mutex
	defs       map[string]*domain.SlaDefinition
	violations []domain.SlaViolation
	pending    []domain.Ticket
}

func newMemSlaRepo() *memSlaRepo {
	return &memSlaRepo{defs: make(map[string]*domain.SlaDefinition)}
}

func (r *memSlaRepo) GetDefinition(_ context.Context, id string) (*domain.SlaDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memSlaRepo) ListDefinitions(_ context.Context, _ *string) ([]domain.SlaDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SlaDefinition
	for _, d := range r.defs {
		out = append(out, *d)
	}
	return out, nil
}

func (r *memSlaRepo) ActiveForPriority(_ context.Context, _ *string, p domain.TicketPriority) (*domain.SlaDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.defs {
		if d.IsActive && d.Priority == p {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSlaRepo) CreateDefinition(_ context.Context, d *domain.SlaDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.defs[d.ID] = &cp
	return nil
}

func (r *memSlaRepo) UpdateDefinition(_ context.Context, d *domain.SlaDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	r.defs[d.ID] = &cp
	return nil
}

func (r *memSlaRepo) DeleteDefinition(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return ErrNotFound
	}
	delete(r.defs, id)
	return nil
}

func (r *memSlaRepo) CreateViolation(_ context.Context, v *domain.SlaViolation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, *v)
	return nil
}

func (r *memSlaRepo) HasViolation(_ context.Context, ticketID string, vt domain.SlaViolationType) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.violations {
		if v.TicketID == ticketID && v.ViolationType == vt {
			return true, nil
		}
	}
	return false, nil
}

func (r *memSlaRepo) ResolveViolation(_ context.Context, ticketID string, vt domain.SlaViolationType, actual time.Time, minutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.violations {
		v := &r.violations[i]
		if v.TicketID == ticketID && v.ViolationType == vt {
			v.ActualTime = &actual
			v.ViolationMinutes = &minutes
			v.IsResolved = true
			return nil
		}
	}
	return ErrNotFound
}

func (r *memSlaRepo) ListViolations(_ context.Context, ticketID string) ([]domain.SlaViolation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SlaViolation
	for _, v := range r.violations {
		if v.TicketID == ticketID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memSlaRepo) ListTicketsPendingSla(_ context.Context, _ int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Ticket(nil), r.pending...), nil
}

func newTestSla() (*Service, *memSlaRepo, *clock.Fake) {
	repo := newMemSlaRepo()
	clk := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewService(repo, clk, metrics.Noop{}), repo, clk
}

// seedDef stores a 60m response / 240m resolution calendar policy.
func seedDef(repo *memSlaRepo) *domain.SlaDefinition {
	d := &domain.SlaDefinition{
		ID:                    "sla-1",
		Name:                  "standard",
		Priority:              domain.PriorityMedium,
		ResponseTimeMinutes:   60,
		ResolutionTimeMinutes: 240,
		IsActive:              true,
	}
	repo.CreateDefinition(context.Background(), d)
	return d
}

func slaTicket(def *domain.SlaDefinition, created time.Time) *domain.Ticket {
	return &domain.Ticket{
		ID:        "t-1",
		Context:   "billing",
		Subject:   "s",
		Status:    domain.TicketOpen,
		Priority:  domain.PriorityMedium,
		SlaID:     &def.ID,
		CreatedAt: created,
	}
}

func TestAdminRespondedOnTime(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())

	at := clk.Now().Add(30 * time.Minute)
	tk.FirstResponseAt = &at
	svc.AdminResponded(context.Background(), tk)

	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 0 {
		t.Fatalf("on-time response recorded %d violations", len(vs))
	}
}

func TestAdminRespondedLateRecordsViolation(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())

	at := clk.Now().Add(90 * time.Minute) // 30m past the 60m budget
	tk.FirstResponseAt = &at
	svc.AdminResponded(context.Background(), tk)

	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 1 {
		t.Fatalf("violations = %d, want 1", len(vs))
	}
	v := vs[0]
	if v.ViolationType != domain.ViolationResponseTime {
		t.Fatalf("type = %s", v.ViolationType)
	}
	if v.ViolationMinutes == nil || *v.ViolationMinutes != 30 {
		t.Fatalf("minutes = %v, want 30", v.ViolationMinutes)
	}
	if !v.IsResolved || v.ActualTime == nil {
		t.Fatal("late-but-answered violation should be recorded resolved")
	}
}

func TestScanRecordsPendingViolations(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())
	repo.pending = []domain.Ticket{*tk}

	// Only the response budget (60m) has lapsed.
	clk.Advance(2 * time.Hour)
	n, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("recorded = %d, want 1", n)
	}
	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if vs[0].ViolationType != domain.ViolationResponseTime {
		t.Fatalf("type = %s", vs[0].ViolationType)
	}
	if vs[0].IsResolved {
		t.Fatal("scanner violation should start pending")
	}

	// A second scan is idempotent; the resolution budget lapsing adds one.
	clk.Advance(3 * time.Hour)
	n, err = svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("second scan recorded %d, want 1", n)
	}
	vs, _ = repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 2 {
		t.Fatalf("violations = %d, want 2", len(vs))
	}
}

func TestAdminRespondedResolvesPendingViolation(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())
	repo.pending = []domain.Ticket{*tk}

	clk.Advance(2 * time.Hour)
	if _, err := svc.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	at := clk.Now()
	tk.FirstResponseAt = &at
	svc.AdminResponded(context.Background(), tk)

	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 1 {
		t.Fatalf("violations = %d, want the pending one resolved in place", len(vs))
	}
	v := vs[0]
	if !v.IsResolved || v.ActualTime == nil || !v.ActualTime.Equal(at) {
		t.Fatalf("violation not resolved: %+v", v)
	}
	if v.ViolationMinutes == nil || *v.ViolationMinutes != 60 {
		t.Fatalf("minutes = %v, want 60", v.ViolationMinutes)
	}
}

func TestTicketClosedLateRecordsResolutionViolation(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())

	at := clk.Now().Add(5 * time.Hour) // 60m past the 240m budget
	tk.ResolvedAt = &at
	svc.TicketClosed(context.Background(), tk)

	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 1 || vs[0].ViolationType != domain.ViolationResolutionTime {
		t.Fatalf("violations = %+v", vs)
	}
}

func TestHooksIgnoreTicketsWithoutSla(t *testing.T) {
	svc, repo, clk := newTestSla()
	tk := &domain.Ticket{ID: "t-2", CreatedAt: clk.Now()}
	at := clk.Now()
	tk.FirstResponseAt = &at
	tk.ResolvedAt = &at

	svc.AdminResponded(context.Background(), tk)
	svc.TicketClosed(context.Background(), tk)

	vs, _ := repo.ListViolations(context.Background(), tk.ID)
	if len(vs) != 0 {
		t.Fatal("hooks recorded violations for an SLA-less ticket")
	}
}

func TestStatus(t *testing.T) {
	svc, repo, clk := newTestSla()
	def := seedDef(repo)
	tk := slaTicket(def, clk.Now())

	clk.Advance(90 * time.Minute)
	st, err := svc.Status(context.Background(), tk)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Response.Violated {
		t.Fatal("response deadline should read violated 30m past budget")
	}
	if st.Response.OverdueBy == nil || *st.Response.OverdueBy != 30 {
		t.Fatalf("overdue = %v, want 30", st.Response.OverdueBy)
	}
	if st.Resolution.Violated {
		t.Fatal("resolution deadline still has 150m of budget")
	}

	noSla := &domain.Ticket{ID: "t-3"}
	if _, err := svc.Status(context.Background(), noSla); !errors.Is(err, ErrNoSla) {
		t.Fatalf("err = %v, want ErrNoSla", err)
	}
}

func TestDefinitionValidation(t *testing.T) {
	svc, _, _ := newTestSla()

	cases := []struct {
		name string
		in   DefinitionInput
	}{
		{"missing name", DefinitionInput{Priority: domain.PriorityHigh, ResponseTimeMinutes: 60, ResolutionTimeMinutes: 240}},
		{"bad priority", DefinitionInput{Name: "p", Priority: "frantic", ResponseTimeMinutes: 60, ResolutionTimeMinutes: 240}},
		{"zero minutes", DefinitionInput{Name: "p", Priority: domain.PriorityHigh, ResponseTimeMinutes: 0, ResolutionTimeMinutes: 240}},
		{"business hours without window", DefinitionInput{
			Name: "p", Priority: domain.PriorityHigh,
			ResponseTimeMinutes: 60, ResolutionTimeMinutes: 240,
			BusinessHoursOnly: true,
		}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateDefinition(context.Background(), nil, tc.in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
}

func TestDefinitionCrud(t *testing.T) {
	svc, _, _ := newTestSla()
	start, end := "09:00", "17:00"

	d, err := svc.CreateDefinition(context.Background(), nil, DefinitionInput{
		Name:                  "business hours",
		Priority:              domain.PriorityHigh,
		ResponseTimeMinutes:   30,
		ResolutionTimeMinutes: 480,
		BusinessHoursOnly:     true,
		BusinessHoursStart:    &start,
		BusinessHoursEnd:      &end,
		BusinessDays:          []int{1, 2, 3, 4, 5},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !d.IsActive {
		t.Fatal("definitions default active")
	}

	inactive := false
	upd, err := svc.UpdateDefinition(context.Background(), d.ID, DefinitionInput{
		Name:                  "business hours",
		Priority:              domain.PriorityHigh,
		ResponseTimeMinutes:   45,
		ResolutionTimeMinutes: 480,
		IsActive:              &inactive,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.ResponseTimeMinutes != 45 || upd.IsActive {
		t.Fatalf("update not applied: %+v", upd)
	}

	if err := svc.DeleteDefinition(context.Background(), d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetDefinition(context.Background(), d.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
