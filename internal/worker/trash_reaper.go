package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
	"github.com/relaydesk/helpdesk-core/internal/pkg/distlock"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
	"github.com/robfig/cron/v3"
)

// reapBatchSize bounds one purge pass so a huge backlog never holds the
// reaper (and its blob deletes) for hours.
const reapBatchSize = 200

// OrgDirectory lists tenants so the reaper can apply per-organization
// retention overrides.
type OrgDirectory interface {
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
}

// TrashReaper permanently deletes soft-deleted tickets whose retention has
// lapsed. It runs on an hourly cron; a distributed lock elects one reaper
// across instances.
type TrashReaper struct {
	tickets       *ticket.Service
	orgs          OrgDirectory
	lock          distlock.DistLock
	clock         clock.Clock
	retentionDays int

	cron    *cron.Cron
	entryID cron.EntryID

	// Stats
	runsCompleted int64
	ticketsReaped int64

	running bool
	mu      sync.Mutex
}

// NewTrashReaper creates the reaper. retentionDays is the global default;
// organizations may override it. lock may be nil for single-instance
// deployments.
func NewTrashReaper(tickets *ticket.Service, orgs OrgDirectory, lock distlock.DistLock, clk clock.Clock, retentionDays int) *TrashReaper {
	if retentionDays < 1 {
		retentionDays = 30
	}
	return &TrashReaper{
		tickets:       tickets,
		orgs:          orgs,
		lock:          lock,
		clock:         clk,
		retentionDays: retentionDays,
		cron:          cron.New(),
	}
}

// Start schedules the hourly reap.
func (r *TrashReaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("trash reaper already running")
	}

	id, err := r.cron.AddFunc("@hourly", r.reap)
	if err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	r.running = true
	log.Printf("[TrashReaper] Started (default retention %d days)", r.retentionDays)
	return nil
}

// Stop halts the schedule and waits for an in-flight reap to finish.
func (r *TrashReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	log.Printf("[TrashReaper] Stopped. Runs: %d, Reaped: %d",
		atomic.LoadInt64(&r.runsCompleted), atomic.LoadInt64(&r.ticketsReaped))
}

// ReapNow runs one pass immediately. Exposed for the admin purge endpoint.
func (r *TrashReaper) ReapNow(ctx context.Context) (int, error) {
	return r.purge(ctx)
}

func (r *TrashReaper) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[TrashReaper] Acquire lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := r.lock.Release(ctx); err != nil {
				log.Printf("[TrashReaper] Release lock: %v", err)
			}
		}()
	}

	n, err := r.purge(ctx)
	if err != nil {
		log.Printf("[TrashReaper] Purge: %v", err)
		return
	}
	atomic.AddInt64(&r.runsCompleted, 1)
	if n > 0 {
		atomic.AddInt64(&r.ticketsReaped, int64(n))
		log.Printf("[TrashReaper] Purged %d tickets", n)
	}
}

// purge lists candidates using the shortest retention in play, then filters
// each ticket through its own org's cutoff.
func (r *TrashReaper) purge(ctx context.Context) (int, error) {
	now := r.clock.Now()
	defaultCutoff := now.AddDate(0, 0, -r.retentionDays)

	overrides := map[string]time.Time{}
	listCutoff := defaultCutoff
	if r.orgs != nil {
		orgs, err := r.orgs.ListOrganizations(ctx)
		if err != nil {
			return 0, fmt.Errorf("list organizations: %w", err)
		}
		for _, o := range orgs {
			if o.RetentionDays == nil {
				continue
			}
			cutoff := now.AddDate(0, 0, -*o.RetentionDays)
			overrides[o.ID] = cutoff
			if cutoff.After(listCutoff) {
				listCutoff = cutoff
			}
		}
	}

	cutoffFor := func(orgID *string) time.Time {
		if orgID != nil {
			if c, ok := overrides[*orgID]; ok {
				return c
			}
		}
		return defaultCutoff
	}
	return r.tickets.PurgeExpiredPerOrg(ctx, listCutoff, cutoffFor, reapBatchSize)
}
