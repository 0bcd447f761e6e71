package ticket

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/blob"
	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// SetBlobStore wires attachment storage in so hard deletes can clear blobs.
func (s *Service) SetBlobStore(store blob.Store) { s.blobs = store }

// SoftDelete marks every id deleted. All-or-nothing: every ticket must
// exist and be closed, or nothing changes.
func (s *Service) SoftDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no ticket ids", ErrValidation)
	}

	held := s.locks.LockMany(ids)
	defer s.locks.UnlockMany(held)

	for _, id := range ids {
		t, err := s.repo.GetTicket(ctx, id)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", id, err)
		}
		if t.IsDeleted {
			return fmt.Errorf("ticket %s: %w", id, ErrDeleted)
		}
		if t.Status != domain.TicketClosed {
			return fmt.Errorf("ticket %s: %w", id, ErrNotClosed)
		}
	}

	now := s.clock.Now()
	if err := s.repo.SetDeleted(ctx, ids, true, &now); err != nil {
		return err
	}
	log.Printf("[TicketService] Soft-deleted %d tickets", len(ids))
	return nil
}

// Restore clears the deleted flag on every id. All-or-nothing; every
// ticket must currently be in the trash.
func (s *Service) Restore(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no ticket ids", ErrValidation)
	}

	held := s.locks.LockMany(ids)
	defer s.locks.UnlockMany(held)

	for _, id := range ids {
		t, err := s.repo.GetTicket(ctx, id)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", id, err)
		}
		if !t.IsDeleted {
			return fmt.Errorf("ticket %s is not in the trash: %w", id, ErrInvalidTransition)
		}
	}
	return s.repo.SetDeleted(ctx, ids, false, nil)
}

// HardDelete removes tickets and their attachments permanently. Blob
// deletion is best-effort; a missing blob never blocks the row cascade.
func (s *Service) HardDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no ticket ids", ErrValidation)
	}

	held := s.locks.LockMany(ids)
	defer s.locks.UnlockMany(held)

	if s.blobs != nil {
		atts, err := s.repo.ListAttachments(ctx, ids)
		if err != nil {
			return err
		}
		for _, a := range atts {
			if err := s.blobs.Delete(ctx, a.FilePath); err != nil && err != blob.ErrNotFound {
				log.Printf("[TicketService] Delete blob %s: %v", a.FilePath, err)
			}
		}
	}

	if err := s.repo.HardDeleteTickets(ctx, ids); err != nil {
		return err
	}
	log.Printf("[TicketService] Hard-deleted %d tickets", len(ids))
	return nil
}

// ListTrash returns soft-deleted tickets.
func (s *Service) ListTrash(ctx context.Context, orgID *string, limit, offset int) ([]domain.Ticket, int, error) {
	return s.repo.ListTickets(ctx, ListFilter{OrganizationID: orgID, Deleted: true, Limit: limit, Offset: offset})
}

// PurgeExpired hard-deletes tickets whose trash retention has lapsed.
// Returns the number purged; per-ticket failures are logged and retried on
// the next reaper tick.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return s.PurgeExpiredPerOrg(ctx, cutoff, nil, limit)
}

// PurgeExpiredPerOrg purges trash with per-organization cutoffs. cutoffFor
// may return an earlier cutoff for an org with a longer retention; listCutoff
// must be the most permissive (latest) of them so listing catches every
// candidate. A ticket that fails to purge is retried on the next run.
func (s *Service) PurgeExpiredPerOrg(ctx context.Context, listCutoff time.Time, cutoffFor func(orgID *string) time.Time, limit int) (int, error) {
	expired, err := s.repo.ListExpiredTrash(ctx, listCutoff, limit)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, t := range expired {
		if cutoffFor != nil && t.DeletedAt != nil && t.DeletedAt.After(cutoffFor(t.OrganizationID)) {
			continue
		}
		if err := s.HardDelete(ctx, []string{t.ID}); err != nil {
			log.Printf("[TicketService] Purge ticket %s: %v", t.ID, err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.metrics.TicketsPurged(purged)
	}
	return purged, nil
}
