// Package attachment validates, authorizes, and stores ticket file
// uploads through the blob store.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/blob"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/pkg/clock"
)

// Sentinel errors for the attachment service layer.
var (
	ErrNotFound   = errors.New("attachment not found")
	ErrForbidden  = errors.New("not allowed to access this attachment")
	ErrValidation = errors.New("invalid attachment")
	ErrDisabled   = errors.New("attachment storage is not configured")
)

// MaxSize is the upload ceiling.
const MaxSize = 10 << 20 // 10 MiB

// allowedMime is the upload allow-list: images, PDF, text/CSV, Office
// documents, archives, and common media.
var allowedMime = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"image/svg+xml":   true,
	"application/pdf": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/zip":  true,
	"audio/mpeg":       true,
	"video/mp4":        true,
	"audio/wav":        true,
}

// Repository defines data access for attachment metadata plus the ticket
// lookup the ownership check needs.
type Repository interface {
	CreateAttachment(ctx context.Context, a *domain.Attachment) error
	GetAttachment(ctx context.Context, id string) (*domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error)
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
}

// Service is the attachment coordinator.
type Service struct {
	repo  Repository
	blobs blob.Store
	clock clock.Clock
}

// NewService creates an attachment service. blobs may be nil when object
// storage is not configured; every operation then fails with ErrDisabled.
func NewService(repo Repository, blobs blob.Store, clk clock.Clock) *Service {
	return &Service{repo: repo, blobs: blobs, clock: clk}
}

// UploadInput describes one incoming file.
type UploadInput struct {
	TicketID  string
	MessageID *string
	FileName  string
	MimeType  string
	Size      int64
}

func (in UploadInput) validate() error {
	if in.TicketID == "" {
		return fmt.Errorf("%w: ticket_id is required", ErrValidation)
	}
	if in.FileName == "" {
		return fmt.Errorf("%w: file name is required", ErrValidation)
	}
	if in.Size <= 0 || in.Size > MaxSize {
		return fmt.Errorf("%w: size %d exceeds the %d byte limit", ErrValidation, in.Size, MaxSize)
	}
	if !allowedMime[in.MimeType] {
		return fmt.Errorf("%w: mime type %q is not allowed", ErrValidation, in.MimeType)
	}
	return nil
}

// Upload validates and stores one file. The uploader must own the ticket
// or be an admin of its organization.
func (s *Service) Upload(ctx context.Context, actor domain.Actor, in UploadInput, body io.Reader) (*domain.Attachment, error) {
	if s.blobs == nil {
		return nil, ErrDisabled
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	t, err := s.repo.GetTicket(ctx, in.TicketID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("tickets/%s/%s", in.TicketID, uuid.New().String())
	if err := s.blobs.Put(ctx, key, io.LimitReader(body, MaxSize), in.Size, in.MimeType); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	a := &domain.Attachment{
		ID:         uuid.New().String(),
		TicketID:   in.TicketID,
		MessageID:  in.MessageID,
		FileName:   in.FileName,
		FilePath:   key,
		FileSize:   in.Size,
		MimeType:   in.MimeType,
		UploadedBy: actor.UserID,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.CreateAttachment(ctx, a); err != nil {
		// Roll the blob back so storage doesn't leak orphans.
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			log.Printf("[AttachmentService] Orphan blob %s: %v", key, derr)
		}
		return nil, err
	}
	return a, nil
}

// Download streams an attachment to an authorized requester.
func (s *Service) Download(ctx context.Context, actor domain.Actor, id string) (io.ReadCloser, *domain.Attachment, error) {
	if s.blobs == nil {
		return nil, nil, ErrDisabled
	}
	a, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.repo.GetTicket(ctx, a.TicketID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(actor, t); err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Get(ctx, a.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch blob: %w", err)
	}
	return rc, a, nil
}

// Delete removes blob and row. Allowed for the uploader or an org admin.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if s.blobs == nil {
		return ErrDisabled
	}
	a, err := s.repo.GetAttachment(ctx, id)
	if err != nil {
		return err
	}
	t, err := s.repo.GetTicket(ctx, a.TicketID)
	if err != nil {
		return err
	}
	if a.UploadedBy != actor.UserID {
		if !actor.IsAdmin() || !actor.SameOrg(t.OrganizationID) {
			return ErrForbidden
		}
	}

	if err := s.blobs.Delete(ctx, a.FilePath); err != nil && err != blob.ErrNotFound {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.repo.DeleteAttachment(ctx, id)
}

// ListByTicket returns a ticket's attachments for an authorized requester.
func (s *Service) ListByTicket(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.Attachment, error) {
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t); err != nil {
		return nil, err
	}
	return s.repo.ListByTicket(ctx, ticketID)
}

// authorize grants the ticket's owner and admins of its organization.
func (s *Service) authorize(actor domain.Actor, t *domain.Ticket) error {
	if actor.IsAdmin() && actor.SameOrg(t.OrganizationID) {
		return nil
	}
	if t.UserID != nil && *t.UserID == actor.UserID {
		return nil
	}
	return ErrForbidden
}
