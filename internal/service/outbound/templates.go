package outbound

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// TemplateInput is the email template CRUD payload.
type TemplateInput struct {
	Name     string  `json:"name"`
	Subject  string  `json:"subject"`
	BodyText string  `json:"body_text"`
	BodyHTML *string `json:"body_html"`
}

func (d *Dispatcher) validateTemplate(in TemplateInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.Subject == "" || in.BodyText == "" {
		return fmt.Errorf("%w: subject and body_text are required", ErrValidation)
	}
	for _, src := range []string{in.Subject, in.BodyText} {
		if err := d.templates.Validate(src); err != nil {
			return fmt.Errorf("%w: template syntax: %v", ErrValidation, err)
		}
	}
	if in.BodyHTML != nil {
		if err := d.templates.Validate(*in.BodyHTML); err != nil {
			return fmt.Errorf("%w: template syntax: %v", ErrValidation, err)
		}
	}
	return nil
}

// CreateTemplate stores a new email template after a liquid parse check.
func (d *Dispatcher) CreateTemplate(ctx context.Context, orgID *string, in TemplateInput) (*domain.EmailTemplate, error) {
	if err := d.validateTemplate(in); err != nil {
		return nil, err
	}
	now := d.clock.Now()
	t := &domain.EmailTemplate{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           in.Name,
		Subject:        in.Subject,
		BodyText:       in.BodyText,
		BodyHTML:       in.BodyHTML,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTemplate replaces a template's content.
func (d *Dispatcher) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (*domain.EmailTemplate, error) {
	if err := d.validateTemplate(in); err != nil {
		return nil, err
	}
	t, err := d.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = in.Name
	t.Subject = in.Subject
	t.BodyText = in.BodyText
	t.BodyHTML = in.BodyHTML
	t.UpdatedAt = d.clock.Now()
	if err := d.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTemplate returns one template.
func (d *Dispatcher) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	return d.repo.GetTemplate(ctx, id)
}

// ListTemplates returns the org's templates.
func (d *Dispatcher) ListTemplates(ctx context.Context, orgID *string) ([]domain.EmailTemplate, error) {
	return d.repo.ListTemplates(ctx, orgID)
}

// DeleteTemplate removes a template. Rendered copies already cached by the
// engine stay usable for in-flight sends.
func (d *Dispatcher) DeleteTemplate(ctx context.Context, id string) error {
	return d.repo.DeleteTemplate(ctx, id)
}
