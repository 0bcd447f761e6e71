package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/pkg/httputil"
	"github.com/relaydesk/helpdesk-core/internal/routing"
	"github.com/relaydesk/helpdesk-core/internal/service/attachment"
	"github.com/relaydesk/helpdesk-core/internal/service/emailaccount"
	"github.com/relaydesk/helpdesk-core/internal/service/outbound"
	"github.com/relaydesk/helpdesk-core/internal/service/sla"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

// 499 is the nginx convention for a client that went away; chi has no
// constant for it.
const statusClientClosedRequest = 499

// serviceError maps service-layer sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		httputil.Error(w, statusClientClosedRequest, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		httputil.Error(w, http.StatusGatewayTimeout, "operation timed out")

	case errors.Is(err, ticket.ErrNotFound),
		errors.Is(err, emailaccount.ErrNotFound),
		errors.Is(err, routing.ErrNotFound),
		errors.Is(err, sla.ErrNotFound),
		errors.Is(err, outbound.ErrNotFound),
		errors.Is(err, attachment.ErrNotFound):
		httputil.NotFound(w, err.Error())

	case errors.Is(err, ticket.ErrInvalidTransition),
		errors.Is(err, ticket.ErrDeleted),
		errors.Is(err, ticket.ErrNotClosed),
		errors.Is(err, emailaccount.ErrNoSenderConfigured):
		httputil.Conflict(w, err.Error())

	case errors.Is(err, ticket.ErrValidation),
		errors.Is(err, emailaccount.ErrValidation),
		errors.Is(err, routing.ErrValidation),
		errors.Is(err, sla.ErrValidation),
		errors.Is(err, outbound.ErrValidation),
		errors.Is(err, attachment.ErrValidation):
		httputil.BadRequest(w, err.Error())

	case errors.Is(err, attachment.ErrForbidden):
		httputil.Forbidden(w, err.Error())

	case mail.IsTransient(err):
		httputil.ServiceUnavailable(w, "upstream provider unavailable")

	default:
		s.log.Error("internal error", "error", err.Error())
		httputil.InternalError(w, err)
	}
}
