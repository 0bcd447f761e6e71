package ticket

import "errors"

// Sentinel errors for the ticket service layer.
var (
	ErrNotFound          = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeleted           = errors.New("ticket is deleted")
	ErrNotClosed         = errors.New("ticket is not closed")
	ErrValidation        = errors.New("invalid input")
)
