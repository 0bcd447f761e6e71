package sla

import "errors"

// Sentinel errors for the SLA service layer.
var (
	ErrNotFound   = errors.New("sla definition not found")
	ErrValidation = errors.New("invalid sla definition")
	ErrNoSla      = errors.New("ticket has no sla")
)
