package postgres

import "errors"

// Sentinels for repository-level conditions that no single service owns.
var (
	// ErrDuplicateEmail is returned when (email_account_id, message_id)
	// already exists. The poller treats it as a redelivered message.
	ErrDuplicateEmail = errors.New("email message already recorded")

	// ErrUserNotFound is returned by the user read model.
	ErrUserNotFound = errors.New("user not found")

	// ErrOrgNotFound is returned by the organization read model.
	ErrOrgNotFound = errors.New("organization not found")
)
