package domain

import "time"

// Tag is an org-scoped label. A ticket's tag set is unordered and unique.
type Tag struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID *string   `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Color          string    `json:"color" db:"color"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Category is an org-scoped classification a ticket can carry at most one of.
type Category struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID *string   `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Color          string    `json:"color" db:"color"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
