package domain

import "time"

// UserRole separates customers from organization staff.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User is a read model of the platform's account system. The core never
// creates or mutates users; it looks them up for ownership checks, the
// spam filter's known-sender exception, and inbound sender resolution.
type User struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID *string   `json:"organization_id" db:"organization_id"`
	Email          string    `json:"email" db:"email"`
	Name           string    `json:"name" db:"name"`
	Role           UserRole  `json:"role" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsAdmin reports whether the user may perform admin operations.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Actor is the authenticated principal behind a request, as carried by
// the auth middleware into the service layer for ownership checks.
type Actor struct {
	UserID         string
	OrganizationID *string
	Email          string
	Role           UserRole
}

// IsAdmin reports whether the actor may perform admin operations.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// SameOrg reports whether the actor belongs to the given organization.
// A nil actor org means a platform-level account with access everywhere.
func (a Actor) SameOrg(orgID *string) bool {
	if a.OrganizationID == nil {
		return true
	}
	return orgID != nil && *orgID == *a.OrganizationID
}

// Organization carries the per-tenant settings the core reads. RetentionDays
// overrides the global trash retention when set.
type Organization struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	RetentionDays *int      `json:"retention_days" db:"retention_days"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
