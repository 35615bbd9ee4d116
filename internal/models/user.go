package models

import (
	"github.com/google/uuid"
)

// Role represents user role in the platform.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// RememberedUser is the public part of a signed-in user kept next to the token on the client.
type RememberedUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  Role      `json:"role"`
}
