// Package models contains the persisted entities and the request/response
// types shared between the service layer and the API.
package models

import "time"

// User is an account that owns connections, agents, sessions and runs.
// The core never mutates users; they are created through the auth surface.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// User roles.
const (
	RoleUserAccount = "user"
	RoleAdmin       = "admin"
)
