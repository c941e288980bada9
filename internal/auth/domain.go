// Package auth handles credential checks and login sessions.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can sign in.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
