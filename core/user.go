package core

import (
	"context"
	"time"
)

type (
	// User is a password-login principal. OAuth principals never hit the
	// user store; their identity lives entirely in the signed token.
	User struct {
		ID           string    `json:"id"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	// UserStore defines the persistence layer for registered users.
	UserStore interface {
		// CreateUser stores a new user with a unique email. Returns
		// ErrUserExists if the email is already registered.
		CreateUser(ctx context.Context, email, passwordHash string) (*User, error)

		// GetUserByEmail returns the user registered under email, or
		// ErrNotFound.
		GetUserByEmail(ctx context.Context, email string) (*User, error)
	}
)
