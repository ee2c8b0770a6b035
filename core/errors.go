package core

import "errors"

var (
	// ErrNotFound covers both a missing record and a record not owned by
	// the requesting principal. The two cases are deliberately
	// indistinguishable to callers.
	ErrNotFound = errors.New("not found")

	// ErrUserExists is returned when registering an already-taken email.
	ErrUserExists = errors.New("user already exists")
)
