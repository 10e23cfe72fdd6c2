package domain

import "errors"

var (
	// ErrNotFound is returned when a referenced account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidInput marks a submission rejected before any mutation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransientStorage means the store was unreachable, timed out or kept conflicting.
	// Nothing was applied; callers may retry.
	ErrTransientStorage = errors.New("transient storage failure")
	// ErrConflict is reported by stores when a concurrent write aborted the transaction.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned for an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
