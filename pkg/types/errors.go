package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidUsername = errors.New("username must be 1-50 characters")
	ErrInvalidRole     = errors.New("invalid role: must be 'child', 'parent' or 'teacher'")
	ErrInvalidFullName = errors.New("full name must be 1-200 characters")
	ErrMessageTooLarge = errors.New("alert message exceeds 1KB limit")
)
