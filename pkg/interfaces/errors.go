package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrUnauthorized  = errors.New("unauthorized access")
)
