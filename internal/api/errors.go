package api

import "errors"

// API-level errors surfaced as HTTP responses
var (
	ErrMissingBody        = errors.New("request body is required")
	ErrInvalidCredentials = errors.New("invalid username or password")
)
