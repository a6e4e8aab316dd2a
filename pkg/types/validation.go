package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate ensures the principal meets all requirements
// ARCHITECTURAL DISCOVERY: Validation at type level ensures consistency
// across all components without duplicating validation logic
func (p *Principal) Validate() error {
	if !IsValidUserID(p.ID) {
		return ErrInvalidUserID
	}
	if len(p.Username) < 1 || len(p.Username) > 50 {
		return ErrInvalidUsername
	}
	if len(p.FullName) < 1 || len(p.FullName) > 200 {
		return ErrInvalidFullName
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRole checks if the role is one of the directory roles
func IsValidRole(role string) bool {
	switch role {
	case RoleChild, RoleParent, RoleTeacher:
		return true
	default:
		return false
	}
}

// IsValidAlertMessage bounds the free-text message from the trigger endpoint.
// TECHNICAL DISCOVERY: 1KB cap keeps the fan-out payload small enough that a
// single slow subscriber cannot back up the write channel for everyone else
func IsValidAlertMessage(message string) bool {
	return len(message) <= 1024
}
