package auth

import "errors"

// Credential error taxonomy - every failure path maps to exactly one of these
// so transport handlers can decide between refusal before and after upgrade
var (
	ErrUnauthenticated   = errors.New("no credential supplied")
	ErrInvalidCredential = errors.New("credential expired or signature invalid")
	ErrUnknownPrincipal  = errors.New("credential valid but no matching user")
	ErrRoleNotPermitted  = errors.New("role not permitted for this operation")
	ErrTokenSigning      = errors.New("failed to sign token")
)
