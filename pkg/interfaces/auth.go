package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// TokenVerifier validates a bearer credential and resolves its principal
// ARCHITECTURAL DISCOVERY: Verification abstracted from the transport layer
// so WebSocket and HTTP handlers share one credential policy and tests can
// substitute a canned verifier
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*types.Principal, error)
}
