package interfaces

import (
	"context"

	"lifeline/pkg/types"
)

// Directory resolves principals and the child/guardian link graph
// ARCHITECTURAL DISCOVERY: Single interface for all identity operations keeps
// the alert core read-only over directory state - registration and linking
// mutate it, connection authorization only ever reads it
type Directory interface {
	// CreateUser persists a new principal
	CreateUser(ctx context.Context, principal *types.Principal) error

	// GetUser retrieves a principal by ID; ErrUserNotFound if absent
	GetUser(ctx context.Context, userID string) (*types.Principal, error)

	// GetUserByUsername retrieves a principal by username
	GetUserByUsername(ctx context.Context, username string) (*types.Principal, error)

	// ListUsersByRole returns all principals with the given role
	// FUNCTIONAL DISCOVERY: Used to compute the teacher subject set at
	// connect time - a snapshot, children registered later are not added
	// without a reconnect
	ListUsersByRole(ctx context.Context, role string) ([]*types.Principal, error)

	// LinkAccounts records a symmetric association between two principals.
	// Invariant: if G is linked to C then C is linked to G
	LinkAccounts(ctx context.Context, userID, linkedID string) error

	// LinkedAccounts returns the principals linked to the given user
	LinkedAccounts(ctx context.Context, userID string) ([]*types.Principal, error)

	// HealthCheck verifies directory connectivity
	HealthCheck(ctx context.Context) error
}

// ChatLogStore persists encrypted conversation logs (boundary collaborator).
// The alert core never reads the encrypted payload directly
type ChatLogStore interface {
	StoreChatLog(ctx context.Context, entry *types.ChatLog) error
	GetChatLogs(ctx context.Context, userID string) ([]*types.ChatLog, error)
}
