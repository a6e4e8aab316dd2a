package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning    = errors.New("hub is already running")
	ErrHubNotRunning        = errors.New("hub is not running")
	ErrBroadcastChannelFull = errors.New("broadcast channel is full")
	ErrHubShuttingDown      = errors.New("hub is shutting down")
)
