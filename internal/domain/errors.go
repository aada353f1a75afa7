package domain

import "errors"

// Domain errors represent error conditions in the digestship domain.
// These errors can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("digestship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("digestship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("digestship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("digestship: invalid configuration")

	// ErrMissingCredential is returned when a feed requires an API key and none is configured.
	ErrMissingCredential = errors.New("digestship: missing credential")

	// ErrMalformedMessage is returned by extractors for payloads that cannot be decoded.
	ErrMalformedMessage = errors.New("digestship: malformed message")

	// ErrNoSuchTable is matched by store errors reporting a missing destination table.
	ErrNoSuchTable = errors.New("digestship: destination table not found")

	// ErrConnectionClosed is returned when the feed connection has been closed locally.
	ErrConnectionClosed = errors.New("digestship: connection closed")
)
