package ports

import (
	"context"

	"github.com/bft-labs/digestship/internal/domain"
)

// FeedDialer opens subscription connections.
type FeedDialer interface {
	// Dial opens a connection to target. The handshake must not outlive
	// target.ConnectTimeout nor ctx.
	Dial(ctx context.Context, target domain.FeedTarget) (FeedConn, error)
}

// FeedConn is one open subscription connection. ReadMessage is called from a
// single goroutine; Send and CloseNormal may be called concurrently with it.
type FeedConn interface {
	// ReadMessage blocks until the next application message arrives.
	// Keepalive pings are answered internally and never returned.
	// When the connection ends the error is a *domain.CloseError where possible.
	ReadMessage() ([]byte, error)

	// Send writes v as one JSON text message.
	Send(v interface{}) error

	// CloseNormal sends a normal-closure close frame with reason and
	// releases the connection.
	CloseNormal(reason string) error

	// Close releases the connection without a closing handshake.
	Close() error
}

// Extractor turns one raw feed message into zero or more raw digests.
// It returns domain.ErrMalformedMessage (possibly wrapped) when the payload
// cannot be decoded; the caller discards such messages.
type Extractor interface {
	Extract(payload []byte) ([]string, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(payload []byte) ([]string, error)

// Extract calls f(payload).
func (f ExtractorFunc) Extract(payload []byte) ([]string, error) { return f(payload) }
