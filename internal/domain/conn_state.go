package domain

import "fmt"

// ConnState is the state of a feed client's subscription connection.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnConnected
)

// String returns a human-readable representation of the state.
func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "Disconnected"
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Websocket close codes the client cares about.
const (
	CloseNormalClosure = 1000
	CloseAbnormal      = 1006
)

// CloseError describes why a feed connection ended.
// Code is CloseAbnormal when the peer vanished without a close frame.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("feed closed: code=%d", e.Code)
	}
	return fmt.Sprintf("feed closed: code=%d reason=%s", e.Code, e.Text)
}
