package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthMode selects where a feed credential is attached when connecting.
type AuthMode string

const (
	// AuthHeader sends "Authorization: Bearer <key>" with the handshake.
	AuthHeader AuthMode = "header"
	// AuthQuery appends "apiKey=<key>" to the connection URL.
	AuthQuery AuthMode = "query"
)

// ParseAuthMode parses a credential placement mode. Empty input selects AuthHeader.
func ParseAuthMode(s string) (AuthMode, error) {
	switch AuthMode(s) {
	case "":
		return AuthHeader, nil
	case AuthHeader, AuthQuery:
		return AuthMode(s), nil
	default:
		return "", fmt.Errorf("%w: invalid api key mode %q (expected: header|query)", ErrInvalidConfig, s)
	}
}

// FeedTarget describes how to open one feed subscription.
type FeedTarget struct {
	// URL is the websocket endpoint (ws:// or wss://)
	URL string

	// APIKey is the optional credential; empty means no authentication
	APIKey string

	// AuthMode selects header or query placement of APIKey
	AuthMode AuthMode

	// ConnectTimeout bounds the opening handshake
	ConnectTimeout time.Duration
}

// DialURL returns the URL to connect to, with the credential appended when
// AuthMode is AuthQuery.
func (t FeedTarget) DialURL() string {
	if t.APIKey == "" || t.AuthMode != AuthQuery {
		return t.URL
	}
	sep := "?"
	if strings.Contains(t.URL, "?") {
		sep = "&"
	}
	return t.URL + sep + "apiKey=" + url.QueryEscape(t.APIKey)
}

// Header returns the handshake headers, including the bearer token when
// AuthMode is AuthHeader.
func (t FeedTarget) Header() http.Header {
	h := http.Header{}
	if t.APIKey != "" && t.AuthMode != AuthQuery {
		h.Set("Authorization", "Bearer "+t.APIKey)
	}
	return h
}

// RedactedURL returns DialURL with the credential masked, for logging.
func (t FeedTarget) RedactedURL() string {
	u := t.DialURL()
	if t.APIKey == "" {
		return u
	}
	return strings.ReplaceAll(u, url.QueryEscape(t.APIKey), "*****")
}

// SubscribeRequest is the JSON-RPC request some feeds expect right after open.
type SubscribeRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// NewSubscribeRequest builds the subscribe request for the given method name.
func NewSubscribeRequest(method string) *SubscribeRequest {
	return &SubscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []interface{}{},
	}
}
