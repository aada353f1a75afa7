// Package version holds build information set at link time.
package version

// Version is overridden with -ldflags "-X github.com/bft-labs/digestship/internal/version.Version=...".
var Version = "dev"

// UserAgent is sent with every feed handshake.
func UserAgent() string {
	return "digestship/" + Version
}
