package domain

import "strings"

// Digest is an opaque transaction identifier. Two digests are equal when their
// trimmed forms are equal.
type Digest = string

// NormalizeDigest trims surrounding whitespace. The second return value is
// false when nothing remains, in which case the digest must be discarded.
func NormalizeDigest(raw string) (Digest, bool) {
	d := strings.TrimSpace(raw)
	return d, d != ""
}
