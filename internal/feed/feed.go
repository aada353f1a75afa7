// Package feed describes the supported upstream feeds and how digests are
// pulled out of their messages.
package feed

import (
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// Feed names.
const (
	NamePublic = "public"
	NameRelay  = "relay"
)

// Variant is everything that differs between the two ingestion instances.
type Variant struct {
	Name         string
	DefaultTable string

	// Subscribes reports whether a subscribe request is sent after open.
	Subscribes bool

	// RequiresAPIKey makes a missing credential a fatal config error.
	RequiresAPIKey bool

	Extractor ports.Extractor
}

// Public is the public checkpoint feed.
var Public = Variant{
	Name:         NamePublic,
	DefaultTable: "public_tx_digest",
	Subscribes:   true,
	Extractor:    PublicExtractor{},
}

// Relay is the authenticated relay feed.
var Relay = Variant{
	Name:           NameRelay,
	DefaultTable:   "relay_tx_digest",
	RequiresAPIKey: true,
	Extractor:      RelayExtractor{},
}

// Lookup returns the variant with the given name.
func Lookup(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case NamePublic:
		return Public, nil
	case NameRelay:
		return Relay, nil
	default:
		return Variant{}, fmt.Errorf("%w: unknown feed %q (expected: public|relay)", domain.ErrInvalidConfig, name)
	}
}

var parsers fastjson.ParserPool

// parse decodes payload with a pooled parser and passes the root value to fn.
// The value must not escape fn.
func parse(payload []byte, fn func(v *fastjson.Value) []string) ([]string, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	return fn(v), nil
}

// nonBlankString returns v's string content when v is a string with
// non-whitespace content.
func nonBlankString(v *fastjson.Value) (string, bool) {
	if v == nil || v.Type() != fastjson.TypeString {
		return "", false
	}
	s := string(v.GetStringBytes())
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}
