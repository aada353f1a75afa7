package feed

import (
	"errors"
	"reflect"
	"testing"

	"github.com/bft-labs/digestship/internal/domain"
)

func TestPublicExtractor(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "digests",
			payload: `{"params":{"result":{"tx_events":[{"tx_digest":"A"},{"tx_digest":"B"}]}}}`,
			want:    []string{"A", "B"},
		},
		{
			name:    "blank and missing digests skipped",
			payload: `{"params":{"result":{"tx_events":[{"tx_digest":"A"},{"tx_digest":"  "},{},{"tx_digest":7},{"tx_digest":"C"}]}}}`,
			want:    []string{"A", "C"},
		},
		{
			name:    "surrounding whitespace kept for the writer to trim",
			payload: `{"params":{"result":{"tx_events":[{"tx_digest":" A "}]}}}`,
			want:    []string{" A "},
		},
		{"empty events", `{"params":{"result":{"tx_events":[]}}}`, nil},
		{"events not an array", `{"params":{"result":{"tx_events":{"tx_digest":"A"}}}}`, nil},
		{"subscription ack", `{"jsonrpc":"2.0","id":1,"result":42}`, nil},
		{"scalar", `5`, nil},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PublicExtractor{}.Extract([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelayExtractor(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{
			name:    "with events",
			payload: `{"relayStarted":{"txDigest":"X","sideEffects":{"events":[{"type":"e"}]}}}`,
			want:    []string{"X"},
		},
		{"empty events", `{"relayStarted":{"txDigest":"X","sideEffects":{"events":[]}}}`, nil},
		{"no side effects", `{"relayStarted":{"txDigest":"X"}}`, nil},
		{"events not an array", `{"relayStarted":{"txDigest":"X","sideEffects":{"events":{}}}}`, nil},
		{"blank digest", `{"relayStarted":{"txDigest":" ","sideEffects":{"events":[1]}}}`, nil},
		{"digest not a string", `{"relayStarted":{"txDigest":1,"sideEffects":{"events":[1]}}}`, nil},
		{"relayStarted null", `{"relayStarted":null}`, nil},
		{"relayStarted false", `{"relayStarted":false}`, nil},
		{"other message", `{"relayFinished":{"txDigest":"X"}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelayExtractor{}.Extract([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractors_Malformed(t *testing.T) {
	for _, payload := range []string{"", "{", "not json", `{"a":}`} {
		for _, v := range []Variant{Public, Relay} {
			_, err := v.Extractor.Extract([]byte(payload))
			if !errors.Is(err, domain.ErrMalformedMessage) {
				t.Errorf("%s.Extract(%q) = %v, want ErrMalformedMessage", v.Name, payload, err)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name      string
		wantTable string
		wantErr   bool
	}{
		{"public", "public_tx_digest", false},
		{"RELAY", "relay_tx_digest", false},
		{"private", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Lookup(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if v.DefaultTable != tt.wantTable {
				t.Errorf("DefaultTable = %q, want %q", v.DefaultTable, tt.wantTable)
			}
		})
	}

	if !Public.Subscribes || Public.RequiresAPIKey {
		t.Error("public feed must subscribe and needs no key")
	}
	if Relay.Subscribes || !Relay.RequiresAPIKey {
		t.Error("relay feed must not subscribe and needs a key")
	}
}
