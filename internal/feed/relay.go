package feed

import "github.com/valyala/fastjson"

// RelayExtractor reads relayStarted.txDigest, but only for relays whose
// relayStarted.sideEffects.events is a non-empty array.
type RelayExtractor struct{}

// Extract implements ports.Extractor.
func (RelayExtractor) Extract(payload []byte) ([]string, error) {
	return parse(payload, func(v *fastjson.Value) []string {
		started := v.Get("relayStarted")
		if !truthy(started) {
			return nil
		}

		digest, ok := nonBlankString(started.Get("txDigest"))
		if !ok {
			return nil
		}

		events := started.Get("sideEffects", "events")
		if events == nil || events.Type() != fastjson.TypeArray || len(events.GetArray()) == 0 {
			return nil
		}
		return []string{digest}
	})
}

// truthy treats null, false, 0 and "" as absent.
func truthy(v *fastjson.Value) bool {
	if v == nil {
		return false
	}
	switch v.Type() {
	case fastjson.TypeNull, fastjson.TypeFalse:
		return false
	case fastjson.TypeNumber:
		return v.GetFloat64() != 0
	case fastjson.TypeString:
		return len(v.GetStringBytes()) > 0
	default:
		return true
	}
}
