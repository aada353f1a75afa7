package feed

import "github.com/valyala/fastjson"

// PublicExtractor reads params.result.tx_events[*].tx_digest.
// Events without a usable digest are skipped; other shapes yield nothing.
type PublicExtractor struct{}

// Extract implements ports.Extractor.
func (PublicExtractor) Extract(payload []byte) ([]string, error) {
	return parse(payload, func(v *fastjson.Value) []string {
		events := v.Get("params", "result", "tx_events")
		if events == nil || events.Type() != fastjson.TypeArray {
			return nil
		}

		var digests []string
		for _, ev := range events.GetArray() {
			if d, ok := nonBlankString(ev.Get("tx_digest")); ok {
				digests = append(digests, d)
			}
		}
		return digests
	})
}
