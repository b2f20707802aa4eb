package proxy

import "encoding/json"

// ApplyModelOverride rewrites the top-level "model" field of the
// payload when an override is configured. This is the one sanctioned
// payload mutation: everything else passes through untouched. Payloads
// that are not JSON objects are returned unchanged, as are calls with
// an empty override.
func ApplyModelOverride(payload json.RawMessage, model string) json.RawMessage {
	if model == "" {
		return payload
	}

	// Decoding into raw messages keeps every other field byte-for-byte.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload
	}

	override, err := json.Marshal(model)
	if err != nil {
		return payload
	}
	fields["model"] = override

	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}
