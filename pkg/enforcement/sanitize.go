package enforcement

// Keys that can poison a structural prototype chain when the payload is
// re-materialized on a dynamic host. Matched case-sensitively.
var poisonKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// SanitizePayload returns a deep copy of the payload with poisoned keys
// stripped at every nesting level. Scalars and non-map values pass through
// untouched; the input is never mutated.
func SanitizePayload(payload any) any {
	switch p := payload.(type) {
	case map[string]any:
		out := make(map[string]any, len(p))
		for k, v := range p {
			if _, poisoned := poisonKeys[k]; poisoned {
				continue
			}
			out[k] = SanitizePayload(v)
		}
		return out
	case []any:
		out := make([]any, len(p))
		for i, v := range p {
			out[i] = SanitizePayload(v)
		}
		return out
	default:
		return payload
	}
}
