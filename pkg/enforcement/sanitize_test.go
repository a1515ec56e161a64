package enforcement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsPoisonKeys(t *testing.T) {
	in := map[string]any{
		"name":        "ok",
		"__proto__":   map[string]any{"polluted": true},
		"constructor": "Function",
		"prototype":   1,
	}
	out := SanitizePayload(in).(map[string]any)
	assert.Equal(t, map[string]any{"name": "ok"}, out)
}

func TestSanitizeRecursesNestedStructures(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{
			"__proto__": "x",
			"keep":      true,
		},
		"list": []any{
			map[string]any{"constructor": "x", "id": 1},
			"scalar",
		},
	}
	out := SanitizePayload(in).(map[string]any)
	assert.Equal(t, map[string]any{
		"outer": map[string]any{"keep": true},
		"list":  []any{map[string]any{"id": 1}, "scalar"},
	}, out)
}

func TestSanitizeLeavesScalarsAndInput(t *testing.T) {
	assert.Equal(t, "plain", SanitizePayload("plain"))
	assert.Equal(t, 42, SanitizePayload(42))
	assert.Nil(t, SanitizePayload(nil))

	// Case-sensitive: only the exact dangerous spellings are stripped.
	in := map[string]any{"__PROTO__": 1, "Constructor": 2}
	assert.Equal(t, in, SanitizePayload(in))

	// The input map itself is never mutated.
	original := map[string]any{"__proto__": 1, "keep": 2}
	SanitizePayload(original)
	assert.Len(t, original, 2)
}
