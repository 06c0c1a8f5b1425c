// Package schema declares the JSON schemas for payloads pushed by the
// LED backend. Schemas are built as Go maps so they stay next to the
// structs that consume them and need no embedded files.
package schema

// StripConfigSchema returns the schema for ConfigChanged payloads. The
// registry replaces its full segment set from these, so a malformed
// snapshot must be rejected before it wipes a good ordering.
func StripConfigSchema() (map[string]any, error) {
	strip := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":         map[string]any{"type": "string"},
			"index":      map[string]any{"type": "integer", "minimum": 0},
			"display_id": map[string]any{"type": "integer", "minimum": 0},
			"border": map[string]any{
				"type": "string",
				"enum": []any{"Top", "Bottom", "Left", "Right"},
			},
			"len": map[string]any{"type": "integer"},
			"led_type": map[string]any{
				"type": "string",
				"enum": []any{"RGB", "RGBW"},
			},
		},
		"required":             []any{"index", "display_id", "border", "len"},
		"additionalProperties": true,
	}

	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"strips": map[string]any{
				"type":  "array",
				"items": strip,
			},
		},
		"required":             []any{"strips"},
		"additionalProperties": true,
	}, nil
}
