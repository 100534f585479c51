package llm

import (
	"encoding/json"
	"strings"
)

// ParseJSONObject extracts a JSON object from model output. Markdown fences
// and surrounding prose are tolerated by slicing from the first '{' to the
// last '}'. Output that still fails to parse comes back as {"raw": text} so
// callers always get a map to probe.
func ParseJSONObject(text string) map[string]any {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			candidate := cleaned[start : end+1]
			var out map[string]any
			if err := json.Unmarshal([]byte(candidate), &out); err == nil {
				return out
			}
		}
	}
	return map[string]any{"raw": text}
}

// StringField reads a trimmed string value from a parsed JSON object.
// Missing or non-string values yield "".
func StringField(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
