package summarize

import (
	"encoding/json"
	"strings"
)

// parseJSONArray parses an LLM's raw text response into a string slice,
// tolerating a markdown code fence around the JSON (models frequently
// wrap output in ```json ... ```). Grounded byte-for-byte on the
// original implementation's _parse_json_array: on parse failure, the
// cleaned raw string is returned as a single-element slice rather than
// an error, since a malformed tag list still has a usable literal value.
func parseJSONArray(raw string) []string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.Trim(cleaned, "` \n")
		cleaned = strings.TrimPrefix(cleaned, "json")
		cleaned = strings.TrimSpace(cleaned)
	}

	var parsed []string
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed
	}

	if cleaned == "" {
		return nil
	}
	return []string{cleaned}
}
