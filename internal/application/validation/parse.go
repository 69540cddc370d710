package validation

import (
	"bytes"
	"strings"
)

// extractJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object when one is present.
func extractJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	b := []byte(s)
	if len(b) > 0 && b[0] != '{' {
		start := bytes.IndexByte(b, '{')
		end := bytes.LastIndexByte(b, '}')
		if start >= 0 && end > start {
			b = b[start : end+1]
		}
	}
	return b
}
