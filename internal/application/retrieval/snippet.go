package retrieval

import (
	"strings"
	"unicode/utf8"
)

// snippet cuts a window of roughly n bytes from body around the first query
// term it contains, or the head of the body when none occurs.
func snippet(body string, terms []string, n int) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= n {
		return body
	}
	lower := strings.ToLower(body)
	start := 0
	if len(lower) == len(body) {
		best := -1
		for _, t := range terms {
			if i := strings.Index(lower, t); i >= 0 && (best < 0 || i < best) {
				best = i
			}
		}
		if best > n/3 {
			start = best - n/3
		}
	}
	end := min(start+n, len(body))
	if end-start < n {
		start = max(end-n, 0)
	}
	for start > 0 && !utf8.RuneStart(body[start]) {
		start++
	}
	for end < len(body) && !utf8.RuneStart(body[end]) {
		end--
	}

	out := body[start:end]
	if start > 0 {
		if i := strings.IndexByte(out, ' '); i >= 0 && i < 24 {
			out = out[i+1:]
		}
		out = "..." + out
	}
	if end < len(body) {
		if i := strings.LastIndexByte(out, ' '); i >= 0 && i > len(out)-24 {
			out = out[:i]
		}
		out += "..."
	}
	return out
}
