// Package redact masks credentials in analyst input before it is logged,
// persisted or sent to a generation provider.
package redact

import "regexp"

const placeholder = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

var rules = []rule{
	// cloud keys
	{regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`), placeholder},
	{regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), placeholder},
	{regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), placeholder},

	// source hosting
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{20,}`), placeholder},
	{regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`), placeholder},
	{regexp.MustCompile(`glpat-[A-Za-z0-9_\-]{20,}`), placeholder},

	// SaaS tokens
	{regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), placeholder},
	{regexp.MustCompile(`[sr]k_(?:live|test)_[0-9A-Za-z]{10,}`), placeholder},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}`), placeholder},

	{regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----[\s\S]*?(?:-----END (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----|$)`), placeholder},
	{regexp.MustCompile(`[A-Za-z0-9\-_]{8,}\.eyJ[A-Za-z0-9\-_]{5,}\.[A-Za-z0-9\-_]{10,}`), placeholder},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-\._~\+/]{20,}=*`), "Bearer " + placeholder},

	// userinfo in URLs keeps scheme and host
	{regexp.MustCompile(`(://)[^\s/:@]+:[^\s/@]+@`), "${1}" + placeholder + "@"},

	// key=value literals
	{regexp.MustCompile(`(?i)\b(api[_-]?key|client[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|password|passwd|pwd)(\s*[=:]\s*)['"]?[^\s'"]{8,}['"]?`), "${1}${2}" + placeholder},
}

// Redact replaces every credential-looking substring of input with a
// placeholder. Hashes, IPs, domains and ATT&CK ids pass through unchanged.
func Redact(input string) string {
	out := input
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.repl)
	}
	return out
}

// Truncate redacts input and cuts it to at most n bytes for log fields.
func Truncate(input string, n int) string {
	out := Redact(input)
	if n <= 0 || len(out) <= n {
		return out
	}
	// back off to a rune boundary
	for n > 0 && !utf8Start(out[n]) {
		n--
	}
	return out[:n] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
