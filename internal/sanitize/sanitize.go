// Package sanitize makes identifiers and log strings safe for the
// filesystem and the daemon log. Every function is pure.
package sanitize

import (
	"regexp"
	"strings"
)

const (
	maxSessionIDLen = 128
	maxErrorLen     = 120
)

var (
	sessionIDBadChar    = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	sessionIDSeparators = regexp.MustCompile(`[/\\]+`)
	urlPattern       = regexp.MustCompile(`https?://[^\s]+`)
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`)
	apiKeyPattern    = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}\b`)
	tokenAssignment  = regexp.MustCompile(`(?i)\btoken=[^\s&"']+`)
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
)

// SessionID normalizes an untrusted session identifier into a path-safe
// token: path traversal collapsed, leading dots stripped, runs of path
// separators collapsed to one underscore, anything outside [A-Za-z0-9._-]
// replaced with underscores, capped at 128 characters. Empty results fall
// back to "unknown-session".
func SessionID(raw string) string {
	s := strings.ReplaceAll(raw, "..", "")
	s = strings.TrimLeft(s, ".")
	s = sessionIDSeparators.ReplaceAllString(s, "_")
	s = sessionIDBadChar.ReplaceAllString(s, "_")
	if len(s) > maxSessionIDLen {
		s = s[:maxSessionIDLen]
	}
	if s == "" {
		return "unknown-session"
	}
	return s
}

// ValidSessionID reports whether id is already in the strict form accepted
// by the session lock store.
func ValidSessionID(id string) bool {
	return validLockID.MatchString(id)
}

var validLockID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Error reduces an error string to a single safe log line: first line only,
// URLs / bearer tokens / API keys / token= assignments replaced with
// [REDACTED], capped at 120 characters.
func Error(raw string) string {
	s := raw
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	s = urlPattern.ReplaceAllString(s, "[REDACTED]")
	s = bearerPattern.ReplaceAllString(s, "[REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "[REDACTED]")
	s = tokenAssignment.ReplaceAllString(s, "[REDACTED]")
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen]
	}
	return s
}

// Email masks an address for display, keeping the first two characters of
// the local part and the whole domain: "ab***@example.com". Anything that
// does not look like an email is truncated to three characters plus "***".
func Email(raw string) string {
	if emailPattern.MatchString(raw) {
		at := strings.IndexByte(raw, '@')
		local, domain := raw[:at], raw[at:]
		keep := 2
		if len(local) < keep {
			keep = len(local)
		}
		return local[:keep] + "***" + domain
	}
	if len(raw) > 3 {
		raw = raw[:3]
	}
	return raw + "***"
}
