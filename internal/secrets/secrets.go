// Package secrets scans tailed transcript bytes for leaked credentials.
// Matches are heavily truncated before they leave this package; the
// statusline never shows more than a hint of the value.
package secrets

import (
	"regexp"
	"strings"
)

// Finding is one detected credential.
type Finding struct {
	Type   string `json:"type"`
	Sample string `json:"sample"`
}

const sampleLen = 12

// tailSample bounds how much of a large batch is scanned; credentials leak
// at the point of use, which is the tail of an append-only log.
const tailSample = 256 << 10

var patterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"api_key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`)},
	{"vcs_token", regexp.MustCompile(`\bgh[ps]_[A-Za-z0-9]{36}\b`)},
	{"db_credentials", regexp.MustCompile(`\b(?:postgres|postgresql|mysql|mongodb)://[^:\s]+:[^@\s]+@`)},
}

var pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----(.*?)-----END [A-Z ]*PRIVATE KEY-----`)

// Scan applies the fixed pattern set to data (or its tail for very large
// batches) and returns one finding per match type occurrence.
func Scan(data []byte) []Finding {
	if len(data) > tailSample {
		data = data[len(data)-tailSample:]
	}
	text := string(data)

	var findings []Finding
	for _, p := range patterns {
		for _, m := range p.re.FindAllString(text, 5) {
			findings = append(findings, Finding{Type: p.name, Sample: truncate(m)})
		}
	}

	for _, m := range pemPattern.FindAllStringSubmatch(text, 5) {
		if validPrivateKeyBody(m[1]) {
			findings = append(findings, Finding{Type: "private_key", Sample: "-----BEGIN..."})
		}
	}

	return findings
}

// validPrivateKeyBody rejects quoted or illustrative key blocks: a real
// PEM body is at least 200 characters and at least 80 % base64 alphabet.
func validPrivateKeyBody(body string) bool {
	compact := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, body)

	if len(compact) < 200 {
		return false
	}
	base64Chars := 0
	for _, r := range compact {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '+' || r == '/' || r == '=' {
			base64Chars++
		}
	}
	return float64(base64Chars) >= 0.8*float64(len(compact))
}

func truncate(s string) string {
	if len(s) <= sampleLen {
		return s
	}
	return s[:sampleLen] + "..."
}
