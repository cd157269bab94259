package transcript

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// previewLen bounds the last-message preview shown on the statusline.
const previewLen = 120

// LineSummary aggregates what a batch of transcript lines tells us.
// Invalid lines are skipped individually; a single malformed line never
// poisons a scan.
type LineSummary struct {
	Messages    int // valid message lines seen
	LastPreview string
	LastAt      time.Time
	LastModel   string // model of the last assistant message, if any
	LastRole    string
}

// SummarizeLines walks NDJSON transcript bytes line by line. Each line is
// probed tolerantly; anything that is not a message object is ignored.
func SummarizeLines(data []byte) LineSummary {
	var s LineSummary
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		v := gjson.Parse(line)
		typ := v.Get("type").String()
		if typ != "user" && typ != "assistant" {
			continue
		}
		s.Messages++
		s.LastRole = typ

		if ts := v.Get("timestamp").String(); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				s.LastAt = t
			}
		}
		if typ == "assistant" {
			if m := v.Get("message.model").String(); m != "" {
				s.LastModel = m
			}
		}
		if text := extractText(v); text != "" {
			s.LastPreview = previewText(text)
		}
	}
	return s
}

// extractText pulls displayable text from a message line. Content can be a
// plain string or an array of typed blocks.
func extractText(v gjson.Result) string {
	content := v.Get("message.content")
	if content.Type == gjson.String {
		return content.String()
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(parts, " ")
}

// previewText collapses whitespace, replaces XML-like system payloads with
// a placeholder, and truncates for statusline display.
func previewText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<") && strings.Contains(text, ">") {
		return "(system message)"
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > previewLen {
		return string(runes[:previewLen]) + "..."
	}
	return text
}
