package transcript

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// CostSummary is the local pricing aggregate over an entire transcript.
// It is the always-fresh fallback when the external billing source is
// unavailable.
type CostSummary struct {
	TotalCost     float64
	TotalTokens   int64
	InputTokens   int64
	OutputTokens  int64
	CacheCreation int64
	CacheRead     int64
	Messages      int // assistant messages with a usage block

	FirstAt time.Time
	LastAt  time.Time

	// Rates, derived only when the observed span exceeds one minute.
	CostPerHour     float64
	TokensPerMinute float64
}

// CalculateFile streams the transcript and prices every assistant usage
// block. A missing file yields a zero summary and no error surface; the
// caller treats local cost as best-effort.
func CalculateFile(path string) CostSummary {
	f, err := os.Open(path)
	if err != nil {
		return CostSummary{}
	}
	defer f.Close() //nolint:errcheck

	var s CostSummary
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		s.addLine(scanner.Text())
	}
	s.finish()
	return s
}

// Calculate prices transcript bytes already in memory.
func Calculate(data []byte) CostSummary {
	var s CostSummary
	for _, line := range strings.Split(string(data), "\n") {
		s.addLine(line)
	}
	s.finish()
	return s
}

func (s *CostSummary) addLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" || !gjson.Valid(line) {
		return
	}
	v := gjson.Parse(line)

	if ts := v.Get("timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			if s.FirstAt.IsZero() || t.Before(s.FirstAt) {
				s.FirstAt = t
			}
			if t.After(s.LastAt) {
				s.LastAt = t
			}
		}
	}

	if v.Get("type").String() != "assistant" {
		return
	}
	usage := v.Get("message.usage")
	if !usage.Exists() {
		return
	}

	model := v.Get("message.model").String()
	in := clampTokens(usage.Get("input_tokens").Int())
	out := clampTokens(usage.Get("output_tokens").Int())
	cc := clampTokens(usage.Get("cache_creation_input_tokens").Int())
	cr := clampTokens(usage.Get("cache_read_input_tokens").Int())

	s.Messages++
	s.InputTokens += in
	s.OutputTokens += out
	s.CacheCreation += cc
	s.CacheRead += cr
	s.TotalTokens += in + out + cc + cr
	s.TotalCost += MessageCost(model, in, out, cc, cr)
}

func (s *CostSummary) finish() {
	if s.FirstAt.IsZero() || s.LastAt.IsZero() {
		return
	}
	span := s.LastAt.Sub(s.FirstAt)
	if span <= time.Minute {
		return
	}
	s.CostPerHour = s.TotalCost / span.Hours()
	s.TokensPerMinute = float64(s.TotalTokens) / span.Minutes()
}
