package transcript

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPriceFor(t *testing.T) {
	cases := []struct {
		model string
		want  Pricing
	}{
		{"claude-opus-4-6", Pricing{15, 75}},
		{"claude-sonnet-4-5-20260101", Pricing{3, 15}}, // family substring
		{"some-haiku-variant", Pricing{0.80, 4}},
		{"gpt-unknown", Pricing{15, 75}}, // default = highest price
	}
	for _, tc := range cases {
		if got := PriceFor(tc.model); got != tc.want {
			t.Errorf("PriceFor(%q) = %+v, want %+v", tc.model, got, tc.want)
		}
	}
}

func TestMessageCostFormula(t *testing.T) {
	// sonnet: 3 in / 15 out per MTok
	got := MessageCost("claude-sonnet-4-5", 1_000_000, 1_000_000, 1_000_000, 1_000_000)
	want := 3.0 + 15.0 + 3.0*1.25 + 3.0*0.10
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
}

func TestMessageCostClampsNegatives(t *testing.T) {
	if got := MessageCost("claude-sonnet-4-5", -100, -100, -100, -100); got != 0 {
		t.Errorf("negative tokens should cost 0, got %v", got)
	}
}

func assistantLine(ts string, in, out int) string {
	return fmt.Sprintf(`{"type":"assistant","timestamp":%q,"message":{"model":"claude-sonnet-4-5","usage":{"input_tokens":%d,"output_tokens":%d}}}`, ts, in, out)
}

func TestCalculateAggregates(t *testing.T) {
	lines := []string{
		assistantLine("2026-08-24T10:00:00Z", 1000, 500),
		`malformed {{{`,
		assistantLine("2026-08-24T10:10:00Z", 2000, 1000),
		`{"type":"user","timestamp":"2026-08-24T10:11:00Z","message":{"content":"hi"}}`,
	}
	s := Calculate([]byte(strings.Join(lines, "\n")))

	if s.Messages != 2 {
		t.Errorf("messages = %d", s.Messages)
	}
	if s.InputTokens != 3000 || s.OutputTokens != 1500 {
		t.Errorf("tokens = %d/%d", s.InputTokens, s.OutputTokens)
	}
	wantCost := MessageCost("claude-sonnet-4-5", 1000, 500, 0, 0) + MessageCost("claude-sonnet-4-5", 2000, 1000, 0, 0)
	if math.Abs(s.TotalCost-wantCost) > 1e-9 {
		t.Errorf("cost = %v, want %v", s.TotalCost, wantCost)
	}

	// Span is 11 minutes (user line extends it): rates are derived.
	if s.TokensPerMinute == 0 || s.CostPerHour == 0 {
		t.Error("expected rates for an 11-minute span")
	}
	span := s.LastAt.Sub(s.FirstAt)
	if span != 11*time.Minute {
		t.Errorf("span = %v", span)
	}
}

func TestCalculateNoRatesUnderOneMinute(t *testing.T) {
	lines := []string{
		assistantLine("2026-08-24T10:00:00Z", 1000, 500),
		assistantLine("2026-08-24T10:00:30Z", 1000, 500),
	}
	s := Calculate([]byte(strings.Join(lines, "\n")))
	if s.CostPerHour != 0 || s.TokensPerMinute != 0 {
		t.Error("sub-minute spans must not derive rates")
	}
}

func TestCalculateFileMissing(t *testing.T) {
	s := CalculateFile(filepath.Join(t.TempDir(), "none.jsonl"))
	if s.TotalCost != 0 || s.Messages != 0 {
		t.Errorf("missing file should be zero: %+v", s)
	}
}

func TestCalculateFileStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.jsonl")
	content := assistantLine("2026-08-24T10:00:00Z", 100, 50) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	s := CalculateFile(path)
	if s.Messages != 1 || s.TotalTokens != 150 {
		t.Errorf("summary = %+v", s)
	}
}
