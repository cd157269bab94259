package format

import (
	"strings"
	"testing"
	"time"

	"github.com/joestump/claude-pulse/internal/health"
)

func TestVisibleWidth(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"hello", 5},
		{"\x1b[31mred\x1b[0m", 3},
		{"🔺", 2},
		{"a🔺b", 4},
		{"", 0},
	}
	for _, tc := range cases {
		if got := VisibleWidth(tc.in); got != tc.want {
			t.Errorf("VisibleWidth(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestAbbreviateModel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Claude Opus 4.6", "o-4.6"},
		{"claude-sonnet-4-5", "s-4-5"},
		{"Claude Haiku 4.5", "h-4.5"},
		{"Claude Next", "c"},
		{"Opus", "o"},
		{"GPT-9", "GPT-9"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := AbbreviateModel(tc.in); got != tc.want {
			t.Errorf("AbbreviateModel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{2*time.Hour + 30*time.Minute, "2h"},
		{5 * 24 * time.Hour, "5d"},
	}
	for _, tc := range cases {
		if got := FormatAge(tc.d); got != tc.want {
			t.Errorf("FormatAge(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestCollapseHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := collapseHome(home + "/work/repo"); got != "~/work/repo" {
		t.Errorf("collapsed = %q", got)
	}
	if got := collapseHome(home); got != "~" {
		t.Errorf("home itself = %q", got)
	}
	if got := collapseHome("/opt/other"); got != "/opt/other" {
		t.Errorf("outside home = %q", got)
	}
}

func TestGitBlockTruncation(t *testing.T) {
	g := &health.GitState{Branch: "feature/very-long-branch-name-that-keeps-going", Ahead: 2, Dirty: true}

	narrow := StripANSI(gitBlock(g, false))
	if !strings.Contains(narrow, "…") {
		t.Errorf("narrow branch not truncated: %q", narrow)
	}
	if !strings.Contains(narrow, "+2") || !strings.Contains(narrow, "*") {
		t.Errorf("markers missing: %q", narrow)
	}

	clean := StripANSI(gitBlock(&health.GitState{Branch: "main"}, false))
	if strings.ContainsAny(clean, "+-*") {
		t.Errorf("clean repo should have no markers: %q", clean)
	}
}

func TestContextBar(t *testing.T) {
	if got := contextBar(50, 10); got != "[█████░░░░░]" {
		t.Errorf("bar = %q", got)
	}
	if got := contextBar(0, 4); got != "[░░░░]" {
		t.Errorf("empty bar = %q", got)
	}
	if got := contextBar(100, 4); got != "[████]" {
		t.Errorf("full bar = %q", got)
	}
}

func TestBudgetAgeAdjustment(t *testing.T) {
	now := time.Now()

	fresh := &health.Billing{BudgetRemainingMin: 90, LastFetched: now.Add(-10 * time.Minute).UnixMilli()}
	if got := StripANSI(budgetBlock(fresh, now)); got != "⏳80m" {
		t.Errorf("fresh budget = %q", got)
	}

	// Raw value well past 10 minutes, fully aged out: show raw escalated,
	// not a confident zero.
	dead := &health.Billing{BudgetRemainingMin: 60, LastFetched: now.Add(-90 * time.Minute).UnixMilli()}
	got := StripANSI(budgetBlock(dead, now))
	if !strings.Contains(got, "60m?") || !strings.Contains(got, "⚠️⚠️") {
		t.Errorf("aged-out budget = %q", got)
	}

	// A small raw value just reaches zero without escalation.
	small := &health.Billing{BudgetRemainingMin: 5, LastFetched: now.Add(-20 * time.Minute).UnixMilli()}
	if got := StripANSI(budgetBlock(small, now)); got != "⏳0m" {
		t.Errorf("small aged budget = %q", got)
	}

	if budgetBlock(&health.Billing{}, now) != "" {
		t.Error("no budget should render nothing")
	}
}

func TestTurnsOnlyForLongSessions(t *testing.T) {
	if turnsBlock(999) != "" {
		t.Error("turns should hide below 1000 messages")
	}
	if got := StripANSI(turnsBlock(1200)); got != "1.2k msgs" {
		t.Errorf("turns = %q", got)
	}
}

func sampleHealth() *health.SessionHealth {
	return &health.SessionHealth{
		SessionID:   "s1",
		ProjectPath: "/opt/proj",
		Status:      health.StatusHealthy,
		Model:       health.ModelInfo{Value: "Claude Opus 4.6"},
		Context:     health.ComputeContext(200000, 100000),
		Git:         &health.GitState{Branch: "main", Ahead: 1},
		Transcript: health.TranscriptState{
			Exists:             true,
			MessageCount:       1500,
			LastMessagePreview: "Running the integration suite now",
			LastMessageAt:      time.Now().Add(-3 * time.Minute).UnixMilli(),
		},
		Billing: health.Billing{
			CostToday:          4.25,
			SessionCost:        1.10,
			BurnRatePerHour:    2.10,
			TotalTokens:        156000,
			BudgetRemainingMin: 92,
			LastFetched:        time.Now().UnixMilli(),
			IsFresh:            true,
			Weekly:             &health.WeeklyQuota{PercentUsed: 73, ResetDay: "Wednesday"},
		},
	}
}

func TestRenderProducesAllClasses(t *testing.T) {
	out := Render(sampleHealth(), time.Now())
	for _, key := range []string{"40", "60", "80", "100", "120", "150", "200", SingleClass} {
		lines, ok := out[key]
		if !ok || len(lines) == 0 {
			t.Errorf("class %s missing or empty", key)
		}
	}
	if len(out[SingleClass]) != 1 {
		t.Errorf("single variant must be one line, got %d", len(out[SingleClass]))
	}
}

func TestRenderRespectsWidthBudget(t *testing.T) {
	out := Render(sampleHealth(), time.Now())
	for _, class := range []struct {
		key   string
		width int
	}{{"40", 30}, {"80", 60}, {"200", 150}} {
		for i, line := range out[class.key] {
			if w := VisibleWidth(line); w > class.width {
				t.Errorf("class %s line %d: width %d exceeds %d: %q",
					class.key, i, w, class.width, StripANSI(line))
			}
		}
	}
	if w := VisibleWidth(out[SingleClass][0]); w > 240 {
		t.Errorf("single line width %d exceeds cap", w)
	}
}

func TestNarrowClassMovesContextDown(t *testing.T) {
	h := sampleHealth()
	h.ProjectPath = "/opt/a-rather-deeply/nested/project"
	out := Render(h, time.Now())

	line1 := StripANSI(out["40"][0])
	if strings.Contains(line1, "free)") {
		t.Errorf("narrow line 1 should not carry the full context block: %q", line1)
	}
	joined := StripANSI(strings.Join(out["40"], "\n"))
	if !strings.Contains(joined, "%") {
		t.Errorf("context percent missing everywhere: %q", joined)
	}
}

func TestWideClassKeepsFullModel(t *testing.T) {
	out := Render(sampleHealth(), time.Now())
	line1 := StripANSI(out["200"][0])
	if !strings.Contains(line1, "Claude Opus 4.6") {
		t.Errorf("wide line 1 should keep the full model name: %q", line1)
	}
	if !strings.Contains(line1, "free)") {
		t.Errorf("wide line 1 should keep the free-token annotation: %q", line1)
	}
}

func TestBudgetNeverDropped(t *testing.T) {
	h := sampleHealth()
	out := Render(h, time.Now())
	for _, key := range []string{"40", "80", "200"} {
		joined := StripANSI(strings.Join(out[key], "\n"))
		if !strings.Contains(joined, "⏳") && !strings.Contains(joined, "m?") {
			t.Errorf("class %s dropped the budget block: %q", key, joined)
		}
	}
}

func TestLine3Preview(t *testing.T) {
	out := Render(sampleHealth(), time.Now())
	lines := out["200"]
	last := StripANSI(lines[len(lines)-1])
	if !strings.Contains(last, "Running the integration suite") || !strings.Contains(last, "(3m)") {
		t.Errorf("line 3 = %q", last)
	}
}
