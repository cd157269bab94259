// Package format pre-computes statusline text for a fixed set of terminal
// width classes. The renderer picks the nearest class at display time and
// prints the stored lines verbatim, so all layout decisions happen here.
package format

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/joestump/claude-pulse/internal/health"
)

// WidthClasses are the multi-line layouts, narrowest first.
var WidthClasses = []int{40, 60, 80, 100, 120, 150, 200}

const (
	// SingleClass is the dedicated one-line variant.
	SingleClass    = "single"
	singleLineCap  = 240
	effectiveNum   = 3 // effective width = 75 % of the class, leaving
	effectiveDenom = 4 // margin for tmux decorations
)

// VisibleWidth counts terminal columns after stripping SGR sequences.
// Emoji and other wide runes count as two columns.
func VisibleWidth(s string) int {
	return runewidth.StringWidth(ansi.Strip(s))
}

// StripANSI removes escape sequences, for consumers that store plain text.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// Render builds the width-class map for one health record.
func Render(h *health.SessionHealth, now time.Time) map[string][]string {
	out := make(map[string][]string, len(WidthClasses)+1)
	for _, class := range WidthClasses {
		out[strconv.Itoa(class)] = renderClass(h, now, class*effectiveNum/effectiveDenom, class >= 100)
	}
	out[SingleClass] = []string{renderSingle(h, now)}
	return out
}

func renderClass(h *health.SessionHealth, now time.Time, width int, wide bool) []string {
	line1, overflow := buildLine1(h, width, wide)
	lines := []string{line1}

	if line2 := buildLine2(h, now, width, overflow); line2 != "" {
		lines = append(lines, line2)
	}
	if line3 := buildLine3(h, now, width); line3 != "" {
		lines = append(lines, line3)
	}
	return lines
}

func renderSingle(h *health.SessionHealth, now time.Time) string {
	line1, overflow := buildLine1(h, singleLineCap, true)
	rest := buildLine2(h, now, singleLineCap-VisibleWidth(line1)-3, overflow)
	s := line1
	if rest != "" {
		s += dimStyle.Render(" | ") + rest
	}
	return truncateVisible(s, singleLineCap)
}

// buildLine1 assembles glyph, directory, git, and the model/context block.
// The directory is never truncated; the model/context block shrinks through
// a cascade until it fits, and whatever falls off is returned as overflow
// for Line 2.
func buildLine1(h *health.SessionHealth, width int, wide bool) (string, []string) {
	parts := []string{statusGlyph(h.Status)}
	if dir := collapseHome(h.ProjectPath); dir != "" {
		parts = append(parts, dirStyle.Render(dir))
	}
	if g := gitBlock(h.Git, wide); g != "" {
		parts = append(parts, g)
	}
	base := strings.Join(parts, " ")

	remaining := width - VisibleWidth(base) - 1
	block, overflow := modelContextBlock(h, remaining)
	if block != "" {
		return base + " " + block, overflow
	}
	return base, overflow
}

func statusGlyph(s health.Status) string {
	switch s {
	case health.StatusCritical:
		return "🔺"
	case health.StatusWarning:
		return "⚠️"
	case health.StatusHealthy:
		return "✅"
	default:
		return "❔"
	}
}

func collapseHome(path string) string {
	if path == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+string(os.PathSeparator)) {
		return "~" + path[len(home):]
	}
	return path
}

func gitBlock(g *health.GitState, wide bool) string {
	if g == nil || g.Branch == "" {
		return ""
	}
	maxBranch := 15
	if wide {
		maxBranch = 30
	}
	branch := g.Branch
	if len(branch) > maxBranch {
		branch = branch[:maxBranch-1] + "…"
	}
	s := branchStyle.Render("⎇ " + branch)
	if g.Ahead > 0 {
		s += dimStyle.Render(fmt.Sprintf(" +%d", g.Ahead))
	}
	if g.Behind > 0 {
		s += dimStyle.Render(fmt.Sprintf(" -%d", g.Behind))
	}
	if g.Dirty {
		s += warnStyle.Render(" *")
	}
	return s
}

// modelContextBlock walks the shrink cascade and returns the first variant
// that fits in the remaining width, plus any components pushed to Line 2.
func modelContextBlock(h *health.SessionHealth, remaining int) (string, []string) {
	model := h.Model.Value
	abbrev := AbbreviateModel(model)
	ctx := h.Context
	style := contextStyle(ctx.PercentUsed)

	// No context data at all: only the model participates.
	if ctx.WindowSize == 0 {
		if model == "" {
			return "", nil
		}
		for _, m := range []string{model, abbrev} {
			if VisibleWidth(m) <= remaining {
				return dimStyle.Render(m), nil
			}
		}
		return "", []string{dimStyle.Render(abbrev)}
	}

	variants := []struct {
		model string
		ctx   string
	}{
		{model, fmt.Sprintf("%s %d%% (%s free)", contextBar(ctx.PercentUsed, 10), ctx.PercentUsed, formatTokens(ctx.TokensLeft))},
		{model, fmt.Sprintf("%s %d%% (%s free)", contextBar(ctx.PercentUsed, 6), ctx.PercentUsed, formatTokens(ctx.TokensLeft))},
		{model, fmt.Sprintf("%s %d%%", contextBar(ctx.PercentUsed, 4), ctx.PercentUsed)},
		{model, fmt.Sprintf("%d%%", ctx.PercentUsed)},
		{abbrev, fmt.Sprintf("%s %d%%", contextBar(ctx.PercentUsed, 4), ctx.PercentUsed)},
		{abbrev, fmt.Sprintf("%d%%", ctx.PercentUsed)},
	}
	for _, v := range variants {
		if v.model == "" {
			continue
		}
		candidate := dimStyle.Render(v.model) + " " + style.Render(v.ctx)
		if VisibleWidth(candidate) <= remaining {
			return candidate, nil
		}
	}

	// Step 7: abbreviated model only, context moves to Line 2.
	ctxOverflow := style.Render(fmt.Sprintf("%d%% used", ctx.PercentUsed))
	if abbrev != "" && VisibleWidth(abbrev) <= remaining {
		return dimStyle.Render(abbrev), []string{ctxOverflow}
	}

	// Step 8: both move to Line 2.
	var overflow []string
	if abbrev != "" {
		overflow = append(overflow, dimStyle.Render(abbrev))
	}
	overflow = append(overflow, ctxOverflow)
	return "", overflow
}

// AbbreviateModel shortens a display name: "Claude Opus 4.6" becomes
// "o-4.6", Sonnet "s-", Haiku "h-", any other Claude model just "c".
func AbbreviateModel(name string) string {
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	prefix := ""
	switch {
	case strings.Contains(lower, "opus"):
		prefix = "o-"
	case strings.Contains(lower, "sonnet"):
		prefix = "s-"
	case strings.Contains(lower, "haiku"):
		prefix = "h-"
	case strings.Contains(lower, "claude"):
		return "c"
	default:
		return name
	}
	if v := versionToken(name); v != "" {
		return prefix + v
	}
	return strings.TrimSuffix(prefix, "-")
}

// versionToken takes everything from the first digit on, so compound
// versions like "4-5" stay intact.
func versionToken(name string) string {
	for i, r := range name {
		if r >= '0' && r <= '9' {
			return strings.TrimSpace(name[i:])
		}
	}
	return ""
}

func contextBar(percent, cells int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * cells / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", cells-filled) + "]"
}

// buildLine2 joins overflow from Line 1, the budget/weekly blocks, and the
// cost/usage/turns blocks. When the result is too wide, droppable blocks go
// in a fixed order: usage, turns, burn rate, cost. Budget and weekly are
// never dropped.
func buildLine2(h *health.SessionHealth, now time.Time, width int, overflow []string) string {
	keep := append([]string{}, overflow...)
	if b := budgetBlock(&h.Billing, now); b != "" {
		keep = append(keep, b)
	}
	if w := weeklyBlock(h.Billing.Weekly); w != "" {
		keep = append(keep, w)
	}

	cost := costBlock(&h.Billing)
	burn := burnBlock(&h.Billing)
	usage := usageBlock(&h.Billing)
	turns := turnsBlock(h.Transcript.MessageCount)

	assemble := func(withCost, withBurn, withUsage, withTurns bool) string {
		parts := append([]string{}, keep...)
		if withCost && cost != "" {
			c := cost
			if withBurn && burn != "" {
				c += " " + burn
			}
			parts = append(parts, c)
		}
		if withUsage && usage != "" {
			parts = append(parts, usage)
		}
		if withTurns && turns != "" {
			parts = append(parts, turns)
		}
		return strings.Join(parts, dimStyle.Render(" | "))
	}

	for _, attempt := range []struct{ cost, burn, usage, turns bool }{
		{true, true, true, true},
		{true, true, false, true}, // drop usage first
		{true, true, false, false},
		{true, false, false, false}, // keep total cost, drop burn rate
		{false, false, false, false},
	} {
		s := assemble(attempt.cost, attempt.burn, attempt.usage, attempt.turns)
		if VisibleWidth(s) <= width {
			return s
		}
	}
	return assemble(false, false, false, false)
}

// budgetBlock age-adjusts the remaining minutes so a stale quota cache does
// not overstate what is left. A raw value over 10 minutes that ages out
// entirely is shown unadjusted with a doubled warning instead of as zero.
func budgetBlock(b *health.Billing, now time.Time) string {
	if b.BudgetRemainingMin <= 0 {
		return ""
	}
	raw := b.BudgetRemainingMin
	ageMin := 0
	if b.LastFetched > 0 {
		ageMin = int(now.Sub(time.UnixMilli(b.LastFetched)).Minutes())
	}
	display := raw - ageMin
	if display < 0 {
		display = 0
	}
	if display == 0 && raw > 10 && ageMin > raw {
		return critStyle.Render(fmt.Sprintf("⚠️⚠️ %dm?", raw))
	}
	style := dimStyle
	if display <= 15 {
		style = warnStyle
	}
	return style.Render(fmt.Sprintf("⏳%dm", display))
}

func weeklyBlock(w *health.WeeklyQuota) string {
	if w == nil {
		return ""
	}
	s := fmt.Sprintf("wk %d%%", w.PercentUsed)
	if w.ResetDay != "" {
		s += " →" + w.ResetDay[:min(3, len(w.ResetDay))]
	}
	style := dimStyle
	if w.PercentUsed >= 90 {
		style = critStyle
	} else if w.PercentUsed >= 75 {
		style = warnStyle
	}
	if w.Stale {
		s += " ⚠️"
	}
	return style.Render(s)
}

func costBlock(b *health.Billing) string {
	if b.CostToday <= 0 && b.SessionCost <= 0 {
		return ""
	}
	s := fmt.Sprintf("$%.2f", b.CostToday)
	if b.SessionCost > 0 {
		s += fmt.Sprintf(" ($%.2f sess)", b.SessionCost)
	}
	if !b.IsFresh {
		s += " ⚠️"
	}
	return dimStyle.Render(s)
}

func burnBlock(b *health.Billing) string {
	if b.BurnRatePerHour <= 0 {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf("$%.2f/h", b.BurnRatePerHour))
}

func usageBlock(b *health.Billing) string {
	if b.TotalTokens <= 0 {
		return ""
	}
	s := formatTokens(int(b.TotalTokens)) + " tok"
	if b.TokensPerMinute > 0 {
		s += fmt.Sprintf(" @%s/m", formatTokens(int(b.TokensPerMinute)))
	}
	return dimStyle.Render(s)
}

// turnsBlock only appears once a session is long enough that the count
// itself is interesting.
func turnsBlock(messages int) string {
	if messages < 1000 {
		return ""
	}
	return dimStyle.Render(formatTokens(messages) + " msgs")
}

func buildLine3(h *health.SessionHealth, now time.Time, width int) string {
	preview := h.Transcript.LastMessagePreview
	if preview == "" {
		return ""
	}
	age := ""
	if h.Transcript.LastMessageAt > 0 {
		age = dimStyle.Render(" (" + FormatAge(now.Sub(time.UnixMilli(h.Transcript.LastMessageAt))) + ")")
	}
	line := "💬 " + preview + age
	return truncateVisible(line, width)
}

// FormatAge renders a duration as a compact age like 45s, 3m, 2h, 5d.
func FormatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1_000_000), ".0") + "M"
	case n >= 1_000:
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1_000), ".0") + "k"
	default:
		return strconv.Itoa(n)
	}
}

// truncateVisible trims a styled string to a visible column budget, keeping
// escape sequences intact by truncating rune-wise on the stripped text.
func truncateVisible(s string, width int) string {
	if VisibleWidth(s) <= width {
		return s
	}
	// Truncation drops styling past the cut; acceptable for the rare case
	// of an oversized preview line.
	plain := ansi.Strip(s)
	return runewidth.Truncate(plain, width-1, "") + "…"
}
