// Package freshness is the single authority on whether cached data is
// usable. A static category table maps each data family to its fresh /
// critical windows and its failure cooldown; verdicts are computed from
// timestamps every time and never stored as truth.
//
// Cooldown state is a file per category whose mtime is the value, so any
// process on the host observes the same cooldown without coordination.
package freshness

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joestump/claude-pulse/internal/fsatomic"
)

// Category names a freshness bucket shared by sources of similar volatility.
type Category string

const (
	CategoryBilling     Category = "billing"
	CategoryLocalCost   Category = "local-cost"
	CategoryQuota       Category = "quota"
	CategoryGit         Category = "git"
	CategoryTranscript  Category = "transcript"
	CategoryModel       Category = "model"
	CategorySecrets     Category = "secrets"
	CategoryContext     Category = "context"
	CategoryVersion     Category = "version"
	CategoryWeeklyQuota Category = "weekly-quota"
)

// Window carries the thresholds for one category. Stale == 0 means the
// category never escalates past stale to critical on age alone.
type Window struct {
	Fresh    time.Duration
	Cooldown time.Duration
	Stale    time.Duration
}

var table = map[Category]Window{
	CategoryBilling:     {Fresh: 120 * time.Second, Cooldown: 120 * time.Second, Stale: 600 * time.Second},
	CategoryLocalCost:   {Fresh: 300 * time.Second, Cooldown: 60 * time.Second},
	CategoryQuota:       {Fresh: 60 * time.Second, Cooldown: 60 * time.Second},
	CategoryGit:         {Fresh: 30 * time.Second, Cooldown: 60 * time.Second, Stale: 300 * time.Second},
	CategoryTranscript:  {Fresh: 300 * time.Second, Cooldown: 60 * time.Second, Stale: 600 * time.Second},
	CategoryModel:       {Fresh: 300 * time.Second, Cooldown: 60 * time.Second},
	CategorySecrets:     {Fresh: 300 * time.Second, Cooldown: 60 * time.Second},
	CategoryContext:     {Fresh: 5 * time.Second, Cooldown: 5 * time.Second},
	CategoryVersion:     {Fresh: 4 * time.Hour, Cooldown: time.Hour},
	CategoryWeeklyQuota: {Fresh: 300 * time.Second, Cooldown: 300 * time.Second, Stale: 24 * time.Hour},
}

// WindowFor returns the category's thresholds. Unknown categories get the
// billing window, the most conservative of the table; asking for one is a
// programmer error and is left to the caller to log.
func WindowFor(cat Category) Window {
	if w, ok := table[cat]; ok {
		return w
	}
	return table[CategoryBilling]
}

// Status is a staleness verdict.
type Status string

const (
	StatusFresh    Status = "fresh"
	StatusStale    Status = "stale"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Age returns how old an epoch-ms timestamp is. Non-positive timestamps
// report an absurdly large age.
func Age(ts int64) time.Duration {
	if ts <= 0 {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(time.UnixMilli(ts))
}

// StatusOf partitions a timestamp's age into fresh / stale / critical for
// the category, or unknown when the timestamp is non-positive.
func StatusOf(ts int64, cat Category) Status {
	if ts <= 0 {
		return StatusUnknown
	}
	w := WindowFor(cat)
	age := Age(ts)
	switch {
	case age < w.Fresh:
		return StatusFresh
	case w.Stale > 0 && age >= w.Stale:
		return StatusCritical
	default:
		return StatusStale
	}
}

// IsFresh reports whether the timestamp is inside the category's fresh
// window. ts <= 0 is never fresh.
func IsFresh(ts int64, cat Category) bool {
	return StatusOf(ts, cat) == StatusFresh
}

// Indicator maps a verdict to its display glyph.
func Indicator(s Status) string {
	switch s {
	case StatusStale:
		return "⚠"
	case StatusCritical:
		return "🔺"
	default:
		return ""
	}
}

// IntentProbe answers whether a refresh intent is pending for a category
// and how old it is. Implemented by the refresh intent store.
type IntentProbe interface {
	IntentAge(cat Category) (time.Duration, bool)
}

// Authority owns the cooldown directory and renders context-aware verdicts.
type Authority struct {
	dir string // cooldown files live here, one fm-<category>.cooldown each
}

// New creates an Authority rooted at the cooldown directory.
func New(dir string) *Authority {
	return &Authority{dir: dir}
}

func (a *Authority) cooldownPath(cat Category) string {
	return filepath.Join(a.dir, fmt.Sprintf("fm-%s.cooldown", cat))
}

// RecordFetch notes the outcome of a fetch for the category: failure arms
// the cooldown (touch), success disarms it (delete). Both are best-effort.
func (a *Authority) RecordFetch(cat Category, success bool) {
	if success {
		_ = os.Remove(a.cooldownPath(cat))
		return
	}
	_ = fsatomic.Touch(a.cooldownPath(cat))
}

// InCooldown reports whether the category failed recently enough that
// another attempt should wait.
func (a *Authority) InCooldown(cat Category) bool {
	info, err := os.Stat(a.cooldownPath(cat))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < WindowFor(cat).Cooldown
}

// ShouldRefetch is true when no cooldown blocks a new fetch attempt.
func (a *Authority) ShouldRefetch(cat Category) bool {
	return !a.InCooldown(cat)
}

// Context-aware indicator thresholds: an intent this old means the refresh
// the intent asked for is overdue.
const (
	intentWarnAge     = 30 * time.Second
	intentCriticalAge = 5 * time.Minute
)

// ContextIndicator renders the staleness glyph for a timestamp while
// accounting for in-flight refresh work. Stale data with a young intent is
// shown silently: the next daemon run is already expected to handle it.
func (a *Authority) ContextIndicator(ts int64, cat Category, intents IntentProbe) string {
	status := StatusOf(ts, cat)
	if status == StatusFresh {
		return ""
	}
	if status == StatusCritical {
		return "🔺"
	}

	var intentAge time.Duration
	hasIntent := false
	if intents != nil {
		intentAge, hasIntent = intents.IntentAge(cat)
	}

	switch {
	case hasIntent && intentAge > intentCriticalAge:
		return "🔺"
	case hasIntent && intentAge > intentWarnAge:
		return "⚠"
	case hasIntent:
		return "" // young intent, refresh is underway
	case a.InCooldown(cat):
		return "⚠"
	default:
		return ""
	}
}
