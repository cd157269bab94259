package health

import "math"

// DurableSessionState is the lossy compaction of a SessionHealth record
// used for optional external sync. Costs collapse to cents, confidence to
// a byte, alerts to a bitmask, issues to at most three 50-char strings.
// Target size is well under 5 KB.

// Alert bitmask positions.
const (
	AlertBitSecrets         = 1 << 0
	AlertBitTranscriptStale = 1 << 1
	AlertBitDataLossRisk    = 1 << 2
)

const (
	maxDurableIssues   = 3
	maxDurableIssueLen = 50
)

// DurableSessionState mirrors SessionHealth at lower precision. Hash covers
// every significant field but excludes UpdatedAt, ChangeCount, and itself.
type DurableSessionState struct {
	SessionID       string   `json:"sid"`
	AuthProfile     string   `json:"auth,omitempty"`
	Status          string   `json:"st"`
	Issues          []string `json:"iss,omitempty"`
	CostTodayCents  int      `json:"cost_c"`
	SessionCents    int      `json:"scost_c"`
	BurnCentsHour   int      `json:"burn_ch,omitempty"`
	LastActivity    int64    `json:"act,omitempty"`
	MessageCount    int      `json:"msgs,omitempty"`
	DurationMin     int      `json:"dur_m,omitempty"`
	ModelValue      string   `json:"model,omitempty"`
	ModelConfidence uint8    `json:"model_conf,omitempty"`
	CtxUsed         int      `json:"ctx_used"`
	CtxThreshold    int      `json:"ctx_thresh"`
	CtxPercent      int      `json:"ctx_pct"`
	AlertBits       uint8    `json:"alerts,omitempty"`
	WeeklyPercent   int      `json:"wk_pct,omitempty"`
	WeeklyRemaining int      `json:"wk_rem_h,omitempty"`
	GitBranch       string   `json:"git_branch,omitempty"`
	GitAhead        int      `json:"git_ahead,omitempty"`
	GitBehind       int      `json:"git_behind,omitempty"`
	GitDirty        bool     `json:"git_dirty,omitempty"`

	Hash        string `json:"hash,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
	ChangeCount int    `json:"changes,omitempty"`
}

// Serialize compacts a full health record into its durable form. The hash
// is not stamped here; callers run the change detector afterwards.
func Serialize(h *SessionHealth) *DurableSessionState {
	d := &DurableSessionState{
		SessionID:      h.SessionID,
		AuthProfile:    h.Launch.AuthProfile,
		Status:         string(h.Status),
		CostTodayCents: toCents(h.Billing.CostToday),
		SessionCents:   toCents(h.Billing.SessionCost),
		BurnCentsHour:  toCents(h.Billing.BurnRatePerHour),
		LastActivity:   h.Transcript.LastMessageAt,
		MessageCount:   h.Transcript.MessageCount,
		DurationMin:    int(h.SessionDuration / 60000),
		ModelValue:     h.Model.Value,
		CtxUsed:        h.Context.TokensUsed,
		CtxThreshold:   h.Context.CompactionThreshold,
		CtxPercent:     h.Context.PercentUsed,
	}

	conf := h.Model.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}
	d.ModelConfidence = uint8(conf)

	for i, issue := range h.Issues {
		if i >= maxDurableIssues {
			break
		}
		d.Issues = append(d.Issues, truncateIssue(issue))
	}

	if h.Alerts.SecretsDetected {
		d.AlertBits |= AlertBitSecrets
	}
	if h.Alerts.TranscriptStale {
		d.AlertBits |= AlertBitTranscriptStale
	}
	if h.Alerts.DataLossRisk {
		d.AlertBits |= AlertBitDataLossRisk
	}

	if w := h.Billing.Weekly; w != nil {
		d.WeeklyPercent = w.PercentUsed
		d.WeeklyRemaining = int(w.RemainingHours)
	}
	if g := h.Git; g != nil {
		d.GitBranch = g.Branch
		d.GitAhead = g.Ahead
		d.GitBehind = g.Behind
		d.GitDirty = g.Dirty
	}

	return d
}

// toCents rounds half away from zero on the decimal value. A bare *100
// puts 1.005 at 100.499… in binary, so a nanodollar epsilon restores the
// decimal half-up result before rounding.
func toCents(dollars float64) int {
	if dollars <= 0 {
		return 0
	}
	return int(math.Round(dollars*100 + 1e-9))
}

func truncateIssue(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDurableIssueLen {
		return s
	}
	return string(runes[:maxDurableIssueLen-1]) + "…"
}
