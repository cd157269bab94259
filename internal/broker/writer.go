package broker

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joestump/claude-pulse/internal/format"
	"github.com/joestump/claude-pulse/internal/freshness"
	"github.com/joestump/claude-pulse/internal/fsatomic"
	"github.com/joestump/claude-pulse/internal/health"
	"github.com/joestump/claude-pulse/internal/telemetry"
)

const (
	fetchHistorySize = 20
	publishMaxIdle   = time.Hour
	dashboardMaxIdle = 2 * time.Hour
)

// debugSnapshot is the <sessionId>.debug.json payload.
type debugSnapshot struct {
	SessionID    string                    `json:"session_id"`
	UpdatedAt    int64                     `json:"updated_at"`
	DataQuality  string                    `json:"data_quality"` // full, partial, degraded
	Freshness    map[string]categoryReport `json:"freshness"`
	FetchHistory []fetchAttempt            `json:"fetch_history"`
}

type categoryReport struct {
	Status    string `json:"status"`
	Indicator string `json:"indicator,omitempty"`
	AgeMs     int64  `json:"age_ms,omitempty"`
}

// publishEntry is one session in the outbound publish contract.
type publishEntry struct {
	State   *health.DurableSessionState `json:"state"`
	Urgency int                         `json:"urgency"`
}

type publishFile struct {
	UpdatedAt int64                   `json:"updated_at"`
	Sessions  map[string]publishEntry `json:"sessions"`
}

// dashboardSession is one row of the telemetry.json snapshot.
type dashboardSession struct {
	Line       string `json:"line"` // ANSI-stripped single-line rendering
	Status     string `json:"status"`
	GatheredAt int64  `json:"gathered_at"`
}

type dashboardFile struct {
	UpdatedAt       int64                       `json:"updated_at"`
	Sessions        map[string]dashboardSession `json:"sessions"`
	Freshness       map[string]categoryReport   `json:"freshness"`
	PendingIntents  []string                    `json:"pending_intents,omitempty"`
	ActiveCooldowns []string                    `json:"active_cooldowns,omitempty"`
}

type summaryEntry struct {
	SessionID  string  `json:"session_id"`
	Status     string  `json:"status"`
	GatheredAt int64   `json:"gathered_at"`
	CostToday  float64 `json:"cost_today"`
}

type summaryFile struct {
	UpdatedAt int64          `json:"updated_at"`
	Sessions  []summaryEntry `json:"sessions"`
	Alerts    struct {
		Secrets      []string `json:"secrets,omitempty"`
		DataLossRisk []string `json:"data_loss_risk,omitempty"`
	} `json:"alerts"`
}

// writeOutputs fans the gather result out in fixed order. Each write is
// best-effort; a failure is logged and the next output still happens.
func (b *Broker) writeOutputs(h *health.SessionHealth, attempts []fetchAttempt, start time.Time) {
	now := time.Now()

	if err := fsatomic.WriteJSON(filepath.Join(b.cfg.BaseDir, h.SessionID+".json"), h); err != nil {
		b.log.Errorf("write health record: %v", err)
	}
	if err := b.writeDebug(h, attempts, now); err != nil {
		b.log.Warnf("write debug snapshot: %v", err)
	}
	if err := b.writePublish(h, now); err != nil {
		b.log.Warnf("write publish record: %v", err)
	}
	if err := b.writeDashboard(h, now); err != nil {
		b.log.Warnf("write dashboard: %v", err)
	}
	b.writeTelemetryRow(h, attempts, start)
	if err := b.writeSummary(now); err != nil {
		b.log.Warnf("write summary: %v", err)
	}
}

func (b *Broker) writeDebug(h *health.SessionHealth, attempts []fetchAttempt, now time.Time) error {
	path := filepath.Join(b.cfg.BaseDir, h.SessionID+".debug.json")

	var prev debugSnapshot
	history := attempts
	if fsatomic.ReadJSON(path, &prev) {
		history = append(prev.FetchHistory, attempts...) //nolint:gocritic
	}
	if len(history) > fetchHistorySize {
		history = history[len(history)-fetchHistorySize:]
	}

	ok, failed := 0, 0
	for _, a := range attempts {
		if a.Skipped {
			continue
		}
		if a.OK {
			ok++
		} else {
			failed++
		}
	}
	quality := "full"
	switch {
	case failed > ok:
		quality = "degraded"
	case failed > 0:
		quality = "partial"
	}

	return fsatomic.WriteJSON(path, &debugSnapshot{
		SessionID:    h.SessionID,
		UpdatedAt:    now.UnixMilli(),
		DataQuality:  quality,
		Freshness:    b.freshnessReport(h),
		FetchHistory: history,
	})
}

// freshnessReport evaluates the display-relevant categories against the
// record's own timestamps.
func (b *Broker) freshnessReport(h *health.SessionHealth) map[string]categoryReport {
	report := make(map[string]categoryReport)
	add := func(cat freshness.Category, ts int64) {
		st := freshness.StatusOf(ts, cat)
		r := categoryReport{
			Status:    string(st),
			Indicator: b.fresh.ContextIndicator(ts, cat, b.intents),
		}
		if ts > 0 {
			r.AgeMs = freshness.Age(ts).Milliseconds()
		}
		report[string(cat)] = r
	}

	add(freshness.CategoryBilling, h.Billing.LastFetched)
	add(freshness.CategoryTranscript, h.Transcript.LastModified)
	if w := h.Billing.Weekly; w != nil {
		add(freshness.CategoryWeeklyQuota, w.LastModified)
	}
	if g := h.Git; g != nil {
		add(freshness.CategoryGit, g.LastChecked)
	}
	return report
}

// writePublish maintains the outbound contract: durable per-session states
// with urgency scores, change-stamped, pruned of sessions idle over an hour.
func (b *Broker) writePublish(h *health.SessionHealth, now time.Time) error {
	path := filepath.Join(b.cfg.BaseDir, "publish-health.json")

	f := publishFile{Sessions: make(map[string]publishEntry)}
	fsatomic.ReadJSON(path, &f)
	if f.Sessions == nil {
		f.Sessions = make(map[string]publishEntry)
	}

	d := health.Serialize(h)
	var prev *health.DurableSessionState
	if e, ok := f.Sessions[h.SessionID]; ok {
		prev = e.State
	}
	health.Stamp(d, prev)
	d.UpdatedAt = now.UnixMilli()
	f.Sessions[h.SessionID] = publishEntry{State: d, Urgency: urgencyScore(h)}

	for sid, e := range f.Sessions {
		if e.State == nil || now.UnixMilli()-e.State.UpdatedAt > publishMaxIdle.Milliseconds() {
			delete(f.Sessions, sid)
		}
	}

	f.UpdatedAt = now.UnixMilli()
	return fsatomic.WriteJSON(path, &f)
}

func urgencyScore(h *health.SessionHealth) int {
	score := 0
	switch h.Status {
	case health.StatusCritical:
		score = 100
	case health.StatusWarning:
		score = 50
	}
	if h.Alerts.SecretsDetected {
		score += 40
	}
	if h.Alerts.DataLossRisk {
		score += 30
	}
	if h.Context.NearCompaction {
		score += 20
	}
	return score
}

func (b *Broker) writeDashboard(h *health.SessionHealth, now time.Time) error {
	path := filepath.Join(b.cfg.BaseDir, "telemetry.json")

	f := dashboardFile{Sessions: make(map[string]dashboardSession)}
	fsatomic.ReadJSON(path, &f)
	if f.Sessions == nil {
		f.Sessions = make(map[string]dashboardSession)
	}

	line := ""
	if lines := h.FormattedOutput[format.SingleClass]; len(lines) > 0 {
		line = format.StripANSI(lines[0])
	}
	f.Sessions[h.SessionID] = dashboardSession{
		Line:       line,
		Status:     string(h.Status),
		GatheredAt: h.GatheredAt,
	}

	for sid, s := range f.Sessions {
		if now.UnixMilli()-s.GatheredAt > dashboardMaxIdle.Milliseconds() {
			delete(f.Sessions, sid)
		}
	}

	f.Freshness = b.freshnessReport(h)
	f.PendingIntents = listSuffix(b.cfg.IntentDir(), ".intent")
	f.ActiveCooldowns = listSuffix(b.cfg.CooldownDir(), ".cooldown")
	f.UpdatedAt = now.UnixMilli()
	return fsatomic.WriteJSON(path, &f)
}

func listSuffix(dir, suffix string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, strings.TrimSuffix(e.Name(), suffix))
		}
	}
	return names
}

func (b *Broker) writeTelemetryRow(h *health.SessionHealth, attempts []fetchAttempt, start time.Time) {
	db, err := telemetry.Open(b.cfg.TelemetryDBPath())
	if err != nil {
		b.log.Warnf("telemetry db: %v", err)
		return
	}
	defer db.Close() //nolint:errcheck

	timedOut := 0
	for _, a := range attempts {
		if a.TimedOut {
			timedOut++
		}
	}
	elapsed := time.Since(start)
	if _, err := db.Insert(&telemetry.Invocation{
		SessionID:       h.SessionID,
		GatheredAt:      start.UTC().Format(time.RFC3339),
		DurationMs:      elapsed.Milliseconds(),
		Status:          string(h.Status),
		CostToday:       h.Billing.CostToday,
		SessionCost:     h.Billing.SessionCost,
		TokensUsed:      int64(h.Context.TokensUsed),
		SecretsDetected: h.Alerts.SecretsDetected,
		TranscriptStale: h.Alerts.TranscriptStale,
		SlotID:          h.Launch.SlotID,
		SourcesTimedOut: timedOut,
		DeadlineHit:     elapsed >= time.Duration(b.cfg.DeadlineMs)*time.Millisecond,
	}); err != nil {
		b.log.Warnf("telemetry insert: %v", err)
	}
}

// writeSummary rebuilds sessions.json from the health files on disk, so it
// self-heals even if a previous writer crashed mid-sequence.
func (b *Broker) writeSummary(now time.Time) error {
	f := summaryFile{UpdatedAt: now.UnixMilli()}

	entries, err := os.ReadDir(b.cfg.BaseDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".debug.json") {
			continue
		}
		switch name {
		case "sessions.json", "publish-health.json", "telemetry.json",
			"notifications.json", "data-cache.json",
			"merged-quota-cache.json", "slot-recommendation.json", "hot-swap-quota.json":
			continue
		}
		var rec health.SessionHealth
		if !fsatomic.ReadJSON(filepath.Join(b.cfg.BaseDir, name), &rec) || rec.SessionID == "" {
			continue
		}
		f.Sessions = append(f.Sessions, summaryEntry{
			SessionID:  rec.SessionID,
			Status:     string(rec.Status),
			GatheredAt: rec.GatheredAt,
			CostToday:  rec.Billing.CostToday,
		})
		if rec.Alerts.SecretsDetected {
			f.Alerts.Secrets = append(f.Alerts.Secrets, rec.SessionID)
		}
		if rec.Alerts.DataLossRisk {
			f.Alerts.DataLossRisk = append(f.Alerts.DataLossRisk, rec.SessionID)
		}
	}

	return fsatomic.WriteJSON(filepath.Join(b.cfg.BaseDir, "sessions.json"), &f)
}
