// Package broker orchestrates a single gather: Tier-1 input probing,
// Tier-2 per-session I/O in parallel, Tier-3 global state under
// cross-process single-flight, then alert derivation, formatting, and the
// best-effort output fan-out. A gather never fails; the only observable
// failure mode is stale data plus its freshness indicator.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joestump/claude-pulse/internal/config"
	"github.com/joestump/claude-pulse/internal/format"
	"github.com/joestump/claude-pulse/internal/freshness"
	"github.com/joestump/claude-pulse/internal/fsatomic"
	"github.com/joestump/claude-pulse/internal/globalcache"
	"github.com/joestump/claude-pulse/internal/health"
	"github.com/joestump/claude-pulse/internal/hotswap"
	"github.com/joestump/claude-pulse/internal/logging"
	"github.com/joestump/claude-pulse/internal/notify"
	"github.com/joestump/claude-pulse/internal/refresh"
	"github.com/joestump/claude-pulse/internal/sanitize"
	"github.com/joestump/claude-pulse/internal/sessionlock"
	"github.com/joestump/claude-pulse/internal/source"
)

// Options carries injectable collaborators.
type Options struct {
	// Billing is the external billing client; nil disables the source and
	// the local cost calculation carries billing alone.
	Billing BillingFetcher
}

// Broker is the per-invocation orchestrator. All durable state lives in
// files under cfg.BaseDir; the struct itself is cheap and disposable.
type Broker struct {
	cfg     config.Config
	log     *logging.Logger
	reg     *source.Registry
	fresh   *freshness.Authority
	intents *refresh.Store
	flight  *refresh.SingleFlight
	cache   *globalcache.Store
	notes   *notify.Store
	locks   *sessionlock.Store
}

// New builds a Broker rooted at cfg.BaseDir.
func New(cfg config.Config, log *logging.Logger, opts Options) *Broker {
	intents := refresh.NewStore(cfg.IntentDir())
	return &Broker{
		cfg:     cfg,
		log:     log,
		reg:     newRegistry(cfg, opts.Billing),
		fresh:   freshness.New(cfg.CooldownDir()),
		intents: intents,
		flight:  refresh.NewSingleFlight(intents),
		cache:   globalcache.NewStore(filepath.Join(cfg.BaseDir, "data-cache.json")),
		notes:   notify.NewStore(filepath.Join(cfg.BaseDir, "notifications.json")),
		locks:   sessionlock.NewStore(cfg.BaseDir),
	}
}

// fetchAttempt is one fetch's outcome, kept for the debug snapshot.
type fetchAttempt struct {
	Source     string `json:"source"`
	Tier       int    `json:"tier"`
	DurationMs int64  `json:"duration_ms"`
	OK         bool   `json:"ok"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"` // redacted
}

// GatherAll runs the full pipeline for one session and returns the record.
// It always returns a usable record; errors are absorbed into the log and
// the debug snapshot.
func (b *Broker) GatherAll(sessionID, transcriptPath string, input []byte) *health.SessionHealth {
	start := time.Now()
	sid := sanitize.SessionID(sessionID)
	deadline := start.Add(time.Duration(b.cfg.DeadlineMs) * time.Millisecond)

	existing := b.readExisting(sid)

	gc := &source.GatherContext{
		SessionID:       sid,
		TranscriptPath:  transcriptPath,
		ConfigDir:       b.cfg.ConfigDir,
		KeychainService: b.cfg.KeychainService,
		Deadline:        deadline,
		Input:           input,
		Existing:        existing,
		SessionActive:   len(input) > 0,
	}

	h := &health.SessionHealth{
		SessionID:      sid,
		TranscriptPath: transcriptPath,
		FirstSeen:      start.UnixMilli(),
		GatheredAt:     start.UnixMilli(),
		Status:         health.StatusUnknown,
	}
	if existing != nil && existing.FirstSeen > 0 {
		h.FirstSeen = existing.FirstSeen
	}
	h.SessionDuration = start.UnixMilli() - h.FirstSeen

	var attempts []fetchAttempt

	attempts = append(attempts, b.runTier1(gc, h)...)
	if h.ProjectPath != "" {
		gc.ProjectPath = h.ProjectPath
	} else if existing != nil {
		gc.ProjectPath = existing.ProjectPath
		h.ProjectPath = existing.ProjectPath
	}

	attempts = append(attempts, b.runTier2(gc, h)...)

	t3attempts, direct := b.runTier3(gc, h)
	attempts = append(attempts, t3attempts...)

	b.postProcess(gc, h, direct, start)
	b.writeOutputs(h, attempts, start)
	return h
}

func (b *Broker) readExisting(sid string) *health.SessionHealth {
	var existing health.SessionHealth
	if fsatomic.ReadJSON(filepath.Join(b.cfg.BaseDir, sid+".json"), &existing) {
		return &existing
	}
	return nil
}

// runTier1 executes input-only sources synchronously in registration order.
func (b *Broker) runTier1(gc *source.GatherContext, h *health.SessionHealth) []fetchAttempt {
	var attempts []fetchAttempt
	for _, d := range b.reg.ByTier(source.Tier1) {
		t0 := time.Now()
		data, err := d.Fetch(context.Background(), gc)
		a := fetchAttempt{Source: d.ID, Tier: 1, DurationMs: time.Since(t0).Milliseconds(), OK: err == nil && data != nil}
		if err != nil {
			a.Error = sanitize.Error(err.Error())
			b.log.Warnf("tier1 source %s failed: %v", d.ID, err)
		} else if data != nil && d.Merge != nil {
			d.Merge(h, data)
		}
		attempts = append(attempts, a)
	}
	return attempts
}

// racedResult is a Tier-2/3 fetch outcome. Fetches that outlive their
// budget keep running but write only into their buffered channel; the
// record is never touched after the race is lost.
type racedResult struct {
	data     any
	err      error
	timedOut bool
	duration time.Duration
}

// raceFetch runs one fetch bounded by min(d.Timeout, time to deadline).
func raceFetch(d *source.Descriptor, gc *source.GatherContext) racedResult {
	budget := gc.Remaining()
	if d.Timeout > 0 && d.Timeout < budget {
		budget = d.Timeout
	}
	if budget <= 0 {
		return racedResult{timedOut: true}
	}

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	t0 := time.Now()
	done := make(chan racedResult, 1)
	go func() {
		data, err := d.Fetch(ctx, gc)
		done <- racedResult{data: data, err: err, duration: time.Since(t0)}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return racedResult{timedOut: true, duration: time.Since(t0)}
	}
}

// runTier2 races all per-session sources in parallel, then merges the
// survivors in registration order so the result is deterministic.
func (b *Broker) runTier2(gc *source.GatherContext, h *health.SessionHealth) []fetchAttempt {
	tier2 := b.reg.ByTier(source.Tier2)
	results := make([]racedResult, len(tier2))

	var wg sync.WaitGroup
	for i, d := range tier2 {
		wg.Add(1)
		go func(i int, d *source.Descriptor) {
			defer wg.Done()
			results[i] = raceFetch(d, gc)
		}(i, d)
	}
	wg.Wait()

	attempts := make([]fetchAttempt, 0, len(tier2))
	for i, d := range tier2 {
		r := results[i]
		a := fetchAttempt{Source: d.ID, Tier: 2, DurationMs: r.duration.Milliseconds(), TimedOut: r.timedOut}
		switch {
		case r.timedOut:
			b.log.Warnf("tier2 source %s timed out", d.ID)
		case r.err != nil:
			a.Error = sanitize.Error(r.err.Error())
			b.log.Warnf("tier2 source %s failed: %v", d.ID, r.err)
		case r.data != nil:
			a.OK = true
			if d.Merge != nil {
				d.Merge(h, r.data)
			}
		}
		attempts = append(attempts, a)
	}
	return attempts
}

// runTier3 refreshes stale global sources under single-flight, then merges
// whatever the cache holds, fresh or not. Direct (non-cached) sources are
// fetched last and their typed results handed back for post-processing.
func (b *Broker) runTier3(gc *source.GatherContext, h *health.SessionHealth) ([]fetchAttempt, map[string]any) {
	tier3 := b.reg.ByTier(source.Tier3)
	var attempts []fetchAttempt

	// Stale set: cached sources that are available, not fresh, and not in
	// a failure cooldown.
	var stale []*source.Descriptor
	for _, d := range tier3 {
		if !d.UsesCache {
			continue
		}
		if d.Available != nil && !d.Available(gc) {
			attempts = append(attempts, fetchAttempt{Source: d.ID, Tier: 3, Skipped: true})
			continue
		}
		var ts int64
		if age, ok := b.cache.SourceAge(d.ID); ok {
			ts = time.Now().Add(-age).UnixMilli()
		}
		if !freshness.IsFresh(ts, d.Category) && b.fresh.ShouldRefetch(d.Category) {
			stale = append(stale, d)
		}
	}

	// Single-flight: only categories this process actually acquired are
	// fetched; the rest are being refreshed by someone else.
	staleCats := make([]freshness.Category, len(stale))
	for i, d := range stale {
		staleCats[i] = d.Category
	}
	acquiredCats := b.flight.TryAcquireMany(staleCats)
	acquired := make(map[freshness.Category]bool, len(acquiredCats))
	for _, c := range acquiredCats {
		acquired[c] = true
	}

	var torun []*source.Descriptor
	for _, d := range stale {
		if acquired[d.Category] {
			torun = append(torun, d)
		} else {
			attempts = append(attempts, fetchAttempt{Source: d.ID, Tier: 3, Skipped: true, Error: "already_in_progress"})
		}
	}

	// Parallel refresh of the acquired subset, staged into one cache update.
	results := make([]racedResult, len(torun))
	var wg sync.WaitGroup
	for i, d := range torun {
		wg.Add(1)
		go func(i int, d *source.Descriptor) {
			defer wg.Done()
			results[i] = raceFetch(d, gc)
		}(i, d)
	}
	wg.Wait()

	pending := make(map[string]globalcache.Entry)
	now := time.Now().UnixMilli()
	for i, d := range torun {
		r := results[i]
		a := fetchAttempt{Source: d.ID, Tier: 3, DurationMs: r.duration.Milliseconds(), TimedOut: r.timedOut}
		success := !r.timedOut && r.err == nil && r.data != nil
		if success {
			if raw, err := json.Marshal(r.data); err == nil {
				pending[d.ID] = globalcache.Entry{Data: raw, FetchedAt: now, FetchedBy: os.Getpid()}
				a.OK = true
			} else {
				success = false
				a.Error = sanitize.Error(err.Error())
			}
		} else if r.err != nil {
			a.Error = sanitize.Error(r.err.Error())
			b.log.Warnf("tier3 source %s failed: %v", d.ID, r.err)
		}
		b.flight.Release(d.Category, success)
		b.fresh.RecordFetch(d.Category, success)
		attempts = append(attempts, a)
	}
	if len(pending) > 0 {
		if err := b.cache.Update(pending); err != nil {
			b.log.Warnf("global cache update failed: %v", err)
		}
	}

	// Merge pass: every cached source merges whatever is present. Stale
	// display beats missing display.
	file := b.cache.Read()
	for _, d := range tier3 {
		if !d.UsesCache || d.Merge == nil {
			continue
		}
		if e, ok := file.Sources[d.ID]; ok {
			d.Merge(h, cachedEntry{Raw: e.Data, FetchedAt: e.FetchedAt})
		}
	}

	// Direct sources bypass the cache entirely.
	direct := make(map[string]any)
	for _, d := range tier3 {
		if d.UsesCache {
			continue
		}
		if d.Available != nil && !d.Available(gc) {
			attempts = append(attempts, fetchAttempt{Source: d.ID, Tier: 3, Skipped: true})
			continue
		}
		r := raceFetch(d, gc)
		a := fetchAttempt{Source: d.ID, Tier: 3, DurationMs: r.duration.Milliseconds(), TimedOut: r.timedOut}
		if r.err != nil {
			a.Error = sanitize.Error(r.err.Error())
		} else if r.data != nil && !r.timedOut {
			a.OK = true
			direct[d.ID] = r.data
			if d.Merge != nil {
				d.Merge(h, r.data)
			}
		}
		attempts = append(attempts, a)
	}

	return attempts, direct
}

// postProcess derives alerts, billing freshness, the overall status, the
// notification side effects, and the formatted output map.
func (b *Broker) postProcess(gc *source.GatherContext, h *health.SessionHealth, direct map[string]any, start time.Time) {
	// Billing fallback chain: external, then local cost (already merged),
	// then the previous record marked stale.
	if h.Billing.LastFetched == 0 && gc.Existing != nil && gc.Existing.Billing.LastFetched > 0 {
		h.Billing = gc.Existing.Billing
		h.Billing.Source = "stale"
	}
	h.Billing.IsFresh = freshness.IsFresh(h.Billing.LastFetched, freshness.CategoryBilling)

	staleness := time.Duration(b.cfg.StalenessMinutes) * time.Minute
	if h.Transcript.Exists && h.Transcript.LastModified > 0 {
		h.Alerts.TranscriptStale = freshness.Age(h.Transcript.LastModified) > staleness
	}
	h.Alerts.DataLossRisk = h.Alerts.TranscriptStale && gc.SessionActive

	b.deriveStatus(gc, h)
	b.updateLockAndNotifications(gc, h, direct)

	h.GatheredAt = start.UnixMilli()
	h.FormattedOutput = format.Render(h, time.Now())
}

// deriveStatus applies the fixed priority rules. A transcript that has
// never been seen yields unknown, not critical; one that vanished after
// being observed is critical.
func (b *Broker) deriveStatus(gc *source.GatherContext, h *health.SessionHealth) {
	seenBefore := gc.Existing != nil && gc.Existing.Transcript.Exists

	switch {
	case !h.Transcript.Exists && seenBefore:
		h.Status = health.StatusCritical
		h.Issues = append(h.Issues, "transcript file disappeared")
	case h.Alerts.SecretsDetected:
		h.Status = health.StatusCritical
		h.Issues = append(h.Issues, "secrets detected in transcript")
	default:
		h.Status = health.StatusHealthy
		if h.Alerts.DataLossRisk {
			h.Status = health.StatusWarning
			h.Issues = append(h.Issues, "transcript stalled while session active")
		}
		if h.Context.PercentUsed >= 100 {
			h.Status = health.StatusWarning
			h.Issues = append(h.Issues, "context at compaction threshold")
		}
		if h.Billing.LastFetched > 0 && !h.Billing.IsFresh {
			h.Status = health.StatusWarning
			h.Issues = append(h.Issues, "billing data stale")
		}
		if h.Status == health.StatusHealthy && !h.Transcript.Exists {
			h.Status = health.StatusUnknown
		}
	}
}

// updateLockAndNotifications maintains the session lock's mutable head and
// registers notifications driven by Tier-3 results.
func (b *Broker) updateLockAndNotifications(gc *source.GatherContext, h *health.SessionHealth, direct map[string]any) {
	lock, err := b.locks.GetOrCreate(h.SessionID, sessionlock.Identity{
		SlotID:          h.Launch.SlotID,
		ConfigDir:       h.Launch.ConfigDir,
		KeychainService: h.Launch.KeychainService,
		Email:           h.Launch.Email,
		TranscriptPath:  h.TranscriptPath,
	})
	if err != nil {
		b.log.Warnf("session lock: %v", err)
		return
	}

	if e, ok := b.cache.Read().Sources[SrcVersion]; ok {
		var installed string
		if json.Unmarshal(e.Data, &installed) == nil && installed != "" {
			if lock.ClaudeVersion != "" && lock.ClaudeVersion != installed {
				msg := fmt.Sprintf("update available: %s (running %s)", installed, lock.ClaudeVersion)
				if err := b.notes.Register(notify.TypeVersionUpdate, msg, 5); err != nil {
					b.log.Warnf("register version notification: %v", err)
				}
			}
			checkedAt := time.Now().UnixMilli()
			if _, err := b.locks.Update(h.SessionID, sessionlock.Mutable{
				ClaudeVersion:    &installed,
				LastVersionCheck: &checkedAt,
			}); err != nil {
				b.log.Warnf("lock update: %v", err)
			}
		}
	}

	if v, ok := direct[SrcSlotRec]; ok {
		if rec, ok := v.(*hotswap.SlotRecommendation); ok && rec.Slot != "" && rec.Slot != h.Launch.SlotID {
			msg := fmt.Sprintf("switch to %s: %s", rec.Slot, rec.Reason)
			if err := b.notes.Register(notify.TypeSlotSwitch, msg, 7); err != nil {
				b.log.Warnf("register slot notification: %v", err)
			}
		}
	}
}
