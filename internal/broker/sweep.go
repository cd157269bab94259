package broker

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joestump/claude-pulse/internal/fsatomic"
	"github.com/joestump/claude-pulse/internal/logging"
	"github.com/joestump/claude-pulse/internal/refresh"
	"github.com/joestump/claude-pulse/internal/telemetry"
)

// Sweep housekeeping horizons.
const (
	sweepInterval      = 24 * time.Hour
	healthMaxAge       = 7 * 24 * time.Hour
	tmpMaxAge          = time.Hour
	intentMaxAge       = 10 * time.Minute
	telemetryRetention = 30 * 24 * time.Hour
	logMaxBytes        = 200 << 10
	logKeepLines       = 500
)

// SweepReport summarizes one cleanup pass.
type SweepReport struct {
	Ran              bool
	HealthRemoved    int
	CooldownsRemoved int
	TmpRemoved       int
	IntentsRemoved   int
	TelemetryRows    int64
	LogRotated       bool
}

// Sweep runs the periodic cleanup at most once per sweepInterval, tracked
// by its own cooldown file. force bypasses the interval check.
func (b *Broker) Sweep(force bool) SweepReport {
	marker := filepath.Join(b.cfg.CooldownDir(), "cleanup-sweep.cooldown")
	if !force {
		if info, err := os.Stat(marker); err == nil && time.Since(info.ModTime()) < sweepInterval {
			return SweepReport{}
		}
	}
	if err := fsatomic.Touch(marker); err != nil {
		b.log.Warnf("sweep marker: %v", err)
	}

	r := SweepReport{Ran: true}
	live := b.sweepHealthFiles(&r)
	b.sweepCooldowns(live, &r)
	b.sweepTmp(&r)
	r.IntentsRemoved = refresh.NewStore(b.cfg.IntentDir()).PruneStaleIntents(intentMaxAge)
	if err := b.notes.Cleanup(24 * time.Hour); err != nil {
		b.log.Warnf("notification cleanup: %v", err)
	}
	b.sweepLog(&r)
	b.sweepTelemetry(&r)

	b.log.Infof("sweep: health=%d cooldowns=%d tmp=%d intents=%d telemetry=%d",
		r.HealthRemoved, r.CooldownsRemoved, r.TmpRemoved, r.IntentsRemoved, r.TelemetryRows)
	return r
}

// sweepHealthFiles removes records untouched past the horizon, together
// with their debug and lock companions, and returns the surviving session
// ids so cooldown orphans can be identified.
func (b *Broker) sweepHealthFiles(r *SweepReport) map[string]bool {
	live := make(map[string]bool)
	entries, err := os.ReadDir(b.cfg.BaseDir)
	if err != nil {
		return live
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".debug.json") || !isSessionFile(name) {
			continue
		}
		sid := strings.TrimSuffix(name, ".json")
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= healthMaxAge {
			live[sid] = true
			continue
		}
		for _, victim := range []string{name, sid + ".debug.json", sid + ".lock"} {
			_ = os.Remove(filepath.Join(b.cfg.BaseDir, victim))
		}
		r.HealthRemoved++
	}
	return live
}

func isSessionFile(name string) bool {
	switch name {
	case "sessions.json", "publish-health.json", "telemetry.json",
		"notifications.json", "data-cache.json",
		"merged-quota-cache.json", "slot-recommendation.json", "hot-swap-quota.json":
		return false
	}
	return true
}

// sweepCooldowns drops per-session cooldown files whose session is gone.
// Global fm-<category> cooldowns and the sweep marker are never touched.
func (b *Broker) sweepCooldowns(live map[string]bool, r *SweepReport) {
	dir := b.cfg.CooldownDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".cooldown") || strings.HasPrefix(name, "fm-") || name == "cleanup-sweep.cooldown" {
			continue
		}
		base := strings.TrimSuffix(name, ".cooldown")
		if !strings.Contains(base, "-") {
			continue // host-wide named cooldown, not session-scoped
		}
		// Session ids may themselves contain hyphens, so ownership is a
		// prefix test against the live set rather than a split.
		owned := false
		for sid := range live {
			if strings.HasPrefix(base, sid+"-") {
				owned = true
				break
			}
		}
		if !owned {
			if os.Remove(filepath.Join(dir, name)) == nil {
				r.CooldownsRemoved++
			}
		}
	}
}

func (b *Broker) sweepTmp(r *SweepReport) {
	for _, dir := range []string{b.cfg.BaseDir, b.cfg.CooldownDir(), b.cfg.IntentDir()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".tmp") {
				continue
			}
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) <= tmpMaxAge {
				continue
			}
			if os.Remove(filepath.Join(dir, e.Name())) == nil {
				r.TmpRemoved++
			}
		}
	}
}

func (b *Broker) sweepLog(r *SweepReport) {
	path := b.cfg.LogPath()
	info, err := os.Stat(path)
	if err != nil || info.Size() <= logMaxBytes {
		return
	}
	if err := logging.Rotate(path, logKeepLines); err != nil {
		b.log.Warnf("log rotate: %v", err)
		return
	}
	r.LogRotated = true
}

func (b *Broker) sweepTelemetry(r *SweepReport) {
	db, err := telemetry.Open(b.cfg.TelemetryDBPath())
	if err != nil {
		b.log.Warnf("sweep telemetry open: %v", err)
		return
	}
	defer db.Close() //nolint:errcheck

	n, err := db.Cleanup(telemetryRetention)
	if err != nil {
		b.log.Warnf("sweep telemetry cleanup: %v", err)
	}
	r.TelemetryRows = n
}
