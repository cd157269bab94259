package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/joestump/claude-pulse/internal/config"
	"github.com/joestump/claude-pulse/internal/freshness"
	"github.com/joestump/claude-pulse/internal/gitstate"
	"github.com/joestump/claude-pulse/internal/health"
	"github.com/joestump/claude-pulse/internal/hotswap"
	"github.com/joestump/claude-pulse/internal/sanitize"
	"github.com/joestump/claude-pulse/internal/secrets"
	"github.com/joestump/claude-pulse/internal/source"
	"github.com/joestump/claude-pulse/internal/transcript"
)

// Source IDs. Registration order below is merge order within each tier.
const (
	SrcInputIdentity = "input_identity"
	SrcContextWindow = "context_window"
	SrcAuthProfile   = "auth_profile"
	SrcTranscript    = "transcript_health"
	SrcSecretScan    = "secret_scan"
	SrcLocalCost     = "local_cost"
	SrcGitState      = "git_state"
	SrcBilling       = "billing"
	SrcWeeklyQuota   = "weekly_quota"
	SrcVersion       = "version"
	SrcSlotRec       = "slot_recommendation"
)

// BillingData is the external billing client's result, cached globally.
type BillingData struct {
	CostToday          float64 `json:"cost_today"`
	SessionCost        float64 `json:"session_cost,omitempty"`
	BurnRatePerHour    float64 `json:"burn_rate_per_hour,omitempty"`
	BudgetRemainingMin int     `json:"budget_remaining_min,omitempty"`
	BudgetPercentUsed  int     `json:"budget_percent_used,omitempty"`
	ResetAt            int64   `json:"reset_at,omitempty"`
}

// BillingFetcher is the injected external billing client. The broker never
// talks to the network itself.
type BillingFetcher func(ctx context.Context) (*BillingData, error)

// cachedEntry is what a cache-backed Tier-3 merge receives: the raw cached
// payload plus when it was fetched.
type cachedEntry struct {
	Raw       json.RawMessage
	FetchedAt int64
}

type identityData struct {
	ProjectPath string
	Model       health.ModelInfo
}

type transcriptData struct {
	State health.TranscriptState
	Model string // model of the newest assistant message, if any
}

type weeklyData struct {
	Quota  *health.WeeklyQuota
	Budget *hotswap.Budget
}

// newRegistry wires the concrete source set.
func newRegistry(cfg config.Config, billing BillingFetcher) *source.Registry {
	reg := source.NewRegistry()

	// Tier 1: synchronous, pure input probing.

	reg.Register(&source.Descriptor{
		ID:       SrcInputIdentity,
		Tier:     source.Tier1,
		Category: freshness.CategoryModel,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			v := gjson.ParseBytes(gc.Input)
			d := identityData{ProjectPath: v.Get("start_directory").String()}
			for _, key := range []string{"model.display_name", "model.id", "model.model_id", "model.name"} {
				if m := v.Get(key).String(); m != "" {
					d.Model = health.ModelInfo{Value: m, Source: health.ModelFromInput, Confidence: 80}
					break
				}
			}
			return d, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d := data.(identityData)
			if d.ProjectPath != "" {
				h.ProjectPath = d.ProjectPath
			}
			if d.Model.Value != "" {
				h.Model = d.Model
			}
		},
	})

	reg.Register(&source.Descriptor{
		ID:       SrcContextWindow,
		Tier:     source.Tier1,
		Category: freshness.CategoryContext,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			v := gjson.ParseBytes(gc.Input).Get("context_window")
			if !v.Exists() {
				return nil, nil
			}
			window := int(v.Get("context_window_size").Int())
			if window == 0 {
				window = cfg.WindowDefault
			}
			usage := v.Get("current_usage")
			tokens := int(usage.Get("input_tokens").Int() +
				usage.Get("output_tokens").Int() +
				usage.Get("cache_read_input_tokens").Int() +
				usage.Get("cache_creation_input_tokens").Int())
			return health.ComputeContext(window, tokens), nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			h.Context = data.(health.ContextWindow)
		},
	})

	reg.Register(&source.Descriptor{
		ID:       SrcAuthProfile,
		Tier:     source.Tier1,
		Category: freshness.CategoryModel,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			registry := hotswap.LoadRegistry(filepath.Join(cfg.BaseDir, "accounts.yaml"))
			det := registry.Detect(os.Getenv("CLAUDE_CONFIG_DIR"), gc.ConfigDir, gc.KeychainService)
			return det, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			det := data.(hotswap.Detection)
			h.Launch.DetectionMethod = det.Method
			if a := det.Account; a != nil {
				h.Launch.AuthProfile = a.SlotID
				h.Launch.SlotID = a.SlotID
				h.Launch.ConfigDir = a.ConfigDir
				h.Launch.KeychainService = a.KeychainService
				h.Launch.Email = sanitize.Email(a.Email)
			}
		},
	})

	// Tier 2: per-session I/O, raced against the deadline in parallel.

	reg.Register(&source.Descriptor{
		ID:       SrcTranscript,
		Tier:     source.Tier2,
		Category: freshness.CategoryTranscript,
		Timeout:  5 * time.Second,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			var prevOffset int64
			var prevMTime time.Time
			var prev health.TranscriptState
			if gc.Existing != nil {
				prev = gc.Existing.Transcript
				prevOffset = prev.SizeBytes
				prevMTime = time.UnixMilli(prev.LastModified)
			}

			res := transcript.Scan(gc.TranscriptPath, prevOffset, prevMTime)
			d := transcriptData{State: health.TranscriptState{Exists: res.Exists}}
			if !res.Exists {
				return d, nil
			}

			d.State.SizeBytes = res.Size
			d.State.LastModified = res.MTime.UnixMilli()
			d.State.IsSynced = time.Since(res.MTime) < time.Minute

			if res.CacheHit {
				d.State.MessageCount = prev.MessageCount
				d.State.LastMessagePreview = prev.LastMessagePreview
				d.State.LastMessageAt = prev.LastMessageAt
				return d, nil
			}

			sum := transcript.SummarizeLines(res.NewBytes)
			d.State.MessageCount = sum.Messages
			if !res.Truncated {
				d.State.MessageCount += prev.MessageCount
			}
			if sum.LastPreview != "" {
				d.State.LastMessagePreview = sum.LastPreview
				if !sum.LastAt.IsZero() {
					d.State.LastMessageAt = sum.LastAt.UnixMilli()
				}
			} else {
				d.State.LastMessagePreview = prev.LastMessagePreview
				d.State.LastMessageAt = prev.LastMessageAt
			}
			d.Model = sum.LastModel
			return d, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			d := data.(transcriptData)
			h.Transcript = d.State
			// The transcript is the most trustworthy model witness.
			if d.Model != "" {
				h.Model = health.ModelInfo{Value: d.Model, Source: health.ModelFromTranscript, Confidence: 95}
			}
		},
	})

	reg.Register(&source.Descriptor{
		ID:       SrcSecretScan,
		Tier:     source.Tier2,
		Category: freshness.CategorySecrets,
		Timeout:  3 * time.Second,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			data, err := readTail(gc.TranscriptPath, 256<<10)
			if err != nil {
				return nil, nil // absent transcript, nothing to scan
			}
			return secrets.Scan(data), nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			findings := data.([]secrets.Finding)
			h.Alerts.SecretsDetected = len(findings) > 0
			for _, f := range findings {
				h.Alerts.Secrets = append(h.Alerts.Secrets, health.SecretAlert{Type: f.Type, Sample: f.Sample})
			}
		},
	})

	reg.Register(&source.Descriptor{
		ID:       SrcLocalCost,
		Tier:     source.Tier2,
		Category: freshness.CategoryLocalCost,
		Timeout:  5 * time.Second,
		Fetch: func(_ context.Context, gc *source.GatherContext) (any, error) {
			sum := transcript.CalculateFile(gc.TranscriptPath)
			if sum.Messages == 0 {
				return nil, nil
			}
			return sum, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			sum := data.(transcript.CostSummary)
			// Local pricing is the billing fallback; the external source
			// overwrites the shared fields when it has anything.
			h.Billing.SessionCost = sum.TotalCost
			h.Billing.TotalTokens = sum.TotalTokens
			h.Billing.TokensPerMinute = sum.TokensPerMinute
			if h.Billing.CostToday == 0 {
				h.Billing.CostToday = sum.TotalCost
				h.Billing.BurnRatePerHour = sum.CostPerHour
				h.Billing.Source = "local-cost"
				h.Billing.LastFetched = time.Now().UnixMilli()
			}
		},
	})

	reg.Register(&source.Descriptor{
		ID:       SrcGitState,
		Tier:     source.Tier2,
		Category: freshness.CategoryGit,
		Timeout:  2 * time.Second,
		Fetch: func(ctx context.Context, gc *source.GatherContext) (any, error) {
			if gc.ProjectPath == "" {
				return nil, nil
			}
			st, err := gitstate.Collect(ctx, gc.ProjectPath)
			if err != nil || st == nil {
				return nil, err
			}
			return st, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			h.Git = data.(*health.GitState)
		},
	})

	// Tier 3: global shared state under single-flight.

	reg.Register(&source.Descriptor{
		ID:        SrcBilling,
		Tier:      source.Tier3,
		Category:  freshness.CategoryBilling,
		Timeout:   10 * time.Second,
		UsesCache: true,
		Available: func(*source.GatherContext) bool { return billing != nil },
		Fetch: func(ctx context.Context, _ *source.GatherContext) (any, error) {
			if billing == nil {
				return nil, errors.New("no billing fetcher configured")
			}
			return billing(ctx)
		},
		Merge: func(h *health.SessionHealth, data any) {
			e := data.(cachedEntry)
			var b BillingData
			if json.Unmarshal(e.Raw, &b) != nil {
				return
			}
			h.Billing.CostToday = b.CostToday
			if b.SessionCost > 0 {
				h.Billing.SessionCost = b.SessionCost
			}
			if b.BurnRatePerHour > 0 {
				h.Billing.BurnRatePerHour = b.BurnRatePerHour
			}
			h.Billing.BudgetRemainingMin = b.BudgetRemainingMin
			h.Billing.BudgetPercentUsed = b.BudgetPercentUsed
			h.Billing.ResetAt = b.ResetAt
			h.Billing.LastFetched = e.FetchedAt
			h.Billing.Source = "external"
		},
	})

	reg.Register(&source.Descriptor{
		ID:        SrcWeeklyQuota,
		Tier:      source.Tier3,
		Category:  freshness.CategoryWeeklyQuota,
		Timeout:   2 * time.Second,
		UsesCache: true,
		Available: func(*source.GatherContext) bool {
			_, err := os.Stat(filepath.Join(cfg.BaseDir, "merged-quota-cache.json"))
			return err == nil
		},
		Fetch: func(_ context.Context, _ *source.GatherContext) (any, error) {
			path := filepath.Join(cfg.BaseDir, "merged-quota-cache.json")
			d := weeklyData{}
			if q, ok := hotswap.ReadWeeklyQuota(path); ok {
				d.Quota = q
			}
			if b, ok := hotswap.ReadBudget(path); ok {
				d.Budget = b
			}
			if d.Quota == nil && d.Budget == nil {
				return nil, errors.New("quota cache unreadable")
			}
			return d, nil
		},
		Merge: func(h *health.SessionHealth, data any) {
			e := data.(cachedEntry)
			var d struct {
				Quota  *health.WeeklyQuota `json:"Quota"`
				Budget *hotswap.Budget     `json:"Budget"`
			}
			if json.Unmarshal(e.Raw, &d) != nil {
				return
			}
			if d.Quota != nil {
				d.Quota.Stale = !freshness.IsFresh(e.FetchedAt, freshness.CategoryWeeklyQuota)
				h.Billing.Weekly = d.Quota
			}
			if d.Budget != nil {
				h.Billing.BudgetRemainingMin = d.Budget.RemainingMin
				h.Billing.BudgetPercentUsed = d.Budget.PercentUsed
				h.Billing.ResetAt = d.Budget.ResetAt
				if h.Billing.LastFetched == 0 {
					h.Billing.LastFetched = e.FetchedAt
				}
			}
		},
	})

	reg.Register(&source.Descriptor{
		ID:        SrcVersion,
		Tier:      source.Tier3,
		Category:  freshness.CategoryVersion,
		Timeout:   3 * time.Second,
		UsesCache: true,
		Available: func(*source.GatherContext) bool {
			_, err := exec.LookPath("claude")
			return err == nil
		},
		Fetch: func(ctx context.Context, _ *source.GatherContext) (any, error) {
			out, err := exec.CommandContext(ctx, "claude", "--version").Output()
			if err != nil {
				return nil, err
			}
			v := strings.TrimSpace(string(out))
			if v == "" {
				return nil, errors.New("empty version output")
			}
			return v, nil
		},
		// The installed version feeds the lock file and the version_update
		// notification in post-processing, not the health record.
		Merge: nil,
	})

	reg.Register(&source.Descriptor{
		ID:       SrcSlotRec,
		Tier:     source.Tier3,
		Category: freshness.CategoryQuota,
		Timeout:  time.Second,
		Available: func(*source.GatherContext) bool {
			_, err := os.Stat(filepath.Join(cfg.BaseDir, "slot-recommendation.json"))
			return err == nil
		},
		Fetch: func(_ context.Context, _ *source.GatherContext) (any, error) {
			rec, ok := hotswap.ReadSlotRecommendation(filepath.Join(cfg.BaseDir, "slot-recommendation.json"))
			if !ok {
				return nil, errors.New("no usable recommendation")
			}
			return rec, nil
		},
		Merge: nil, // consumed by post-processing for the slot_switch notification
	})

	return reg
}

// readTail returns at most max bytes from the end of the file.
func readTail(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > max {
		if _, err := f.Seek(-max, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}
