// Package health defines the per-session health record assembled on every
// gather, plus its lossy durable form used for external sync.
package health

// Status classifies the overall session state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// DetectionMethod says how the active auth profile was identified.
type DetectionMethod string

const (
	DetectEnv         DetectionMethod = "env"
	DetectPath        DetectionMethod = "path"
	DetectFingerprint DetectionMethod = "fingerprint"
	DetectDefault     DetectionMethod = "default"
)

// ModelSource says where the displayed model name came from.
type ModelSource string

const (
	ModelFromTranscript ModelSource = "transcript"
	ModelFromInput      ModelSource = "input"
	ModelFromSettings   ModelSource = "settings"
	ModelFromDefault    ModelSource = "default"
)

// LaunchContext records how the session was launched.
type LaunchContext struct {
	AuthProfile     string          `json:"auth_profile,omitempty"`
	DetectionMethod DetectionMethod `json:"detection_method,omitempty"`
	SlotID          string          `json:"slot_id,omitempty"`
	ConfigDir       string          `json:"config_dir,omitempty"`
	KeychainService string          `json:"keychain_service,omitempty"`
	Email           string          `json:"email,omitempty"` // already masked
}

// TranscriptState summarizes the session's append-only transcript file.
type TranscriptState struct {
	Exists             bool   `json:"exists"`
	SizeBytes          int64  `json:"size_bytes,omitempty"`
	LastModified       int64  `json:"last_modified,omitempty"` // epoch ms
	MessageCount       int    `json:"message_count,omitempty"`
	LastMessagePreview string `json:"last_message_preview,omitempty"`
	LastMessageAt      int64  `json:"last_message_at,omitempty"`
	IsSynced           bool   `json:"is_synced"` // mtime within 60 s of now
}

// ModelInfo is the resolved model identity with a confidence score 0-100.
type ModelInfo struct {
	Value      string      `json:"value,omitempty"`
	Source     ModelSource `json:"source,omitempty"`
	Confidence int         `json:"confidence,omitempty"`
}

// ContextWindow carries the token math against the compaction threshold.
type ContextWindow struct {
	WindowSize          int  `json:"window_size,omitempty"`
	TokensUsed          int  `json:"tokens_used,omitempty"`
	CompactionThreshold int  `json:"compaction_threshold,omitempty"`
	TokensLeft          int  `json:"tokens_left"`
	PercentUsed         int  `json:"percent_used"`
	NearCompaction      bool `json:"near_compaction"`
}

// GitState is the working-copy VCS summary.
type GitState struct {
	Branch      string `json:"branch,omitempty"`
	Ahead       int    `json:"ahead,omitempty"`
	Behind      int    `json:"behind,omitempty"`
	Dirty       bool   `json:"dirty"`
	LastChecked int64  `json:"last_checked,omitempty"`
}

// WeeklyQuota is the optional weekly budget block.
type WeeklyQuota struct {
	PercentUsed    int     `json:"percent_used"`
	RemainingHours float64 `json:"remaining_hours,omitempty"`
	ResetDay       string  `json:"reset_day,omitempty"`
	LastModified   int64   `json:"last_modified,omitempty"`
	Stale          bool    `json:"stale"`
}

// Billing is cost and budget state. IsFresh is always derived from
// LastFetched by the freshness authority, never trusted as stored truth.
type Billing struct {
	CostToday          float64      `json:"cost_today"`
	SessionCost        float64      `json:"session_cost"`
	BurnRatePerHour    float64      `json:"burn_rate_per_hour,omitempty"`
	BudgetRemainingMin int          `json:"budget_remaining_min,omitempty"`
	BudgetPercentUsed  int          `json:"budget_percent_used,omitempty"`
	ResetAt            int64        `json:"reset_at,omitempty"`
	Weekly             *WeeklyQuota `json:"weekly,omitempty"`
	TotalTokens        int64        `json:"total_tokens,omitempty"`
	TokensPerMinute    float64      `json:"tokens_per_minute,omitempty"`
	LastFetched        int64        `json:"last_fetched,omitempty"`
	IsFresh            bool         `json:"is_fresh"`
	Source             string       `json:"source,omitempty"` // external, local-cost, stale
}

// SecretAlert is one detected credential in the transcript.
type SecretAlert struct {
	Type   string `json:"type"`
	Sample string `json:"sample"` // heavily truncated
}

// Alerts is the derived alert block.
type Alerts struct {
	SecretsDetected bool          `json:"secrets_detected"`
	Secrets         []SecretAlert `json:"secrets,omitempty"`
	TranscriptStale bool          `json:"transcript_stale"`
	DataLossRisk    bool          `json:"data_loss_risk"`
}

// SessionHealth is the full per-invocation record. It is rebuilt from
// scratch on every gather; the previous record is consulted only to
// preserve FirstSeen and to provide stale billing fallbacks.
type SessionHealth struct {
	SessionID       string              `json:"session_id"`
	ProjectPath     string              `json:"project_path,omitempty"`
	TranscriptPath  string              `json:"transcript_path,omitempty"`
	FirstSeen       int64               `json:"first_seen"` // epoch ms, preserved forever
	GatheredAt      int64               `json:"gathered_at"`
	SessionDuration int64               `json:"session_duration_ms,omitempty"`
	Launch          LaunchContext       `json:"launch"`
	Transcript      TranscriptState     `json:"transcript"`
	Model           ModelInfo           `json:"model"`
	Context         ContextWindow       `json:"context"`
	Git             *GitState           `json:"git,omitempty"`
	Billing         Billing             `json:"billing"`
	Alerts          Alerts              `json:"alerts"`
	Status          Status              `json:"status"`
	Issues          []string            `json:"issues,omitempty"`
	FormattedOutput map[string][]string `json:"formatted_output,omitempty"`
}

const (
	// DefaultWindowSize replaces window sizes outside the sane range.
	DefaultWindowSize = 200000
	minWindowSize     = 10000
	maxWindowSize     = 500000

	// compactionNumerator / compactionDenominator express the 78 % of the
	// window at which the session is expected to compact history.
	compactionNumerator   = 78
	compactionDenominator = 100

	nearCompactionPercent = 70
)

// ComputeContext performs the context-window token math with input
// clamping: absurd window sizes fall back to the default, token counts 50 %
// past the window clamp to the window, and percent-of-threshold caps at 100.
func ComputeContext(windowSize, tokensUsed int) ContextWindow {
	if windowSize < minWindowSize || windowSize > maxWindowSize {
		windowSize = DefaultWindowSize
	}
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	if tokensUsed > windowSize*3/2 {
		tokensUsed = windowSize
	}

	threshold := windowSize * compactionNumerator / compactionDenominator
	left := threshold - tokensUsed
	if left < 0 {
		left = 0
	}
	percent := 0
	if threshold > 0 {
		percent = tokensUsed * 100 / threshold
		if percent > 100 {
			percent = 100
		}
	}

	return ContextWindow{
		WindowSize:          windowSize,
		TokensUsed:          tokensUsed,
		CompactionThreshold: threshold,
		TokensLeft:          left,
		PercentUsed:         percent,
		NearCompaction:      percent >= nearCompactionPercent,
	}
}
