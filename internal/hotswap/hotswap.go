// Package hotswap consumes the files maintained by the external hot-swap
// account manager: the YAML account registry and its JSON quota caches.
// Everything here is read-only and validation-tolerant; a malformed or
// missing file is simply "no data", never an error the broker must handle.
package hotswap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/joestump/claude-pulse/internal/health"
)

// Account is one entry of the hot-swap registry.
type Account struct {
	SlotID          string `yaml:"slot_id"`
	Email           string `yaml:"email"`
	ConfigDir       string `yaml:"config_dir"`
	KeychainService string `yaml:"keychain_service"`
	Default         bool   `yaml:"default"`
}

// Registry is the parsed accounts.yaml.
type Registry struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadRegistry parses the account registry; a missing or malformed file
// yields an empty registry.
func LoadRegistry(path string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Registry{}
	}
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return &Registry{}
	}
	return &r
}

// Detection is the resolved auth profile plus how it was identified.
type Detection struct {
	Account *Account
	Method  health.DetectionMethod
}

// Detect resolves the active account: the CLAUDE_CONFIG_DIR environment
// value first, then a config-dir path match, then a keychain-service
// fingerprint, finally the registry's default slot.
func (r *Registry) Detect(envConfigDir, configDir, keychainService string) Detection {
	if envConfigDir != "" {
		if a := r.byConfigDir(envConfigDir); a != nil {
			return Detection{Account: a, Method: health.DetectEnv}
		}
	}
	if configDir != "" {
		if a := r.byConfigDir(configDir); a != nil {
			return Detection{Account: a, Method: health.DetectPath}
		}
	}
	if keychainService != "" {
		for i := range r.Accounts {
			if r.Accounts[i].KeychainService == keychainService {
				return Detection{Account: &r.Accounts[i], Method: health.DetectFingerprint}
			}
		}
	}
	for i := range r.Accounts {
		if r.Accounts[i].Default {
			return Detection{Account: &r.Accounts[i], Method: health.DetectDefault}
		}
	}
	return Detection{Method: health.DetectDefault}
}

func (r *Registry) byConfigDir(dir string) *Account {
	clean := filepath.Clean(dir)
	for i := range r.Accounts {
		if filepath.Clean(r.Accounts[i].ConfigDir) == clean {
			return &r.Accounts[i]
		}
	}
	return nil
}

// Budget is the session budget block from the merged quota cache.
type Budget struct {
	RemainingMin int
	PercentUsed  int
	ResetAt      int64
}

// ReadWeeklyQuota probes merged-quota-cache.json for the weekly block.
func ReadWeeklyQuota(path string) (*health.WeeklyQuota, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil, false
	}
	v := gjson.ParseBytes(data)
	wk := v.Get("weekly")
	if !wk.Exists() {
		return nil, false
	}
	q := &health.WeeklyQuota{
		PercentUsed:    int(wk.Get("percent_used").Int()),
		RemainingHours: wk.Get("remaining_hours").Float(),
		ResetDay:       wk.Get("reset_day").String(),
		LastModified:   v.Get("updated_at").Int(),
	}
	if q.PercentUsed < 0 || q.PercentUsed > 100 {
		return nil, false
	}
	return q, true
}

// ReadBudget probes merged-quota-cache.json for the session budget block.
func ReadBudget(path string) (*Budget, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil, false
	}
	s := gjson.ParseBytes(data).Get("session")
	if !s.Exists() {
		return nil, false
	}
	return &Budget{
		RemainingMin: int(s.Get("budget_remaining_min").Int()),
		PercentUsed:  int(s.Get("budget_percent_used").Int()),
		ResetAt:      s.Get("reset_at").Int(),
	}, true
}

// SlotRecommendation is the account manager's routing suggestion.
type SlotRecommendation struct {
	Slot      string
	Reason    string
	UpdatedAt int64
}

// ReadSlotRecommendation probes slot-recommendation.json.
func ReadSlotRecommendation(path string) (*SlotRecommendation, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !gjson.ValidBytes(data) {
		return nil, false
	}
	v := gjson.ParseBytes(data)
	slot := strings.TrimSpace(v.Get("recommended_slot").String())
	if slot == "" {
		return nil, false
	}
	return &SlotRecommendation{
		Slot:      slot,
		Reason:    v.Get("reason").String(),
		UpdatedAt: v.Get("updated_at").Int(),
	}, true
}
