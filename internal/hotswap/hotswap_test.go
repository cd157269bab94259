package hotswap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joestump/claude-pulse/internal/health"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const registryYAML = `
accounts:
  - slot_id: slot-a
    email: alice@example.com
    config_dir: /home/u/.claude-a
    keychain_service: claude-a
  - slot_id: slot-b
    email: bob@example.com
    config_dir: /home/u/.claude-b
    keychain_service: claude-b
    default: true
`

func TestLoadRegistry(t *testing.T) {
	r := LoadRegistry(writeTemp(t, "accounts.yaml", registryYAML))
	if len(r.Accounts) != 2 {
		t.Fatalf("accounts = %d", len(r.Accounts))
	}
	if r.Accounts[0].SlotID != "slot-a" || !r.Accounts[1].Default {
		t.Errorf("parsed: %+v", r.Accounts)
	}
}

func TestLoadRegistryMissingOrMalformed(t *testing.T) {
	if r := LoadRegistry(filepath.Join(t.TempDir(), "none.yaml")); len(r.Accounts) != 0 {
		t.Error("missing file should be empty registry")
	}
	if r := LoadRegistry(writeTemp(t, "bad.yaml", "accounts: {not a list")); len(r.Accounts) != 0 {
		t.Error("malformed file should be empty registry")
	}
}

func TestDetectPrecedence(t *testing.T) {
	r := LoadRegistry(writeTemp(t, "accounts.yaml", registryYAML))

	cases := []struct {
		name       string
		env        string
		dir        string
		keychain   string
		wantSlot   string
		wantMethod health.DetectionMethod
	}{
		{"env wins", "/home/u/.claude-a", "/home/u/.claude-b", "claude-b", "slot-a", health.DetectEnv},
		{"path next", "", "/home/u/.claude-a/", "claude-b", "slot-a", health.DetectPath},
		{"fingerprint next", "", "/elsewhere", "claude-a", "slot-a", health.DetectFingerprint},
		{"default last", "", "", "", "slot-b", health.DetectDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Detect(tc.env, tc.dir, tc.keychain)
			if d.Method != tc.wantMethod {
				t.Errorf("method = %v, want %v", d.Method, tc.wantMethod)
			}
			if d.Account == nil || d.Account.SlotID != tc.wantSlot {
				t.Errorf("account = %+v, want %s", d.Account, tc.wantSlot)
			}
		})
	}
}

func TestDetectEmptyRegistry(t *testing.T) {
	d := (&Registry{}).Detect("", "", "")
	if d.Account != nil || d.Method != health.DetectDefault {
		t.Errorf("detection = %+v", d)
	}
}

func TestReadWeeklyQuota(t *testing.T) {
	path := writeTemp(t, "merged-quota-cache.json",
		`{"updated_at": 1700000000000, "weekly": {"percent_used": 73, "remaining_hours": 12.5, "reset_day": "Wednesday"}}`)
	q, ok := ReadWeeklyQuota(path)
	if !ok {
		t.Fatal("expected quota")
	}
	if q.PercentUsed != 73 || q.RemainingHours != 12.5 || q.ResetDay != "Wednesday" {
		t.Errorf("quota = %+v", q)
	}
	if q.LastModified != 1700000000000 {
		t.Errorf("lastModified = %d", q.LastModified)
	}
}

func TestReadWeeklyQuotaRejectsOutOfRange(t *testing.T) {
	path := writeTemp(t, "q.json", `{"weekly": {"percent_used": 140}}`)
	if _, ok := ReadWeeklyQuota(path); ok {
		t.Error("percent outside 0-100 must be rejected")
	}
}

func TestReadBudget(t *testing.T) {
	path := writeTemp(t, "q.json",
		`{"session": {"budget_remaining_min": 92, "budget_percent_used": 40, "reset_at": 1700000360000}}`)
	b, ok := ReadBudget(path)
	if !ok || b.RemainingMin != 92 || b.PercentUsed != 40 {
		t.Errorf("budget = %+v ok=%v", b, ok)
	}
}

func TestReadSlotRecommendation(t *testing.T) {
	path := writeTemp(t, "slot-recommendation.json",
		`{"recommended_slot": "slot-b", "reason": "slot-a quota exhausted", "updated_at": 5}`)
	rec, ok := ReadSlotRecommendation(path)
	if !ok || rec.Slot != "slot-b" {
		t.Errorf("rec = %+v ok=%v", rec, ok)
	}

	empty := writeTemp(t, "empty.json", `{"recommended_slot": "  "}`)
	if _, ok := ReadSlotRecommendation(empty); ok {
		t.Error("blank slot must be rejected")
	}
}
