package source

import (
	"testing"

	"github.com/joestump/claude-pulse/internal/freshness"
)

func desc(id string, tier Tier) *Descriptor {
	return &Descriptor{ID: id, Tier: tier, Category: freshness.CategoryBilling}
}

func TestByTierPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(desc("a", Tier2))
	r.Register(desc("b", Tier1))
	r.Register(desc("c", Tier2))
	r.Register(desc("d", Tier2))

	got := r.ByTier(Tier2)
	want := []string{"a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %d descriptors", len(got))
	}
	for i, d := range got {
		if d.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, d.ID, want[i])
		}
	}
}

func TestReRegisterKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(desc("a", Tier2))
	r.Register(desc("b", Tier2))

	replacement := desc("a", Tier2)
	replacement.Timeout = 42
	r.Register(replacement)

	got := r.ByTier(Tier2)
	if got[0].ID != "a" || got[0].Timeout != 42 {
		t.Errorf("replacement not in original position: %+v", got[0])
	}
	if len(r.All()) != 2 {
		t.Errorf("re-registration must not grow the table")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	r.Register(desc("a", Tier1))
	if r.Get("a") == nil {
		t.Error("expected descriptor")
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown id")
	}
}
