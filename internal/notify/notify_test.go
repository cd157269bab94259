package notify

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "notifications.json"))
}

func TestPhaseOf(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		shown time.Duration // how long ago LastShownAt was; 0 means never
		want  Phase
	}{
		{"never shown", 0, PhaseReady},
		{"just shown", 5 * time.Second, PhaseShowing},
		{"show window closing", 29 * time.Second, PhaseShowing},
		{"hiding", 2 * time.Minute, PhaseHiding},
		{"still hiding", 5 * time.Minute, PhaseHiding},
		{"cycle restarts", 6 * time.Minute, PhaseReady},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Record{}
			if tc.shown > 0 {
				r.LastShownAt = now.Add(-tc.shown).UnixMilli()
			}
			if got := PhaseOf(r, now); got != tc.want {
				t.Errorf("phase = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegisterAndShowCycle(t *testing.T) {
	s := testStore(t)
	if err := s.Register(TypeVersionUpdate, "v2.1.0 available", 5); err != nil {
		t.Fatal(err)
	}

	ready := s.Ready()
	if len(ready) != 1 || ready[0].Type != TypeVersionUpdate {
		t.Fatalf("ready = %v", ready)
	}
	if len(s.Active()) != 0 {
		t.Error("nothing should be showing before RecordShown")
	}

	if err := s.RecordShown(TypeVersionUpdate); err != nil {
		t.Fatal(err)
	}
	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("active = %v", active)
	}
	if active[0].ShowCount != 1 {
		t.Errorf("showCount = %d", active[0].ShowCount)
	}

	// Mid-cycle re-record must not inflate the count.
	if err := s.RecordShown(TypeVersionUpdate); err != nil {
		t.Fatal(err)
	}
	if got := s.Active()[0].ShowCount; got != 1 {
		t.Errorf("showCount after mid-cycle record = %d", got)
	}
}

func TestActiveSortedByPriority(t *testing.T) {
	s := testStore(t)
	_ = s.Register(TypeVersionUpdate, "low", 2)
	_ = s.Register(TypeSlotSwitch, "high", 9)
	_ = s.RecordShown(TypeVersionUpdate)
	_ = s.RecordShown(TypeSlotSwitch)

	active := s.Active()
	if len(active) != 2 {
		t.Fatalf("active = %v", active)
	}
	if active[0].Type != TypeSlotSwitch {
		t.Error("higher priority must come first")
	}
}

func TestDismiss(t *testing.T) {
	s := testStore(t)
	_ = s.Register(TypeRestartReady, "restart when convenient", 7)
	_ = s.Dismiss(TypeRestartReady)

	if len(s.Ready()) != 0 || len(s.Active()) != 0 {
		t.Error("dismissed notification must not display")
	}

	// Re-registering clears the dismissal.
	_ = s.Register(TypeRestartReady, "restart again", 7)
	if len(s.Ready()) != 1 {
		t.Error("re-registration should revive the notification")
	}
}

func TestCleanupRemovesOldDismissed(t *testing.T) {
	s := testStore(t)
	_ = s.Register(TypeVersionUpdate, "old", 1)
	_ = s.Dismiss(TypeVersionUpdate)

	// Backdate createdAt past the cleanup horizon.
	f := s.load()
	f.Notifications[TypeVersionUpdate].CreatedAt = time.Now().Add(-48 * time.Hour).UnixMilli()
	if err := s.save(f); err != nil {
		t.Fatal(err)
	}

	if err := s.Cleanup(24 * time.Hour); err != nil {
		t.Fatal(err)
	}
	if len(s.load().Notifications) != 0 {
		t.Error("old dismissed record should be removed")
	}
}
