package refresh

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joestump/claude-pulse/internal/freshness"
)

const cat = freshness.CategoryBilling

func TestIntentLifecycle(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, ok := s.IntentAge(cat); ok {
		t.Fatal("no intent filed yet")
	}

	if err := s.SignalRefreshNeeded(cat); err != nil {
		t.Fatalf("signal: %v", err)
	}
	age, ok := s.IntentAge(cat)
	if !ok {
		t.Fatal("intent should exist")
	}
	if age > time.Minute {
		t.Errorf("fresh intent reports age %v", age)
	}

	s.ClearIntent(cat)
	if _, ok := s.IntentAge(cat); ok {
		t.Error("intent should be gone")
	}
}

func TestInProgressHeldByLivePID(t *testing.T) {
	s := NewStore(t.TempDir())

	if s.IsRefreshInProgress(cat) {
		t.Fatal("nothing in progress yet")
	}
	claimed, err := s.ClaimRefreshInProgress(cat)
	if err != nil {
		t.Fatal(err)
	}
	if !claimed {
		t.Fatal("claim on a free category should succeed")
	}
	// Our own PID is alive.
	if !s.IsRefreshInProgress(cat) {
		t.Error("expected in-progress for live PID")
	}
}

func TestDeadPIDAutoExpires(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	orig := pidAlive
	pidAlive = func(int) bool { return false }
	defer func() { pidAlive = orig }()

	path := filepath.Join(dir, string(cat)+".inprogress")
	if err := os.WriteFile(path, []byte("999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if s.IsRefreshInProgress(cat) {
		t.Error("dead PID should not hold the category")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("dead owner's file should be removed")
	}
}

func TestGarbagePIDFileExpires(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	path := filepath.Join(dir, string(cat)+".inprogress")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if s.IsRefreshInProgress(cat) {
		t.Error("unparseable PID should not hold the category")
	}
}

func TestSingleFlightExclusive(t *testing.T) {
	s := NewStore(t.TempDir())
	f := NewSingleFlight(s)

	first := f.TryAcquire(cat)
	if !first.Acquired {
		t.Fatalf("first acquire failed: %s", first.Reason)
	}
	second := f.TryAcquire(cat)
	if second.Acquired {
		t.Fatal("second acquire should be rejected")
	}
	if second.Reason != "already_in_progress" {
		t.Errorf("reason = %q", second.Reason)
	}

	f.Release(cat, true)
	if !f.TryAcquire(cat).Acquired {
		t.Error("acquire after release should succeed")
	}
}

func TestSingleFlightReleaseFailureKeepsIntent(t *testing.T) {
	s := NewStore(t.TempDir())
	f := NewSingleFlight(s)

	if !f.TryAcquire(cat).Acquired {
		t.Fatal("acquire failed")
	}
	f.Release(cat, false)

	if _, ok := s.IntentAge(cat); !ok {
		t.Error("failed release should leave the intent for a retry")
	}
	if s.IsRefreshInProgress(cat) {
		t.Error("failed release should drop the inprogress hold")
	}
}

func TestTryAcquireMany(t *testing.T) {
	s := NewStore(t.TempDir())
	f := NewSingleFlight(s)

	// Pre-claim quota so it is filtered from the acquired set.
	if !f.TryAcquire(freshness.CategoryQuota).Acquired {
		t.Fatal("pre-claim failed")
	}

	got := f.TryAcquireMany([]freshness.Category{
		freshness.CategoryBilling,
		freshness.CategoryQuota,
		freshness.CategoryWeeklyQuota,
	})
	if len(got) != 2 {
		t.Fatalf("acquired = %v, want billing and weekly-quota", got)
	}
	for _, c := range got {
		if c == freshness.CategoryQuota {
			t.Error("quota was already held")
		}
	}
}

func TestPruneStaleIntents(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	if err := s.SignalRefreshNeeded(cat); err != nil {
		t.Fatal(err)
	}
	if err := s.SignalRefreshNeeded(freshness.CategoryQuota); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-20 * time.Minute)
	stalePath := filepath.Join(dir, string(cat)+".intent")
	if err := os.Chtimes(stalePath, old, old); err != nil {
		t.Fatal(err)
	}

	if removed := s.PruneStaleIntents(10 * time.Minute); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.IntentAge(cat); ok {
		t.Error("stale intent should be pruned")
	}
	if _, ok := s.IntentAge(freshness.CategoryQuota); !ok {
		t.Error("young intent should survive")
	}
}

// The inprogress claim is an exclusive create, so any number of concurrent
// callers must resolve to exactly one winner per round.
func TestConcurrentAcquireIsExclusive(t *testing.T) {
	s := NewStore(t.TempDir())
	f := NewSingleFlight(s)

	const workers = 32
	for round := 0; round < 100; round++ {
		var (
			start    sync.WaitGroup
			done     sync.WaitGroup
			acquired atomic.Int32
		)
		start.Add(1)
		done.Add(workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer done.Done()
				start.Wait()
				if f.TryAcquire(cat).Acquired {
					acquired.Add(1)
				}
			}()
		}
		start.Done()
		done.Wait()

		if got := acquired.Load(); got != 1 {
			t.Fatalf("round %d: %d callers acquired, want exactly 1", round, got)
		}
		f.Release(cat, true)
	}
}

func TestConcurrentAcquireAlwaysRecovers(t *testing.T) {
	s := NewStore(t.TempDir())
	f := NewSingleFlight(s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryAcquire(cat).Acquired {
				f.Release(cat, true)
			}
		}()
	}
	wg.Wait()

	if !f.TryAcquire(cat).Acquired {
		t.Error("category wedged after concurrent churn")
	}
}
