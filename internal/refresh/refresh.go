// Package refresh implements the cross-process refresh protocol. Two file
// kinds per category live under the intent directory:
//
//	<category>.intent      "someone wants this refreshed", carries a timestamp
//	<category>.inprogress  "this PID is doing it", carries the owner PID
//
// Intents are idempotent signals; the inprogress file is the host-wide
// mutual exclusion, expired automatically when its PID dies. Crashed
// holders never need to clean up.
package refresh

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joestump/claude-pulse/internal/freshness"
	"github.com/joestump/claude-pulse/internal/fsatomic"
)

// pidAlive probes a PID with signal 0. Swapped in tests.
var pidAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Store manages the intent and inprogress files for all categories.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at the refresh-intents directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) intentPath(cat freshness.Category) string {
	return filepath.Join(s.dir, string(cat)+".intent")
}

func (s *Store) inProgressPath(cat freshness.Category) string {
	return filepath.Join(s.dir, string(cat)+".inprogress")
}

// SignalRefreshNeeded records (or refreshes) the intent for a category.
func (s *Store) SignalRefreshNeeded(cat freshness.Category) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return fsatomic.WriteFile(s.intentPath(cat), []byte(ts+"\n"))
}

// ClaimRefreshInProgress claims the category for the calling process. The
// claim is an exclusive create of the inprogress file, so of any number of
// concurrent callers exactly one wins. A dead owner's file is removed and
// the create retried once; a live owner wins outright.
func (s *Store) ClaimRefreshInProgress(cat freshness.Category) (bool, error) {
	path := s.inProgressPath(cat)
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return false, err
	}
	pid := strconv.Itoa(os.Getpid())
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(pid + "\n")
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(path)
				return false, werr
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, err
		}
		// Someone holds the file. A live owner wins; a dead or garbage
		// owner is removed here so the retry can create exclusively.
		if s.IsRefreshInProgress(cat) {
			return false, nil
		}
	}
	return false, nil
}

// IsRefreshInProgress reports whether a live process holds the category.
// A dead owner's file is removed on the spot.
func (s *Store) IsRefreshInProgress(cat freshness.Category) bool {
	data, err := os.ReadFile(s.inProgressPath(cat))
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !pidAlive(pid) {
		_ = os.Remove(s.inProgressPath(cat))
		return false
	}
	return true
}

// IntentAge returns how long ago the intent for cat was filed. The mtime
// is authoritative; the embedded timestamp is a debugging aid.
func (s *Store) IntentAge(cat freshness.Category) (time.Duration, bool) {
	info, err := os.Stat(s.intentPath(cat))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// ClearIntent removes both files after a successful refresh.
func (s *Store) ClearIntent(cat freshness.Category) {
	_ = os.Remove(s.intentPath(cat))
	_ = os.Remove(s.inProgressPath(cat))
}

// ClearInProgress removes only the inprogress file, leaving the intent in
// place so another process retries the failed refresh.
func (s *Store) ClearInProgress(cat freshness.Category) {
	_ = os.Remove(s.inProgressPath(cat))
}

// PruneStaleIntents deletes intent files older than maxAge. Called by the
// cleanup sweeper; returns how many were removed.
func (s *Store) PruneStaleIntents(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".intent") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > maxAge {
			if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// AcquireResult reports a single-flight acquisition attempt.
type AcquireResult struct {
	Acquired bool
	Reason   string // "already_in_progress" when another live PID holds it
}

// SingleFlight coalesces concurrent refresh demands for a category into
// one actual execution per host.
type SingleFlight struct {
	store *Store
}

// NewSingleFlight wraps a Store.
func NewSingleFlight(store *Store) *SingleFlight {
	return &SingleFlight{store: store}
}

// TryAcquire files the intent and, unless another process already holds the
// category, claims it for the caller. Non-blocking.
func (f *SingleFlight) TryAcquire(cat freshness.Category) AcquireResult {
	if err := f.store.SignalRefreshNeeded(cat); err != nil {
		return AcquireResult{Reason: fmt.Sprintf("signal intent: %v", err)}
	}
	claimed, err := f.store.ClaimRefreshInProgress(cat)
	if err != nil {
		return AcquireResult{Reason: fmt.Sprintf("claim inprogress: %v", err)}
	}
	if !claimed {
		return AcquireResult{Reason: "already_in_progress"}
	}
	return AcquireResult{Acquired: true}
}

// TryAcquireMany returns the subset of cats actually acquired. The caller
// must release exactly that subset.
func (f *SingleFlight) TryAcquireMany(cats []freshness.Category) []freshness.Category {
	var acquired []freshness.Category
	for _, cat := range cats {
		if f.TryAcquire(cat).Acquired {
			acquired = append(acquired, cat)
		}
	}
	return acquired
}

// Release ends the caller's hold. Success clears the intent too; failure
// leaves it so the next process retries.
func (f *SingleFlight) Release(cat freshness.Category, success bool) {
	if success {
		f.store.ClearIntent(cat)
		return
	}
	f.store.ClearInProgress(cat)
}
