// Package notify stores transient statusline notifications with an
// intermittent display cycle: show for 30 seconds, hide for 5 minutes,
// repeat until dismissed. State lives in notifications.json so every
// process on the host agrees on where each notification is in its cycle.
package notify

import (
	"sort"
	"time"

	"github.com/joestump/claude-pulse/internal/fsatomic"
)

// Type enumerates the notification kinds.
type Type string

const (
	TypeVersionUpdate Type = "version_update"
	TypeSlotSwitch    Type = "slot_switch"
	TypeRestartReady  Type = "restart_ready"
)

// Record is one notification's state.
type Record struct {
	Type        Type   `json:"type"`
	Message     string `json:"message"`
	Priority    int    `json:"priority"` // 1-10, higher shows first
	CreatedAt   int64  `json:"created_at"`
	LastShownAt int64  `json:"last_shown_at,omitempty"`
	ShowCount   int    `json:"show_count,omitempty"`
	Dismissed   bool   `json:"dismissed,omitempty"`
}

// Display cycle lengths.
const (
	showPeriod = 30 * time.Second
	hidePeriod = 5 * time.Minute
)

// Phase is where a record sits in its display cycle.
type Phase string

const (
	PhaseReady   Phase = "ready"   // never shown, or the hide period elapsed
	PhaseShowing Phase = "showing" // inside the 30 s show window
	PhaseHiding  Phase = "hiding"  // suppressed until the cycle restarts
)

// PhaseOf computes the record's current phase.
func PhaseOf(r *Record, now time.Time) Phase {
	if r.LastShownAt <= 0 {
		return PhaseReady
	}
	elapsed := now.Sub(time.UnixMilli(r.LastShownAt))
	switch {
	case elapsed < showPeriod:
		return PhaseShowing
	case elapsed < showPeriod+hidePeriod:
		return PhaseHiding
	default:
		return PhaseReady
	}
}

type file struct {
	Notifications map[Type]*Record `json:"notifications"`
}

// Store is the file-backed notification table.
type Store struct {
	path string
}

// NewStore creates a Store over path (canonically notifications.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() *file {
	f := &file{Notifications: map[Type]*Record{}}
	fsatomic.ReadJSON(s.path, f)
	if f.Notifications == nil {
		f.Notifications = map[Type]*Record{}
	}
	return f
}

func (s *Store) save(f *file) error {
	return fsatomic.WriteJSON(s.path, f)
}

// Register upserts a notification and clears any dismissal. An existing
// record keeps its place in the display cycle; only message and priority
// refresh.
func (s *Store) Register(typ Type, message string, priority int) error {
	f := s.load()
	now := time.Now().UnixMilli()
	if r, ok := f.Notifications[typ]; ok {
		r.Message = message
		r.Priority = priority
		r.Dismissed = false
	} else {
		f.Notifications[typ] = &Record{
			Type:      typ,
			Message:   message,
			Priority:  priority,
			CreatedAt: now,
		}
	}
	return s.save(f)
}

// Dismiss marks a notification as handled; it stops displaying until
// re-registered.
func (s *Store) Dismiss(typ Type) error {
	f := s.load()
	if r, ok := f.Notifications[typ]; ok {
		r.Dismissed = true
		return s.save(f)
	}
	return nil
}

// RecordShown starts a new show cycle for the record, but only when the
// record is ready: re-recording mid-cycle must not extend the window or
// inflate the count.
func (s *Store) RecordShown(typ Type) error {
	f := s.load()
	r, ok := f.Notifications[typ]
	if !ok {
		return nil
	}
	if PhaseOf(r, time.Now()) != PhaseReady {
		return nil
	}
	r.LastShownAt = time.Now().UnixMilli()
	r.ShowCount++
	return s.save(f)
}

// Active returns non-dismissed notifications currently inside their show
// window, sorted by priority descending.
func (s *Store) Active() []Record {
	f := s.load()
	now := time.Now()
	var out []Record
	for _, r := range f.Notifications {
		if r.Dismissed {
			continue
		}
		if PhaseOf(r, now) == PhaseShowing {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Ready returns non-dismissed notifications waiting to start a show cycle.
// The broker calls RecordShown for these before rendering.
func (s *Store) Ready() []Record {
	f := s.load()
	now := time.Now()
	var out []Record
	for _, r := range f.Notifications {
		if r.Dismissed {
			continue
		}
		if PhaseOf(r, now) == PhaseReady {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Cleanup removes records dismissed more than maxAge ago.
func (s *Store) Cleanup(maxAge time.Duration) error {
	f := s.load()
	now := time.Now()
	changed := false
	for typ, r := range f.Notifications {
		if r.Dismissed && now.Sub(time.UnixMilli(r.CreatedAt)) > maxAge {
			delete(f.Notifications, typ)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.save(f)
}
