// Package sessionlock ties each session to an immutable identity record.
// The lock file is created once with the launch tuple and only its mutable
// head (version and check timestamps) is ever updated afterwards.
package sessionlock

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joestump/claude-pulse/internal/fsatomic"
	"github.com/joestump/claude-pulse/internal/sanitize"
)

// LockFileVersion is the current on-disk schema.
const LockFileVersion = 1

// Lock is the per-session identity record. The fields above the mutable
// head never change after creation.
type Lock struct {
	SessionID       string `json:"session_id"`
	LaunchedAt      int64  `json:"launched_at"` // epoch ms
	SlotID          string `json:"slot_id,omitempty"`
	ConfigDir       string `json:"config_dir,omitempty"`
	KeychainService string `json:"keychain_service,omitempty"`
	Email           string `json:"email,omitempty"` // stored masked
	TranscriptPath  string `json:"transcript_path,omitempty"`
	Tmux            string `json:"tmux,omitempty"`

	// Mutable head.
	ClaudeVersion    string `json:"claude_version,omitempty"`
	LastVersionCheck int64  `json:"last_version_check,omitempty"`
	LastIdleCheck    int64  `json:"last_idle_check,omitempty"`
	UpdatedAt        int64  `json:"updated_at"`
	LockFileVersion  int    `json:"lock_file_version"`
}

// Identity is the immutable tuple recorded at creation.
type Identity struct {
	SlotID          string
	ConfigDir       string
	KeychainService string
	Email           string
	TranscriptPath  string
	Tmux            string
}

// Mutable carries the whitelisted updatable fields; nil pointers mean
// "leave as is".
type Mutable struct {
	ClaudeVersion    *string
	LastVersionCheck *int64
	LastIdleCheck    *int64
}

// Store reads and writes lock files under the base directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".lock")
}

// Get returns the existing lock or nil.
func (s *Store) Get(sessionID string) *Lock {
	if !sanitize.ValidSessionID(sessionID) {
		return nil
	}
	var l Lock
	if !fsatomic.ReadJSON(s.path(sessionID), &l) || l.SessionID == "" {
		return nil
	}
	return &l
}

// GetOrCreate returns the existing lock unchanged, or creates one
// recording the immutable identity tuple. Session IDs outside the strict
// form are rejected at this boundary.
func (s *Store) GetOrCreate(sessionID string, id Identity) (*Lock, error) {
	if !sanitize.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("invalid session id %q", sanitize.SessionID(sessionID))
	}

	if existing := s.Get(sessionID); existing != nil {
		return existing, nil
	}

	now := time.Now().UnixMilli()
	l := &Lock{
		SessionID:       sessionID,
		LaunchedAt:      now,
		SlotID:          id.SlotID,
		ConfigDir:       id.ConfigDir,
		KeychainService: id.KeychainService,
		Email:           sanitize.Email(id.Email),
		TranscriptPath:  id.TranscriptPath,
		Tmux:            id.Tmux,
		UpdatedAt:       now,
		LockFileVersion: LockFileVersion,
	}
	if id.Email == "" {
		l.Email = ""
	}
	if err := fsatomic.WriteJSON(s.path(sessionID), l); err != nil {
		return nil, err
	}
	return l, nil
}

// Update merges only the whitelisted mutable fields into the existing
// lock, bumps UpdatedAt, and writes atomically.
func (s *Store) Update(sessionID string, m Mutable) (*Lock, error) {
	if !sanitize.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("invalid session id %q", sanitize.SessionID(sessionID))
	}
	l := s.Get(sessionID)
	if l == nil {
		return nil, fmt.Errorf("no lock for session %s", sessionID)
	}

	if m.ClaudeVersion != nil {
		l.ClaudeVersion = *m.ClaudeVersion
	}
	if m.LastVersionCheck != nil {
		l.LastVersionCheck = *m.LastVersionCheck
	}
	if m.LastIdleCheck != nil {
		l.LastIdleCheck = *m.LastIdleCheck
	}
	l.UpdatedAt = time.Now().UnixMilli()
	l.LockFileVersion = LockFileVersion

	if err := fsatomic.WriteJSON(s.path(sessionID), l); err != nil {
		return nil, err
	}
	return l, nil
}
