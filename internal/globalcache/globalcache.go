// Package globalcache is the shared cross-session cache of Tier-3 data.
// One JSON file per host maps sourceId to its last fetched payload; a short
// in-memory TTL in front of the file keeps the per-second polling cheap
// while still re-observing other processes' writes quickly.
package globalcache

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/joestump/claude-pulse/internal/fsatomic"
)

// SchemaVersion is bumped when the file layout changes; readers tolerate
// older versions by treating them as empty.
const SchemaVersion = 2

// memoryTTL bounds how long a process trusts its in-memory copy.
const memoryTTL = 10 * time.Second

// Entry is one source's cached payload.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt int64           `json:"fetched_at"` // epoch ms
	FetchedBy int             `json:"fetched_by"` // pid of the fetcher
}

// File is the on-disk shape of data-cache.json.
type File struct {
	Version   int              `json:"version"`
	UpdatedAt int64            `json:"updated_at"`
	Sources   map[string]Entry `json:"sources"`
}

func emptyFile() *File {
	return &File{Version: SchemaVersion, Sources: map[string]Entry{}}
}

// Store reads and writes the shared cache file.
type Store struct {
	path string

	mu    sync.Mutex
	mem   *File
	memAt time.Time
}

// NewStore creates a Store over path (canonically data-cache.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the current merged view, from memory when young enough,
// otherwise from disk. Always returns a usable (possibly empty) File.
func (s *Store) Read() *File {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mem != nil && time.Since(s.memAt) < memoryTTL {
		return s.mem
	}
	f := s.readDisk()
	s.mem = f
	s.memAt = time.Now()
	return f
}

func (s *Store) readDisk() *File {
	var f File
	if !fsatomic.ReadJSON(s.path, &f) || f.Sources == nil || f.Version > SchemaVersion {
		return emptyFile()
	}
	return &f
}

// Update merges entries into the latest on-disk state (bypassing the memory
// cache so a concurrent writer's entries survive), bumps UpdatedAt, writes
// atomically, and invalidates the memory cache. Last writer wins per source.
func (s *Store) Update(entries map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	f := s.readDisk()
	for id, e := range entries {
		f.Sources[id] = e
	}
	f.Version = SchemaVersion
	f.UpdatedAt = time.Now().UnixMilli()

	if err := fsatomic.WriteJSON(s.path, f); err != nil {
		return err
	}
	s.mem = nil
	return nil
}

// SourceAge returns how old a source's entry is; ok is false when the
// source is absent (callers treat that as infinitely old).
func (s *Store) SourceAge(sourceID string) (time.Duration, bool) {
	f := s.Read()
	e, ok := f.Sources[sourceID]
	if !ok || e.FetchedAt <= 0 {
		return 0, false
	}
	return time.Since(time.UnixMilli(e.FetchedAt)), true
}

// Invalidate drops the memory layer so the next Read hits the disk. Used
// after external processes are known to have written.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.mem = nil
	s.mu.Unlock()
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the cache file is present on disk at all.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}
