package fsatomic

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestWriteFileCreatesParents(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "a", "b", "state.json")

	if err := WriteFile(path, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	dirInfo, _ := os.Stat(filepath.Join(base, "a"))
	if dirInfo.Mode().Perm() != 0o700 {
		t.Errorf("dir mode = %v, want 0700", dirInfo.Mode().Perm())
	}
}

func TestWriteFileLeavesNoTemp(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "state.json")
	if err := WriteFile(path, []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(base)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("stray temp file %s", e.Name())
		}
	}
}

// Concurrent writers must leave the file equal to exactly one write, never
// an interleaving.
func TestConcurrentWritesNeverTorn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contended.json")
	payloads := []string{
		strings.Repeat("A", 4096),
		strings.Repeat("B", 4096),
		strings.Repeat("C", 4096),
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = WriteFile(path, []byte(payloads[i%len(payloads)]))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(data)
	for _, p := range payloads {
		if got == p {
			return
		}
	}
	t.Errorf("file content matches no single write (len=%d, first byte=%q)", len(got), got[:1])
}

func TestReadJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	in := map[string]int{"a": 1}
	if err := WriteJSON(path, in); err != nil {
		t.Fatal(err)
	}

	var out map[string]int
	if !ReadJSON(path, &out) {
		t.Fatal("expected read to succeed")
	}
	if out["a"] != 1 {
		t.Errorf("out = %v", out)
	}
}

func TestReadJSONMissingAndMalformed(t *testing.T) {
	var out map[string]int
	if ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out) {
		t.Error("expected false for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	out = map[string]int{"keep": 1}
	if ReadJSON(path, &out) {
		t.Error("expected false for malformed file")
	}
	if out["keep"] != 1 {
		t.Error("value should be untouched on parse failure")
	}
}

func TestTouchUpdatesMTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cd", "fm-billing.cooldown")
	if err := Touch(path); err != nil {
		t.Fatalf("touch: %v", err)
	}
	first, _ := os.Stat(path)

	if err := Touch(path); err != nil {
		t.Fatalf("second touch: %v", err)
	}
	second, _ := os.Stat(path)
	if second.ModTime().Before(first.ModTime()) {
		t.Error("mtime went backwards")
	}
}
