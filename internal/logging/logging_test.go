package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	l := New(path, LevelInfo)

	l.Infof("hello %s", "world")
	l.Debugf("suppressed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), lines)
	}
	line := lines[0]
	if !strings.Contains(line, fmt.Sprintf("[PID:%d]", os.Getpid())) {
		t.Errorf("missing PID tag: %q", line)
	}
	if !strings.Contains(line, "[INFO] hello world") {
		t.Errorf("missing level/message: %q", line)
	}
	if !strings.HasPrefix(line, "[") {
		t.Errorf("missing timestamp bracket: %q", line)
	}
}

func TestEmbeddedNewlinesFlattened(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	l := New(path, LevelInfo)

	l.Warnf("line one\nline two")

	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), "\n"); got != 1 {
		t.Errorf("expected single line, got %d newlines", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotateKeepsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	var b strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Rotate(path, 500); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 500 {
		t.Fatalf("expected 500 lines, got %d", len(lines))
	}
	if lines[0] != "line 500" || lines[499] != "line 999" {
		t.Errorf("wrong tail: first=%q last=%q", lines[0], lines[499])
	}
}

func TestRotateNoopWhenSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Rotate(path, 500); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\n" {
		t.Errorf("file changed: %q", data)
	}
}
