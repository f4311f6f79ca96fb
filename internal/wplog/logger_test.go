package wplog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)
}

func TestLogWritesAllSinks(t *testing.T) {
	stateDir := t.TempDir()
	kroot := t.TempDir()

	l := New(stateDir, kroot, "20250615-103000")
	l.now = fixedClock

	l.Log(CategoryPhase, "phase %d started", 2)

	want := "[2025-06-15 10:30:00] [PHASE] phase 2 started\n"

	paths := []string{
		filepath.Join(stateDir, "workflow.log"),
		filepath.Join(kroot, "logs", "sessions", "2025-06-15-supervisor-20250615-103000.log"),
		filepath.Join(kroot, "logs", "2025-06-15.log"),
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", p, data, want)
		}
	}
}

func TestLogEscapesNewlines(t *testing.T) {
	stateDir := t.TempDir()
	l := New(stateDir, "", "wf")
	l.now = fixedClock

	l.Log(CategoryError, "line1\nline2")

	data, err := os.ReadFile(filepath.Join(stateDir, "workflow.log"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(data), "\n") != 1 {
		t.Errorf("expected single line, got %q", data)
	}
	if !strings.Contains(string(data), `line1\nline2`) {
		t.Errorf("newline not escaped: %q", data)
	}
}

func TestLogNeverPanicsOnBadSink(t *testing.T) {
	// State dir under a regular file: appends must fail silently.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(filepath.Join(blocker, "nested"), "", "wf")
	l.Log(CategoryWorkflow, "should not panic")
}

func TestCurrentSymlink(t *testing.T) {
	kroot := t.TempDir()
	l := New(t.TempDir(), kroot, "wfid")
	l.now = fixedClock
	l.linkCurrent()

	link := filepath.Join(kroot, "logs", "current.log")
	target, err := os.Readlink(link)
	if err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if !strings.Contains(target, "supervisor-wfid") {
		t.Errorf("unexpected symlink target %q", target)
	}
}
