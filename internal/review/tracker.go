// Package review implements the concurrent reviewer subsystem that
// watches implementation-phase file writes and feeds advisory issues
// back to the implementer.
//
// The coordinator owns the four internal pieces: the file-change
// tracker, the review trigger, the feedback queue, and the reviewer
// agent (a second, lighter assistant session).
package review

import (
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/waypoints/internal/wplog"
)

// FileChange records one Write/Edit observed by the post-tool hook.
type FileChange struct {
	Path      string
	Tool      string
	Timestamp time.Time
}

// Tracker accumulates pending file changes, deduplicated by path
// (latest write wins). All methods are safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	changes map[string]FileChange
	log     *wplog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(log *wplog.Logger) *Tracker {
	return &Tracker{changes: make(map[string]FileChange), log: log}
}

// RecordChange notes a write, overwriting any prior entry for the path.
func (t *Tracker) RecordChange(path, tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes[path] = FileChange{Path: path, Tool: tool, Timestamp: time.Now()}
}

// PendingChanges returns path→content for every pending change. Files
// are read on a small I/O pool; unreadable ones are skipped.
func (t *Tracker) PendingChanges() map[string]string {
	paths := t.ChangedPaths()
	out := make(map[string]string, len(paths))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(4)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				t.log.Log(wplog.CategoryReviewer, "skipping unreadable file %s: %v", p, err)
				return nil
			}
			mu.Lock()
			out[p] = string(data)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

// ChangedPaths returns the pending paths in sorted order.
func (t *Tracker) ChangedPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.changes))
	for p := range t.changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// PendingCount returns the number of pending changes.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes)
}

// ClearPending empties the tracker.
func (t *Tracker) ClearPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = make(map[string]FileChange)
}
