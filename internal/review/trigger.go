package review

import (
	"sync"

	"github.com/randalmurphal/waypoints/internal/wplog"
)

// DefaultTriggerThreshold fires a review after every file change.
const DefaultTriggerThreshold = 1

// TriggerEvent describes why a review was requested.
type TriggerEvent struct {
	Reason    string
	FileCount int
}

// Trigger counts file changes and fires a callback at a threshold. The
// callback runs synchronously in the hook context and must not block;
// its panics are caught and logged, never propagated to the hook.
type Trigger struct {
	mu        sync.Mutex
	count     int
	threshold int
	callback  func(TriggerEvent)
	log       *wplog.Logger
}

// NewTrigger creates a trigger with the given threshold (minimum 1).
func NewTrigger(threshold int, callback func(TriggerEvent), log *wplog.Logger) *Trigger {
	if threshold < 1 {
		threshold = DefaultTriggerThreshold
	}
	return &Trigger{threshold: threshold, callback: callback, log: log}
}

// OnFileChanged increments the counter and fires the callback when the
// threshold is reached. Returns true when the callback fired.
func (t *Trigger) OnFileChanged() bool {
	t.mu.Lock()
	t.count++
	fire := t.count >= t.threshold
	count := t.count
	t.mu.Unlock()

	if !fire || t.callback == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			t.log.Log(wplog.CategoryError, "review trigger callback panicked: %v", r)
		}
	}()
	t.callback(TriggerEvent{Reason: "file_change_threshold", FileCount: count})
	return true
}

// Reset zeroes the counter.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
}

// Count returns the current counter value.
func (t *Trigger) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
