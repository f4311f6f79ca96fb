package review

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// pendingPollInterval is how often WaitForPendingReviews re-checks.
const pendingPollInterval = 500 * time.Millisecond

// Config describes one implementation-phase review setup.
type Config struct {
	Model        string
	Workdir      string
	Threshold    int
	Requirements string
	Interfaces   string
}

// Coordinator owns the reviewer subsystem for one implementation phase:
// the change tracker, the trigger, the feedback queue, and the reviewer
// agent. Reviews run on a single background worker; triggers arriving
// while a review is in flight coalesce into one follow-up review.
type Coordinator struct {
	tracker *Tracker
	trigger *Trigger
	queue   *Queue
	agent   *Agent
	log     *wplog.Logger

	requirements string
	interfaces   string

	mu            sync.Mutex
	active        bool
	degraded      bool
	reviewPending bool
	reviewing     bool
	reviewCount   int
	workerDone    chan struct{}
}

// NewCoordinator wires the subsystem but does not start the reviewer
// session; call Start.
func NewCoordinator(cfg Config, log *wplog.Logger) *Coordinator {
	c := &Coordinator{
		tracker:      NewTracker(log),
		queue:        NewQueue(),
		agent:        NewAgent(cfg.Model, cfg.Workdir, log),
		log:          log,
		requirements: cfg.Requirements,
		interfaces:   cfg.Interfaces,
	}
	c.trigger = NewTrigger(cfg.Threshold, c.onTrigger, log)
	return c
}

// Start brings the reviewer session up. A session that fails to start
// degrades the coordinator: hooks still run, changes are still tracked,
// but no reviews happen and the workflow proceeds unimpeded.
func (c *Coordinator) Start(ctx context.Context) {
	c.agent.Start(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.degraded = c.agent.Degraded()
	if c.degraded {
		c.log.Log(wplog.CategoryReviewer, "coordinator active in degraded mode")
	}
}

// Active reports whether Start has run and Stop has not.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Degraded reports whether reviews are disabled.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// ReviewCount returns how many reviews have completed.
func (c *Coordinator) ReviewCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reviewCount
}

// HandlePostToolUse is the post-tool hook handler: it records Write and
// Edit targets and pokes the trigger. Always allows.
func (c *Coordinator) HandlePostToolUse(input claude.HookInput) claude.HookOutput {
	if !c.Active() {
		return claude.Allow()
	}
	if input.ToolName != "Write" && input.ToolName != "Edit" {
		return claude.Allow()
	}
	path := input.FilePath()
	if path == "" {
		return claude.Allow()
	}
	c.tracker.RecordChange(path, input.ToolName)
	c.trigger.OnFileChanged()
	return claude.Allow()
}

// onTrigger marks a review pending and starts the worker if idle.
// Runs synchronously inside the hook, so it only flips flags.
func (c *Coordinator) onTrigger(ev TriggerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviewPending = true
	if c.reviewing || !c.active {
		return
	}
	c.reviewing = true
	c.workerDone = make(chan struct{})
	go c.runReviews(c.workerDone)
	c.log.Log(wplog.CategoryReviewer, "review triggered (%s, %d files)", ev.Reason, ev.FileCount)
}

// runReviews drains pending review requests. Changes that arrive while
// a review is running set reviewPending again, so a burst of writes
// produces at most one in-flight review plus one follow-up.
func (c *Coordinator) runReviews(done chan struct{}) {
	defer close(done)
	for {
		c.mu.Lock()
		if !c.reviewPending || !c.active {
			c.reviewing = false
			c.mu.Unlock()
			return
		}
		c.reviewPending = false
		c.mu.Unlock()

		c.performReview()
	}
}

// performReview runs one review over the currently pending changes and
// queues any findings for injection.
func (c *Coordinator) performReview() {
	defer func() {
		c.trigger.Reset()
		c.tracker.ClearPending()
		c.mu.Lock()
		c.reviewCount++
		c.mu.Unlock()
	}()

	files := c.tracker.PendingChanges()
	if len(files) == 0 || c.Degraded() {
		return
	}

	result := c.agent.Review(context.Background(), ReviewContext{
		Requirements: c.requirements,
		Interfaces:   c.interfaces,
		Files:        files,
	})
	c.mu.Lock()
	c.degraded = c.agent.Degraded()
	c.mu.Unlock()

	if len(result.Issues) == 0 {
		c.log.Log(wplog.CategoryReviewer, "review clean (%d files)", len(result.FilesReviewed))
		return
	}
	c.queue.Enqueue(c.formatFeedback(result), result)
	c.log.Log(wplog.CategoryReviewer, "review found %d issue(s) across %d file(s)", len(result.Issues), len(result.FilesReviewed))
}

// formatFeedback renders a review result as one injectable message.
func (c *Coordinator) formatFeedback(r ReviewResult) string {
	var b strings.Builder
	b.WriteString("## Reviewer Feedback\n\n")
	if c.agent.ShouldEscalate(r) {
		fmt.Fprintf(&b, "These issues have been raised %d times without being resolved:\n\n", r.CycleCount)
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PendingFeedback drains the queue and returns the combined message, or
// "" when nothing is queued.
func (c *Coordinator) PendingFeedback() string {
	items := c.queue.DequeueAll()
	if len(items) == 0 {
		return ""
	}
	return FormatForInjection(items)
}

// HasFeedback reports whether findings await injection.
func (c *Coordinator) HasFeedback() bool { return c.queue.HasPending() }

// WaitForPendingReviews blocks until no review is pending or running,
// or the timeout expires. Returns false on timeout.
func (c *Coordinator) WaitForPendingReviews(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		idle := !c.reviewPending && !c.reviewing
		c.mu.Unlock()
		if idle {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pendingPollInterval)
	}
}

// Stop shuts the subsystem down: waits briefly for an in-flight review,
// closes the reviewer session, and deactivates the hooks.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.active = false
	c.reviewPending = false
	done := c.workerDone
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			c.log.Log(wplog.CategoryReviewer, "in-flight review did not finish before shutdown")
		}
	}
	c.agent.Stop()
}
