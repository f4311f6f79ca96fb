package review

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// DefaultModel is the lighter model used for review sessions.
const DefaultModel = "claude-haiku"

// QueryTimeout bounds a single review exchange.
const QueryTimeout = 120 * time.Second

// AgentState tracks the reviewer session lifecycle.
type AgentState string

const (
	StateInitializing AgentState = "INITIALIZING"
	StateReady        AgentState = "READY"
	StateReviewing    AgentState = "REVIEWING"
	StateDegraded     AgentState = "DEGRADED"
)

// ReviewContext is everything the reviewer sees for one review: the
// phase documents plus the changed file contents.
type ReviewContext struct {
	Requirements string
	Interfaces   string
	Files        map[string]string
}

// ReviewResult is the parsed outcome of one review.
type ReviewResult struct {
	Issues        []string
	FilesReviewed []string
	IsRepeatIssue bool
	CycleCount    int
}

// conversation is the slice of the assistant session the reviewer
// needs. *claude.Session satisfies it.
type conversation interface {
	Send(prompt string) error
	Messages() <-chan claude.Message
	Close() error
}

// Agent runs reviews against a second, lighter assistant session and
// tracks repeat findings across reviews.
type Agent struct {
	mu          sync.Mutex
	state       AgentState
	conv        conversation
	issueCounts map[string]int
	log         *wplog.Logger

	// newConversation is swapped out in tests.
	newConversation func(ctx context.Context) (conversation, error)
}

// NewAgent creates a reviewer that will spawn its own session in the
// given working directory with the given model.
func NewAgent(model, workdir string, log *wplog.Logger) *Agent {
	if model == "" {
		model = DefaultModel
	}
	return &Agent{
		state:       StateInitializing,
		issueCounts: make(map[string]int),
		log:         log,
		newConversation: func(ctx context.Context) (conversation, error) {
			s := claude.NewSession(
				claude.WithModel(model),
				claude.WithWorkdir(workdir),
				claude.WithEnv(map[string]string{claude.EnvDisableHooks: "1"}),
			)
			if err := s.Start(ctx); err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// Start spawns the reviewer session. On failure the agent degrades
// instead of returning an error; a degraded reviewer reviews nothing.
func (a *Agent) Start(ctx context.Context) {
	conv, err := a.newConversation(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.state = StateDegraded
		a.log.Log(wplog.CategoryReviewer, "reviewer session failed to start, continuing without reviews: %v", err)
		return
	}
	a.conv = conv
	a.state = StateReady
	a.log.Log(wplog.CategoryReviewer, "reviewer session ready")
}

// State returns the current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Degraded reports whether the reviewer is out of service.
func (a *Agent) Degraded() bool { return a.State() == StateDegraded }

// Review sends one review request and parses the findings. A failed
// exchange degrades the agent; subsequent calls return empty results.
func (a *Agent) Review(ctx context.Context, rc ReviewContext) ReviewResult {
	a.mu.Lock()
	if a.state != StateReady {
		a.mu.Unlock()
		return ReviewResult{}
	}
	a.state = StateReviewing
	conv := a.conv
	a.mu.Unlock()

	paths := make([]string, 0, len(rc.Files))
	for p := range rc.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	resp, err := a.query(ctx, conv, buildReviewPrompt(rc, paths))
	if err != nil {
		a.mu.Lock()
		a.state = StateDegraded
		a.mu.Unlock()
		a.log.Log(wplog.CategoryReviewer, "review query failed, degrading reviewer: %v", err)
		return ReviewResult{}
	}

	issues := parseIssues(resp)
	repeat, cycles := a.recordIssues(issues)

	a.mu.Lock()
	a.state = StateReady
	a.mu.Unlock()

	return ReviewResult{
		Issues:        issues,
		FilesReviewed: paths,
		IsRepeatIssue: repeat,
		CycleCount:    cycles,
	}
}

// ShouldEscalate reports whether a finding has persisted long enough
// that the implementer should be told it keeps recurring.
func (a *Agent) ShouldEscalate(r ReviewResult) bool {
	return r.IsRepeatIssue && r.CycleCount >= 2
}

// Stop closes the reviewer session.
func (a *Agent) Stop() {
	a.mu.Lock()
	conv := a.conv
	a.conv = nil
	a.state = StateDegraded
	a.mu.Unlock()
	if conv != nil {
		conv.Close()
	}
}

// query sends a prompt and collects assistant text until the result
// message for the turn arrives or the query timeout expires.
func (a *Agent) query(ctx context.Context, conv conversation, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	if err := conv.Send(prompt); err != nil {
		return "", fmt.Errorf("send review prompt: %w", err)
	}

	var b strings.Builder
	for {
		select {
		case msg, ok := <-conv.Messages():
			if !ok {
				return "", fmt.Errorf("review session closed mid-turn")
			}
			switch msg.Type {
			case claude.MessageAssistant:
				for _, block := range msg.Content {
					if block.Type == claude.BlockText {
						b.WriteString(block.Text)
					}
				}
			case claude.MessageResult:
				return b.String(), nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("review query: %w", ctx.Err())
		}
	}
}

// recordIssues bumps the per-issue counters and reports whether any
// issue in this batch has now been seen more than once, along with the
// highest repeat count.
func (a *Agent) recordIssues(issues []string) (repeat bool, cycles int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, issue := range issues {
		h := issueHash(issue)
		a.issueCounts[h]++
		if c := a.issueCounts[h]; c > 1 {
			repeat = true
		}
		if c := a.issueCounts[h]; c > cycles {
			cycles = c
		}
	}
	return repeat, cycles
}

func issueHash(issue string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(issue))))
	return hex.EncodeToString(sum[:])[:16]
}

func buildReviewPrompt(rc ReviewContext, paths []string) string {
	var b strings.Builder
	b.WriteString("Review the following changed files against the requirements and interfaces.\n")
	b.WriteString("Report only genuine problems: contract violations, missed requirements, bugs.\n")
	b.WriteString("List each issue as a bullet. If everything is fine, reply exactly: No issues found.\n\n")

	if rc.Requirements != "" {
		b.WriteString("## Requirements\n\n" + rc.Requirements + "\n\n")
	}
	if rc.Interfaces != "" {
		b.WriteString("## Interfaces\n\n" + rc.Interfaces + "\n\n")
	}
	b.WriteString("## Changed Files\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "\n### %s\n\n```\n%s\n```\n", p, rc.Files[p])
	}
	return b.String()
}

var numberedItemRe = regexp.MustCompile(`^\d+\.\s+`)

// parseIssues extracts individual findings from a review response.
// "No issues found" (case-insensitive, anywhere) means a clean review.
// Bulleted or numbered lines become issues; a response with no list
// structure but substantial text is kept whole as a single issue.
func parseIssues(resp string) []string {
	trimmed := strings.TrimSpace(resp)
	if trimmed == "" || strings.Contains(strings.ToLower(trimmed), "no issues found") {
		return nil
	}

	var issues []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "):
			issues = append(issues, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "* "):
			issues = append(issues, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "• "):
			issues = append(issues, strings.TrimSpace(strings.TrimPrefix(line, "• ")))
		case numberedItemRe.MatchString(line):
			issues = append(issues, strings.TrimSpace(numberedItemRe.ReplaceAllString(line, "")))
		}
	}
	if len(issues) == 0 && len(trimmed) > 30 {
		return []string{trimmed}
	}
	return issues
}
