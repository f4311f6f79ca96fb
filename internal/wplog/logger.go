// Package wplog provides the dual-sink workflow logger for waypoints.
// Every event is appended both to the per-workflow log inside the state
// directory and to the global daily logs under the knowledge root.
package wplog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category classifies a log line.
type Category string

const (
	CategoryWorkflow  Category = "WORKFLOW"
	CategoryPhase     Category = "PHASE"
	CategoryUser      Category = "USER"
	CategoryClaude    Category = "CLAUDE"
	CategoryError     Category = "ERROR"
	CategoryUsage     Category = "USAGE"
	CategoryWP        Category = "WP"
	CategoryHook      Category = "HOOK"
	CategoryTool      Category = "TOOL"
	CategoryBuild     Category = "BUILD"
	CategoryReviewer  Category = "REVIEWER"
	CategoryKnowledge Category = "KNOWLEDGE"
	CategoryHookError Category = "HOOK_ERROR"
)

// Logger appends timestamped category lines to the workflow log and the
// global session/daily logs. Write failures are swallowed: logging must
// never take down the workflow.
type Logger struct {
	stateDir      string
	knowledgeRoot string
	workflowID    string

	mu sync.Mutex

	// now is overridable for tests.
	now func() time.Time
}

// New creates a logger for one workflow run. knowledgeRoot may be empty,
// in which case only the per-workflow sink is written.
func New(stateDir, knowledgeRoot, workflowID string) *Logger {
	l := &Logger{
		stateDir:      stateDir,
		knowledgeRoot: knowledgeRoot,
		workflowID:    workflowID,
		now:           time.Now,
	}
	l.linkCurrent()
	return l
}

// Log appends a formatted line to all sinks.
func (l *Logger) Log(cat Category, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	// Keep the log line-oriented: embedded newlines become literal \n.
	msg = strings.ReplaceAll(msg, "\n", `\n`)

	ts := l.now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%s] [%s] %s\n", ts, cat, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stateDir != "" {
		appendLine(filepath.Join(l.stateDir, "workflow.log"), line)
	}
	if l.knowledgeRoot != "" {
		date := l.now().Format("2006-01-02")
		appendLine(l.sessionLogPath(date), line)
		appendLine(filepath.Join(l.knowledgeRoot, "logs", date+".log"), line)
	}
}

// Error logs an error with optional context under the ERROR category.
func (l *Logger) Error(context string, err error) {
	if err == nil {
		l.Log(CategoryError, "%s", context)
		return
	}
	l.Log(CategoryError, "%s: %v", context, err)
}

func (l *Logger) sessionLogPath(date string) string {
	name := fmt.Sprintf("%s-supervisor-%s.log", date, l.workflowID)
	return filepath.Join(l.knowledgeRoot, "logs", "sessions", name)
}

// linkCurrent points <knowledgeRoot>/logs/current.log at the active
// session log. Best-effort: symlinks are a convenience, not a contract.
func (l *Logger) linkCurrent() {
	if l.knowledgeRoot == "" {
		return
	}
	target := l.sessionLogPath(l.now().Format("2006-01-02"))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return
	}
	link := filepath.Join(l.knowledgeRoot, "logs", "current.log")
	_ = os.Remove(link)
	_ = os.Symlink(target, link)
}

// appendLine appends a single line, creating parent directories as
// needed. Errors are dropped.
func appendLine(path, line string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(line)
}
