package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// Apply appends staged knowledge to the permanent files. Architecture
// and decision entries are grouped under one dated session header;
// lessons are grouped by tag. Per-file append errors are logged and the
// remaining files still apply. Returns applied entry counts by category.
func Apply(root, projectID string, staged *state.StagedKnowledge, sessionID string, now time.Time, log *wplog.Logger) map[string]int {
	counts := map[string]int{}
	if staged == nil || staged.IsEmpty() {
		return counts
	}
	date := now.Format("2006-01-02")

	if len(staged.Architecture) > 0 {
		path := ArchitecturePath(root, projectID)
		if err := appendBlock(path, "# Architecture Knowledge\n", datedBlock(date, sessionID, staged.Architecture)); err != nil {
			log.Error("apply architecture knowledge", err)
		} else {
			counts["architecture"] = len(staged.Architecture)
		}
	}

	if len(staged.Decisions) > 0 {
		path := DecisionsPath(root, projectID)
		if err := appendBlock(path, "# Decisions\n", datedBlock(date, sessionID, staged.Decisions)); err != nil {
			log.Error("apply decision knowledge", err)
		} else {
			counts["decisions"] = len(staged.Decisions)
		}
	}

	if len(staged.LessonsLearned) > 0 {
		path := LessonsPath(root)
		if err := appendBlock(path, "# Lessons Learned\n", lessonsBlock(date, staged.LessonsLearned)); err != nil {
			log.Error("apply lessons learned", err)
		} else {
			counts["lessons_learned"] = len(staged.LessonsLearned)
		}
	}

	return counts
}

// datedBlock renders architecture/decision entries under a session
// header:
//
//	## 2025-06-15 (Session: abc)
//
//	### Title
//	content
func datedBlock(date, sessionID string, entries []state.StagedKnowledgeEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (Session: %s)\n", date, sessionID)
	for _, e := range entries {
		fmt.Fprintf(&b, "\n### %s\n%s\n", e.Title, e.Content)
	}
	return b.String()
}

// lessonsBlock renders lessons grouped by tag:
//
//	## [Go]
//	### Title (2025-06-15)
//	content
func lessonsBlock(date string, entries []state.StagedKnowledgeEntry) string {
	byTag := map[string][]state.StagedKnowledgeEntry{}
	for _, e := range entries {
		tag := orDefault(e.Tag, "General")
		byTag[tag] = append(byTag[tag], e)
	}
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var b strings.Builder
	for _, tag := range tags {
		fmt.Fprintf(&b, "## [%s]\n", tag)
		for _, e := range byTag[tag] {
			fmt.Fprintf(&b, "### %s (%s)\n%s\n", e.Title, date, e.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// appendBlock appends a block to path, creating the file (with a title
// line) and its directories on first application.
func appendBlock(path, title, block string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create knowledge directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(title); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if _, err := f.WriteString("\n" + block); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
