// Package knowledge implements the load / extract / stage / apply
// pipeline for per-project knowledge files.
//
// Knowledge lives under the knowledge root: per-project architecture.md
// and decisions.md, plus a global lessons-learned.md shared across
// projects. Entries extracted during a workflow run are staged and only
// applied after the implementation phase succeeds.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/waypoints/internal/state"
)

// File names under the knowledge root.
const (
	ArchitectureFile   = "architecture.md"
	DecisionsFile      = "decisions.md"
	LessonsLearnedFile = "lessons-learned.md"
)

// Placeholder shown for a knowledge section with no file yet.
const emptySection = "_No entries recorded yet._"

// ArchitecturePath returns the per-project architecture file path.
func ArchitecturePath(root, projectID string) string {
	return filepath.Join(root, projectID, ArchitectureFile)
}

// DecisionsPath returns the per-project decisions file path.
func DecisionsPath(root, projectID string) string {
	return filepath.Join(root, projectID, DecisionsFile)
}

// LessonsPath returns the global lessons-learned file path. Lessons are
// deliberately shared across projects.
func LessonsPath(root string) string {
	return filepath.Join(root, LessonsLearnedFile)
}

// Load composes the "# Project Knowledge" block injected into every
// phase prompt. Missing files show a placeholder; read errors are
// treated as missing.
func Load(root, projectID string) string {
	var b strings.Builder
	b.WriteString("# Project Knowledge\n\n")

	sections := []struct {
		title string
		path  string
	}{
		{"Architecture", ArchitecturePath(root, projectID)},
		{"Decisions", DecisionsPath(root, projectID)},
		{"Lessons Learned", LessonsPath(root)},
	}
	for _, s := range sections {
		b.WriteString("## " + s.title + "\n\n")
		if data, err := os.ReadFile(s.path); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			b.WriteString(strings.TrimSpace(string(data)))
		} else {
			b.WriteString(emptySection)
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// StagedDigest renders a one-line-per-entry digest of already staged
// knowledge so the assistant can avoid re-emitting duplicates. The
// supervisor itself never dedupes.
func StagedDigest(k *state.StagedKnowledge) string {
	if k == nil || k.IsEmpty() {
		return "(nothing staged yet)"
	}
	var b strings.Builder
	for _, e := range k.Architecture {
		fmt.Fprintf(&b, "- [architecture] %s\n", e.Title)
	}
	for _, e := range k.Decisions {
		fmt.Fprintf(&b, "- [decision] %s\n", e.Title)
	}
	for _, e := range k.LessonsLearned {
		fmt.Fprintf(&b, "- [lesson/%s] %s\n", orDefault(e.Tag, "General"), e.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExtractionPrompt builds the post-phase extraction prompt sent within
// the phase session.
func ExtractionPrompt(existing string, staged *state.StagedKnowledge) string {
	return fmt.Sprintf(`Review this phase's conversation and extract durable project knowledge.

Respond in exactly this format (sections are optional, omit empty ones):

ARCHITECTURE:
- Title: content
DECISIONS:
- Title: content
LESSONS_LEARNED:
- [Tag] Title: content

If there is nothing worth recording, respond with the single line:
%s

Do not re-emit knowledge that is already recorded or already staged.

Already recorded:
%s

Already staged this session:
%s`, NoKnowledgeSignal, existing, StagedDigest(staged))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
