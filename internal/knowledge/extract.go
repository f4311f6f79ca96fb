package knowledge

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/waypoints/internal/state"
)

// NoKnowledgeSignal is the literal an assistant emits when a phase
// produced nothing worth staging.
const NoKnowledgeSignal = "NO_KNOWLEDGE_EXTRACTED"

// section markers, anchored at start-of-line.
const (
	sectionArchitecture = "ARCHITECTURE:"
	sectionDecisions    = "DECISIONS:"
	sectionLessons      = "LESSONS_LEARNED:"
)

// Parse reads an extraction response into staged knowledge. Entries are
// stamped with phase 0; the caller sets the phase before persisting.
//
// On any malformed entry the whole response is rejected: an empty
// result and an error are returned, and nothing is staged.
func Parse(response string) (*state.StagedKnowledge, error) {
	k := &state.StagedKnowledge{}

	trimmed := strings.TrimSpace(response)
	if trimmed == "" || strings.Contains(trimmed, NoKnowledgeSignal) {
		return k, nil
	}

	section := ""
	sawSection := false
	for _, line := range strings.Split(response, "\n") {
		switch {
		case strings.HasPrefix(line, sectionArchitecture):
			section = sectionArchitecture
			sawSection = true
			continue
		case strings.HasPrefix(line, sectionDecisions):
			section = sectionDecisions
			sawSection = true
			continue
		case strings.HasPrefix(line, sectionLessons):
			section = sectionLessons
			sawSection = true
			continue
		}

		if section == "" || !strings.HasPrefix(line, "- ") {
			continue
		}

		entry, err := parseEntry(line, section == sectionLessons)
		if err != nil {
			return &state.StagedKnowledge{}, err
		}
		switch section {
		case sectionArchitecture:
			k.Architecture = append(k.Architecture, entry)
		case sectionDecisions:
			k.Decisions = append(k.Decisions, entry)
		case sectionLessons:
			k.LessonsLearned = append(k.LessonsLearned, entry)
		}
	}

	if !sawSection {
		return &state.StagedKnowledge{}, fmt.Errorf("no knowledge sections found in response")
	}
	return k, nil
}

// parseEntry splits "- Title: content" (with an optional leading [Tag]
// in the lessons section) at the first ": ".
func parseEntry(line string, lessons bool) (state.StagedKnowledgeEntry, error) {
	body := strings.TrimPrefix(line, "- ")

	var tag string
	if lessons && strings.HasPrefix(body, "[") {
		end := strings.Index(body, "]")
		if end < 0 {
			return state.StagedKnowledgeEntry{}, fmt.Errorf("unterminated tag in entry %q", line)
		}
		tag = strings.TrimSpace(body[1:end])
		body = strings.TrimSpace(body[end+1:])
	}

	title, content, found := strings.Cut(body, ": ")
	if !found {
		return state.StagedKnowledgeEntry{}, fmt.Errorf("entry %q missing title separator", line)
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return state.StagedKnowledgeEntry{}, fmt.Errorf("entry %q missing title or content", line)
	}

	return state.StagedKnowledgeEntry{Title: title, Content: content, Tag: tag}, nil
}
