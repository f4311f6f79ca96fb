// Package prompt composes the phase contexts and auxiliary prompts
// sent to the assistant. Phase contexts are markdown templates with a
// small YAML frontmatter, embedded at build time.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.md
var templateFS embed.FS

// frontmatter is the metadata header of a phase template.
type frontmatter struct {
	Name  string `yaml:"name"`
	Phase int    `yaml:"phase"`
}

// phaseTemplate is one parsed template plus its metadata.
type phaseTemplate struct {
	meta frontmatter
	tmpl *template.Template
}

var phaseTemplates = mustLoadTemplates()

func mustLoadTemplates() map[int]phaseTemplate {
	out := make(map[int]phaseTemplate)
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		panic(fmt.Sprintf("prompt: read embedded templates: %v", err))
	}
	for _, e := range entries {
		raw, err := templateFS.ReadFile("templates/" + e.Name())
		if err != nil {
			panic(fmt.Sprintf("prompt: read %s: %v", e.Name(), err))
		}
		meta, body, err := splitFrontmatter(string(raw))
		if err != nil {
			panic(fmt.Sprintf("prompt: %s: %v", e.Name(), err))
		}
		tmpl, err := template.New(meta.Name).Parse(body)
		if err != nil {
			panic(fmt.Sprintf("prompt: parse %s: %v", e.Name(), err))
		}
		out[meta.Phase] = phaseTemplate{meta: meta, tmpl: tmpl}
	}
	return out
}

// splitFrontmatter separates a `---` delimited YAML header from the
// template body.
func splitFrontmatter(raw string) (frontmatter, string, error) {
	var meta frontmatter
	if !strings.HasPrefix(raw, "---\n") {
		return meta, "", fmt.Errorf("missing frontmatter")
	}
	rest := raw[len("---\n"):]
	head, body, ok := strings.Cut(rest, "\n---\n")
	if !ok {
		return meta, "", fmt.Errorf("unterminated frontmatter")
	}
	if err := yaml.Unmarshal([]byte(head), &meta); err != nil {
		return meta, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return meta, strings.TrimLeft(body, "\n"), nil
}

// slots are the values substituted into a phase template.
type slots struct {
	Task         string
	Knowledge    string
	Requirements string
	Interfaces   string
	Tests        string
	Supervisor   bool
}

func render(phase int, s slots) string {
	pt, ok := phaseTemplates[phase]
	if !ok {
		return ""
	}
	var b strings.Builder
	if err := pt.tmpl.Execute(&b, s); err != nil {
		// Templates are static and embedded; execution cannot fail on
		// the string/bool slot values used here.
		panic(fmt.Sprintf("prompt: render phase %d: %v", phase, err))
	}
	return b.String()
}

// BuildPhase1Context composes the requirements-phase prompt.
func BuildPhase1Context(userTask, knowledge string, supervisorMode bool) string {
	return render(1, slots{Task: strings.TrimSpace(userTask), Knowledge: knowledge, Supervisor: supervisorMode})
}

// BuildPhase2Context composes the interfaces-phase prompt.
func BuildPhase2Context(requirements, knowledge string) string {
	return render(2, slots{Requirements: requirements, Knowledge: knowledge})
}

// BuildPhase3Context composes the tests-phase prompt.
func BuildPhase3Context(requirements, interfaces, knowledge string) string {
	return render(3, slots{Requirements: requirements, Interfaces: interfaces, Knowledge: knowledge})
}

// BuildPhase4Context composes the implementation-phase prompt.
func BuildPhase4Context(requirements, interfaces, tests, knowledge string) string {
	return render(4, slots{Requirements: requirements, Interfaces: interfaces, Tests: tests, Knowledge: knowledge})
}

var summaryFocus = map[int]string{
	1: "the agreed requirements: what must be built, what is out of scope, and all constraints",
	2: "every interface designed: names, signatures, and the contract each one carries",
	3: "every test written: what it covers and which interface contract it pins down",
}

// SummaryPrompt asks for the structured phase document. Phase 4
// produces no document, so its prompt is empty.
func SummaryPrompt(phase int) string {
	focus, ok := summaryFocus[phase]
	if !ok {
		return ""
	}
	return fmt.Sprintf(`Produce a structured markdown summary of this phase covering %s.

Output only the summary document itself: start with a top-level heading, use lists for enumerable items, and include nothing conversational.`, focus)
}

// ReviewPrompt asks the assistant to self-review its summary. The
// response must begin with SUMMARY_VERIFIED or GAPS_FOUND, followed by
// the (possibly corrected) summary.
func ReviewPrompt(phase int) string {
	focus, ok := summaryFocus[phase]
	if !ok {
		return ""
	}
	return fmt.Sprintf(`Review the summary you just produced against the full conversation. Check that it captures %s, with nothing invented and nothing dropped.

Reply with SUMMARY_VERIFIED on the first line if the summary is accurate, or GAPS_FOUND on the first line if it needed corrections. In both cases follow with the complete (corrected if necessary) summary document.`, focus)
}

// RegenerationPrompt opens a fresh conversation to rework a phase
// summary from user feedback.
func RegenerationPrompt(currentSummary, feedback string) string {
	return fmt.Sprintf(`A phase summary needs rework based on user feedback.

## Current Summary

%s

## User Feedback

%s

Discuss the feedback with the user and revise the summary accordingly. When the revision is agreed, emit ---REGENERATION_COMPLETE--- on its own line. If the user decides to keep the original, emit ---REGENERATION_CANCELED--- instead.`, currentSummary, feedback)
}
