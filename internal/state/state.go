// Package state provides per-workflow state persistence for waypoints.
//
// One workflow run owns one state directory holding state.json, the
// phase documents, the audit copies of phase prompts, staged knowledge,
// and the workflow log. state.json is always written atomically.
package state

import (
	"time"
)

// CurrentVersion is the state.json schema version. Loaders accept
// missing and unknown fields; bumping this is reserved for breaking
// changes.
const CurrentVersion = 1

// Mode selects how the state directory is named.
type Mode string

const (
	ModeCLI        Mode = "cli"
	ModeSupervisor Mode = "supervisor"
)

// Phase numbers. The workflow runs them strictly in order.
const (
	PhaseRequirements   = 1
	PhaseInterfaces     = 2
	PhaseTests          = 3
	PhaseImplementation = 4
)

// phaseNames maps phase numbers to their document names.
var phaseNames = map[int]string{
	PhaseRequirements:   "requirements",
	PhaseInterfaces:     "interfaces",
	PhaseTests:          "tests",
	PhaseImplementation: "implementation",
}

// PhaseName returns the lowercase name for a phase number, or "" for an
// out-of-range phase.
func PhaseName(phase int) string {
	return phaseNames[phase]
}

// ValidPhase reports whether phase is in [1,4].
func ValidPhase(phase int) bool {
	return phase >= PhaseRequirements && phase <= PhaseImplementation
}

// PhaseUsage accumulates per-phase assistant usage.
type PhaseUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	Turns        int     `json:"turns"`
}

// Add accumulates a usage delta.
func (u *PhaseUsage) Add(delta PhaseUsage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.CostUSD += delta.CostUSD
	u.DurationMS += delta.DurationMS
	u.Turns += delta.Turns
}

// CompletedPhases tracks which phases have finished.
type CompletedPhases struct {
	Requirements   bool `json:"requirements"`
	Interfaces     bool `json:"interfaces"`
	Tests          bool `json:"tests"`
	Implementation bool `json:"implementation"`
}

// Metadata identifies a workflow run.
type Metadata struct {
	StartedAt  time.Time `json:"startedAt"`
	WorkflowID string    `json:"workflowId"`
	SessionID  string    `json:"sessionId,omitempty"`
}

// WorkflowState is the single state.json document.
type WorkflowState struct {
	Version          int                   `json:"version"`
	Active           bool                  `json:"active"`
	SupervisorActive bool                  `json:"supervisorActive"`
	Phase            int                   `json:"phase"`
	Mode             Mode                  `json:"mode"`
	CompletedPhases  CompletedPhases       `json:"completedPhases"`
	Usage            map[string]PhaseUsage `json:"usage"`
	Metadata         Metadata              `json:"metadata"`
}

// defaultState returns a fresh state document.
func defaultState(mode Mode, workflowID string) *WorkflowState {
	return &WorkflowState{
		Version: CurrentVersion,
		Phase:   PhaseRequirements,
		Mode:    mode,
		Usage:   make(map[string]PhaseUsage),
		Metadata: Metadata{
			StartedAt:  time.Now(),
			WorkflowID: workflowID,
		},
	}
}

// usageKey returns the usage map key for a phase ("phase1".."phase4").
func usageKey(phase int) string {
	switch phase {
	case 1:
		return "phase1"
	case 2:
		return "phase2"
	case 3:
		return "phase3"
	case 4:
		return "phase4"
	}
	return ""
}

// isComplete reads the completion flag for a phase.
func (c CompletedPhases) isComplete(phase int) bool {
	switch phase {
	case PhaseRequirements:
		return c.Requirements
	case PhaseInterfaces:
		return c.Interfaces
	case PhaseTests:
		return c.Tests
	case PhaseImplementation:
		return c.Implementation
	}
	return false
}

// setComplete writes the completion flag for a phase.
func (c *CompletedPhases) setComplete(phase int, done bool) {
	switch phase {
	case PhaseRequirements:
		c.Requirements = done
	case PhaseInterfaces:
		c.Interfaces = done
	case PhaseTests:
		c.Tests = done
	case PhaseImplementation:
		c.Implementation = done
	}
}

// StagedKnowledgeEntry is one extracted knowledge item awaiting
// application at workflow end.
type StagedKnowledgeEntry struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Phase   int    `json:"phase"`
	Tag     string `json:"tag,omitempty"` // lessons-learned only
}

// StagedKnowledge holds everything staged during one workflow run.
type StagedKnowledge struct {
	Architecture   []StagedKnowledgeEntry `json:"architecture"`
	Decisions      []StagedKnowledgeEntry `json:"decisions"`
	LessonsLearned []StagedKnowledgeEntry `json:"lessons_learned"`
}

// IsEmpty reports whether nothing is staged.
func (k *StagedKnowledge) IsEmpty() bool {
	return len(k.Architecture) == 0 && len(k.Decisions) == 0 && len(k.LessonsLearned) == 0
}

// Merge appends all entries from other.
func (k *StagedKnowledge) Merge(other *StagedKnowledge) {
	k.Architecture = append(k.Architecture, other.Architecture...)
	k.Decisions = append(k.Decisions, other.Decisions...)
	k.LessonsLearned = append(k.LessonsLearned, other.LessonsLearned...)
}

// SetPhase stamps every entry with the phase it was extracted after.
func (k *StagedKnowledge) SetPhase(phase int) {
	for i := range k.Architecture {
		k.Architecture[i].Phase = phase
	}
	for i := range k.Decisions {
		k.Decisions[i].Phase = phase
	}
	for i := range k.LessonsLearned {
		k.LessonsLearned[i].Phase = phase
	}
}
