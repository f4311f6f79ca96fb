package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPhaseTemplatesLoaded(t *testing.T) {
	for phase := 1; phase <= 4; phase++ {
		assert.Contains(t, phaseTemplates, phase)
	}
}

func TestEveryContextHasYourTaskSection(t *testing.T) {
	contexts := map[int]string{
		1: BuildPhase1Context("task", "k", false),
		2: BuildPhase2Context("req", "k"),
		3: BuildPhase3Context("req", "ifc", "k"),
		4: BuildPhase4Context("req", "ifc", "tests", "k"),
	}
	for phase, ctx := range contexts {
		assert.Contains(t, ctx, "## Your Task", "phase %d", phase)
	}
}

func TestCompletionMarkerOnAllButImplementation(t *testing.T) {
	assert.Contains(t, BuildPhase1Context("", "", false), "---PHASE_COMPLETE---")
	assert.Contains(t, BuildPhase2Context("", ""), "---PHASE_COMPLETE---")
	assert.Contains(t, BuildPhase3Context("", "", ""), "---PHASE_COMPLETE---")
	assert.NotContains(t, BuildPhase4Context("", "", "", ""), "PHASE_COMPLETE")
}

func TestPhase1Modes(t *testing.T) {
	std := BuildPhase1Context("build a parser", "knowledge here", false)
	assert.Contains(t, std, "build a parser")
	assert.Contains(t, std, "knowledge here")
	assert.Contains(t, std, "clarifying questions")
	assert.NotContains(t, std, "subagents")

	sup := BuildPhase1Context("build a parser", "", true)
	assert.Contains(t, sup, "subagents")
	assert.NotContains(t, sup, "clarifying questions")
}

func TestPhase1WithoutTask(t *testing.T) {
	ctx := BuildPhase1Context("", "", false)
	assert.NotContains(t, ctx, "The user describes the work as")
}

func TestLaterPhasesCarryEarlierDocuments(t *testing.T) {
	ctx := BuildPhase4Context("REQ-DOC", "IFC-DOC", "TEST-DOC", "KNOW")
	assert.Contains(t, ctx, "REQ-DOC")
	assert.Contains(t, ctx, "IFC-DOC")
	assert.Contains(t, ctx, "TEST-DOC")
	assert.Contains(t, ctx, "KNOW")
}

func TestSummaryPromptPerPhase(t *testing.T) {
	for phase := 1; phase <= 3; phase++ {
		assert.NotEmpty(t, SummaryPrompt(phase), "phase %d", phase)
	}
	assert.Empty(t, SummaryPrompt(4))
}

func TestReviewPromptMentionsSignals(t *testing.T) {
	p := ReviewPrompt(2)
	assert.Contains(t, p, "SUMMARY_VERIFIED")
	assert.Contains(t, p, "GAPS_FOUND")
	assert.Empty(t, ReviewPrompt(4))
}

func TestRegenerationPrompt(t *testing.T) {
	p := RegenerationPrompt("old summary", "make it shorter")
	assert.Contains(t, p, "old summary")
	assert.Contains(t, p, "make it shorter")
	assert.Contains(t, p, "---REGENERATION_COMPLETE---")
	assert.Contains(t, p, "---REGENERATION_CANCELED---")
}

func TestSplitFrontmatter(t *testing.T) {
	meta, body, err := splitFrontmatter("---\nname: x\nphase: 2\n---\nbody text\n")
	require.NoError(t, err)
	assert.Equal(t, "x", meta.Name)
	assert.Equal(t, 2, meta.Phase)
	assert.True(t, strings.HasPrefix(body, "body text"))

	_, _, err = splitFrontmatter("no header")
	assert.Error(t, err)
}
