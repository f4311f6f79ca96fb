package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "wp-test"))
	require.NoError(t, s.Initialize(ModeSupervisor, "20250615-103000"))
	return s
}

func TestInitializeCreatesActiveState(t *testing.T) {
	s := newTestStore(t)

	assert.True(t, s.IsActive())
	assert.Equal(t, PhaseRequirements, s.Phase())
	assert.FileExists(t, filepath.Join(s.StateDir(), StateFileName))
	assert.DirExists(t, filepath.Join(s.StateDir(), ContextDirName))
}

func TestSetPhaseValidatesRange(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetPhase(3))
	assert.Equal(t, 3, s.Phase())

	assert.Error(t, s.SetPhase(0))
	assert.Error(t, s.SetPhase(5))
	assert.Equal(t, 3, s.Phase())
}

func TestPhaseAndCompletionAreIndependent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetPhase(4))
	assert.False(t, s.IsPhaseComplete(PhaseRequirements))

	require.NoError(t, s.MarkPhaseComplete(PhaseRequirements, true))
	assert.True(t, s.IsPhaseComplete(PhaseRequirements))
	assert.Equal(t, 4, s.Phase())
}

func TestAddPhaseUsageAccumulates(t *testing.T) {
	s := newTestStore(t)

	delta := PhaseUsage{InputTokens: 100, OutputTokens: 50, CostUSD: 0.25, DurationMS: 1000, Turns: 1}
	require.NoError(t, s.AddPhaseUsage(1, delta))
	require.NoError(t, s.AddPhaseUsage(1, delta))
	require.NoError(t, s.AddPhaseUsage(2, PhaseUsage{InputTokens: 7}))

	u1 := s.PhaseUsage(1)
	assert.Equal(t, 200, u1.InputTokens)
	assert.Equal(t, 100, u1.OutputTokens)
	assert.InDelta(t, 0.5, u1.CostUSD, 1e-9)
	assert.Equal(t, 2, u1.Turns)

	total := s.TotalUsage()
	assert.Equal(t, 207, total.InputTokens)
}

func TestLoadCorruptStateReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.StateDir(), StateFileName), []byte("{broken"), 0644))

	fresh := NewStore(s.StateDir())
	assert.False(t, fresh.IsActive())
	assert.Equal(t, PhaseRequirements, fresh.Phase())
}

func TestLoadToleratesUnknownFields(t *testing.T) {
	s := newTestStore(t)
	doc := `{"version":9,"active":true,"phase":2,"mode":"supervisor","futureField":{"x":1}}`
	require.NoError(t, os.WriteFile(filepath.Join(s.StateDir(), StateFileName), []byte(doc), 0644))

	fresh := NewStore(s.StateDir())
	assert.True(t, fresh.IsActive())
	assert.Equal(t, 2, fresh.Phase())
}

func TestPhaseDocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SavePhaseDocument(1, "# Requirements\n- none"))
	doc, err := s.PhaseDocument(1)
	require.NoError(t, err)
	assert.Equal(t, "# Requirements\n- none", doc)

	assert.FileExists(t, filepath.Join(s.StateDir(), "phase1-requirements.md"))

	// Phase 4 produces no summary document.
	assert.Error(t, s.SavePhaseDocument(4, "x"))
}

func TestPhaseContextRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SavePhaseContext(4, "prompt text"))
	got, err := s.PhaseContext(4)
	require.NoError(t, err)
	assert.Equal(t, "prompt text", got)
	assert.FileExists(t, filepath.Join(s.StateDir(), ContextDirName, "phase4-input.md"))
}

func TestListDocuments(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SavePhaseDocument(2, "b"))
	require.NoError(t, s.SavePhaseDocument(1, "a"))

	docs, err := s.ListDocuments()
	require.NoError(t, err)
	assert.Equal(t, []string{"phase1-requirements.md", "phase2-interfaces.md"}, docs)
}

func TestStageKnowledgeMergeAppends(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.StageKnowledge(&StagedKnowledge{
		Architecture: []StagedKnowledgeEntry{{Title: "Pipeline", Content: "A to B", Phase: 1}},
	}))
	require.NoError(t, s.StageKnowledge(&StagedKnowledge{
		Architecture:   []StagedKnowledgeEntry{{Title: "Cache", Content: "LRU", Phase: 2}},
		LessonsLearned: []StagedKnowledgeEntry{{Title: "Close once", Content: "sender closes", Tag: "Go", Phase: 2}},
	}))

	k, err := s.StagedKnowledge()
	require.NoError(t, err)
	require.Len(t, k.Architecture, 2)
	assert.Equal(t, "Pipeline", k.Architecture[0].Title)
	assert.Equal(t, "Cache", k.Architecture[1].Title)
	require.Len(t, k.LessonsLearned, 1)
	assert.Equal(t, "Go", k.LessonsLearned[0].Tag)
}

func TestClearStagedKnowledge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.StageKnowledge(&StagedKnowledge{
		Decisions: []StagedKnowledgeEntry{{Title: "T", Content: "C"}},
	}))

	require.NoError(t, s.ClearStagedKnowledge())
	k, err := s.StagedKnowledge()
	require.NoError(t, err)
	assert.True(t, k.IsEmpty())

	// Clearing again is not an error.
	require.NoError(t, s.ClearStagedKnowledge())
}

func TestCleanupKeepDocuments(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SavePhaseDocument(1, "doc"))
	require.NoError(t, s.StageKnowledge(&StagedKnowledge{
		Decisions: []StagedKnowledgeEntry{{Title: "T", Content: "C"}},
	}))

	require.NoError(t, s.Cleanup(true))

	assert.False(t, s.IsActive())
	assert.True(t, s.IsPhaseComplete(PhaseImplementation))
	assert.FileExists(t, filepath.Join(s.StateDir(), "phase1-requirements.md"))
	assert.NoFileExists(t, filepath.Join(s.StateDir(), StagedFileName))
}

func TestCleanupFullRemoval(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Cleanup(false))
	assert.NoDirExists(t, s.StateDir())
}

func TestEnvVars(t *testing.T) {
	s := newTestStore(t)
	env := s.EnvVars()
	assert.Equal(t, "20250615-103000", env[EnvWorkflowID])
	assert.Equal(t, s.StateDir(), env[EnvMarkersDir])
	assert.Equal(t, "1", env[EnvActive])
}

func TestDirHonorsMarkersEnv(t *testing.T) {
	t.Setenv(EnvMarkersDir, "/tmp/markers-override")
	dir, err := Dir(ModeSupervisor, "id")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/markers-override", dir)
}

func TestDirByMode(t *testing.T) {
	t.Setenv(EnvMarkersDir, "")
	t.Setenv("CLAUDE_CONFIG_DIR", "/tmp/claude")

	dir, err := Dir(ModeSupervisor, "wf1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/claude/tmp/wp-supervisor-wf1", dir)

	dir, err = Dir(ModeCLI, "sess1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/claude/tmp/wp-sess1", dir)
}
