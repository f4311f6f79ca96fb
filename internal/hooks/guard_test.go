package hooks

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

func pythonProfile() config.Profile {
	return config.Profile{
		ID:   "python",
		Name: "Python",
		SourcePatterns: config.SourcePatterns{
			Main:   []string{"src/**/*.py"},
			Test:   []string{"tests/**/*.py"},
			Config: []string{"pyproject.toml", "**/*.toml", "**/*.md"},
		},
	}
}

func newGuard(t *testing.T, phase int) *Guard {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "wp"))
	require.NoError(t, store.Initialize(state.ModeSupervisor, "wf"))
	require.NoError(t, store.SetPhase(phase))
	log := wplog.New(store.StateDir(), "", "wf")
	return NewGuard(store, pythonProfile(), log)
}

func writeInput(path string) claude.HookInput {
	return claude.HookInput{
		HookEventName: claude.HookEventPreToolUse,
		ToolName:      "Write",
		ToolInput:     map[string]any{"file_path": path},
	}
}

func TestGuardDecisionTable(t *testing.T) {
	const (
		mainFile   = "/p/src/main/a.py"
		testFile   = "/p/tests/test_a.py"
		configFile = "/p/pyproject.toml"
	)
	tests := []struct {
		phase int
		path  string
		deny  bool
	}{
		{1, mainFile, true},
		{1, testFile, true},
		{1, configFile, false},
		{2, mainFile, false},
		{2, testFile, true},
		{2, configFile, false},
		{3, mainFile, true},
		{3, testFile, false},
		{3, configFile, false},
		{4, mainFile, false},
		{4, testFile, false},
		{4, configFile, false},
	}
	for _, tt := range tests {
		g := newGuard(t, tt.phase)
		out := g.Handle(writeInput(tt.path))
		if got := out.IsDeny(); got != tt.deny {
			t.Errorf("phase %d path %s: deny = %v, want %v", tt.phase, tt.path, got, tt.deny)
		}
	}
}

func TestGuardDenyReasonNamesPhase(t *testing.T) {
	g := newGuard(t, 1)
	out := g.Handle(writeInput("/p/src/main/a.py"))
	require.True(t, out.IsDeny())
	assert.Equal(t, "deny", out.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, out.HookSpecificOutput.PermissionDecisionReason, "Phase 1")
	assert.Equal(t, claude.HookEventPreToolUse, out.HookSpecificOutput.HookEventName)
}

func TestGuardIgnoresOtherTools(t *testing.T) {
	g := newGuard(t, 1)
	out := g.Handle(claude.HookInput{
		HookEventName: claude.HookEventPreToolUse,
		ToolName:      "Bash",
		ToolInput:     map[string]any{"command": "rm -rf src"},
	})
	assert.False(t, out.IsDeny())
}

func TestGuardIgnoresMissingFilePath(t *testing.T) {
	g := newGuard(t, 1)
	out := g.Handle(claude.HookInput{
		HookEventName: claude.HookEventPreToolUse,
		ToolName:      "Write",
	})
	assert.False(t, out.IsDeny())
}

func TestGuardPhase3TestOverridesMain(t *testing.T) {
	// A path classified as both main and test is writable in phase 3.
	g := newGuard(t, 3)
	profile := pythonProfile()
	profile.SourcePatterns.Main = []string{"**/*.py"}
	g.profile = profile

	out := g.Handle(writeInput("/p/tests/test_a.py"))
	assert.False(t, out.IsDeny())
}

func TestGuardUnclassifiedPathAllowed(t *testing.T) {
	g := newGuard(t, 1)
	out := g.Handle(writeInput("/p/notes.txt"))
	assert.False(t, out.IsDeny())
}
