package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/waypoints/internal/state"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndHistory(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.Record("proj", "wf-1", 1, state.PhaseUsage{InputTokens: 100, OutputTokens: 40, CostUSD: 0.01}))
	require.NoError(t, l.Record("proj", "wf-1", 2, state.PhaseUsage{InputTokens: 200, OutputTokens: 80, CostUSD: 0.02}))
	require.NoError(t, l.Record("proj", "wf-2", 1, state.PhaseUsage{InputTokens: 10}))
	require.NoError(t, l.Record("other", "wf-9", 1, state.PhaseUsage{InputTokens: 999}))

	entries, err := l.History("proj", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest workflow first, phases in order.
	assert.Equal(t, "wf-2", entries[0].WorkflowID)
	assert.Equal(t, "wf-1", entries[1].WorkflowID)
	assert.Equal(t, 1, entries[1].Phase)
	assert.Equal(t, 2, entries[2].Phase)
}

func TestRecordUpserts(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.Record("proj", "wf-1", 1, state.PhaseUsage{InputTokens: 100}))
	require.NoError(t, l.Record("proj", "wf-1", 1, state.PhaseUsage{InputTokens: 250}))

	entries, err := l.History("proj", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 250, entries[0].Usage.InputTokens)
}

func TestRecordRejectsInvalidPhase(t *testing.T) {
	l := openTestLedger(t)
	assert.Error(t, l.Record("proj", "wf-1", 0, state.PhaseUsage{}))
	assert.Error(t, l.Record("proj", "wf-1", 5, state.PhaseUsage{}))
}

func TestRecordWorkflowSkipsEmptyPhases(t *testing.T) {
	l := openTestLedger(t)

	usage := map[string]state.PhaseUsage{
		"phase1": {InputTokens: 100, OutputTokens: 10},
		"phase2": {},
		"phase4": {InputTokens: 500, OutputTokens: 200, CostUSD: 0.5},
	}
	require.NoError(t, l.RecordWorkflow("proj", "wf-1", usage))

	entries, err := l.History("proj", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Phase)
	assert.Equal(t, 4, entries[1].Phase)
}

func TestProjectTotal(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.Record("proj", "wf-1", 1, state.PhaseUsage{InputTokens: 100, OutputTokens: 40, CostUSD: 0.01, Turns: 2}))
	require.NoError(t, l.Record("proj", "wf-2", 4, state.PhaseUsage{InputTokens: 300, OutputTokens: 60, CostUSD: 0.04, Turns: 5}))

	total, err := l.ProjectTotal("proj")
	require.NoError(t, err)
	assert.Equal(t, 400, total.InputTokens)
	assert.Equal(t, 100, total.OutputTokens)
	assert.InDelta(t, 0.05, total.CostUSD, 1e-9)
	assert.Equal(t, 7, total.Turns)

	empty, err := l.ProjectTotal("nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.InputTokens)
}
