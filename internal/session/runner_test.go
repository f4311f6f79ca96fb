package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// scriptedConv replays one scripted assistant turn per Send call.
type scriptedConv struct {
	turns [][]claude.Message
	sent  []string
	msgs  chan claude.Message
}

func newScriptedConv(turns ...[]claude.Message) *scriptedConv {
	return &scriptedConv{turns: turns, msgs: make(chan claude.Message, 64)}
}

func (c *scriptedConv) Send(prompt string) error {
	i := len(c.sent)
	c.sent = append(c.sent, prompt)
	if i < len(c.turns) {
		for _, m := range c.turns[i] {
			c.msgs <- m
		}
	}
	return nil
}

func (c *scriptedConv) Messages() <-chan claude.Message { return c.msgs }

func text(s string) claude.Message {
	return claude.Message{
		Type:    claude.MessageAssistant,
		Content: []claude.ContentBlock{{Type: claude.BlockText, Text: s}},
	}
}

func toolUse() claude.Message {
	return claude.Message{
		Type:    claude.MessageAssistant,
		Content: []claude.ContentBlock{{Type: claude.BlockToolUse, ToolName: "Write"}},
	}
}

func result(res claude.Result) claude.Message {
	return claude.Message{Type: claude.MessageResult, Result: &res}
}

func testStore(t *testing.T) *state.Store {
	t.Helper()
	s := state.NewStore(t.TempDir())
	require.NoError(t, s.Initialize(state.ModeSupervisor, "wf-test"))
	return s
}

func newTestRunner(t *testing.T, conv conversation, store *state.Store, userInput string) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	log := wplog.New(t.TempDir(), "", "wf-test")
	r := New(conv, store, log, WithOutput(&out), WithInput(strings.NewReader(userInput)))
	return r, &out
}

func TestPhaseSessionCompletesOnSignal(t *testing.T) {
	for _, marker := range []string{"---PHASE_COMPLETE---", "**PHASE_COMPLETE**", "PHASE_COMPLETE"} {
		conv := newScriptedConv([]claude.Message{
			text("Requirements look good.\n" + marker),
			result(claude.Result{}),
		})
		r, _ := newTestRunner(t, conv, testStore(t), "")

		err := r.RunPhaseSession(context.Background(), "start", 1)
		assert.NoError(t, err, "marker %q", marker)
		assert.Equal(t, []string{"start"}, conv.sent)
	}
}

func TestPhaseSessionInteractiveLoop(t *testing.T) {
	conv := newScriptedConv(
		[]claude.Message{text("What scope?"), result(claude.Result{})},
		[]claude.Message{text("Got it. PHASE_COMPLETE"), result(claude.Result{})},
	)
	// Empty line is skipped, then a real answer.
	r, _ := newTestRunner(t, conv, testStore(t), "\nonly the parser\n")

	require.NoError(t, r.RunPhaseSession(context.Background(), "start", 1))
	assert.Equal(t, []string{"start", "only the parser"}, conv.sent)
}

func TestPhaseSessionDoneCommand(t *testing.T) {
	for _, cmd := range []string{"/done", "/complete", "/next"} {
		conv := newScriptedConv([]claude.Message{text("thinking"), result(claude.Result{})})
		r, _ := newTestRunner(t, conv, testStore(t), cmd+"\n")
		assert.NoError(t, r.RunPhaseSession(context.Background(), "start", 1), "command %q", cmd)
	}
}

func TestPhaseSessionAbortCommands(t *testing.T) {
	for _, cmd := range []string{"/quit", "/exit", "/abort"} {
		conv := newScriptedConv([]claude.Message{text("thinking"), result(claude.Result{})})
		r, _ := newTestRunner(t, conv, testStore(t), cmd+"\n")
		err := r.RunPhaseSession(context.Background(), "start", 1)
		assert.ErrorIs(t, err, ErrAborted, "command %q", cmd)
	}
}

func TestToolUseDotsAndNewlineBeforeText(t *testing.T) {
	conv := newScriptedConv([]claude.Message{
		toolUse(),
		toolUse(),
		text("done editing. PHASE_COMPLETE"),
		result(claude.Result{}),
	})
	r, out := newTestRunner(t, conv, testStore(t), "")

	require.NoError(t, r.RunPhaseSession(context.Background(), "go", 4))
	assert.Contains(t, out.String(), "..\ndone editing.")
}

func TestUsageRecordedPerPhase(t *testing.T) {
	store := testStore(t)
	conv := newScriptedConv([]claude.Message{
		text("PHASE_COMPLETE"),
		result(claude.Result{
			Usage:        claude.Usage{InputTokens: 100, OutputTokens: 40},
			TotalCostUSD: 0.05,
			DurationMS:   1200,
			NumTurns:     1,
		}),
	})
	r, _ := newTestRunner(t, conv, store, "")

	require.NoError(t, r.RunPhaseSession(context.Background(), "go", 2))
	u := store.PhaseUsage(2)
	assert.Equal(t, 100, u.InputTokens)
	assert.Equal(t, 40, u.OutputTokens)
	assert.InDelta(t, 0.05, u.CostUSD, 1e-9)
	assert.Equal(t, 1, u.Turns)
}

func TestFirstSessionIDCaptured(t *testing.T) {
	store := testStore(t)
	conv := newScriptedConv([]claude.Message{
		{Type: claude.MessageSystem, SessionID: "sess-1"},
		{Type: claude.MessageSystem, SessionID: "sess-2"},
		text("PHASE_COMPLETE"),
		result(claude.Result{}),
	})
	r, _ := newTestRunner(t, conv, store, "")

	require.NoError(t, r.RunPhaseSession(context.Background(), "go", 1))
	assert.Equal(t, "sess-1", r.SessionID())
	assert.Equal(t, "sess-1", store.Metadata().SessionID)
}

func TestRegenerationSignals(t *testing.T) {
	conv := newScriptedConv([]claude.Message{
		text("updated summary\n---REGENERATION_COMPLETE---"),
		result(claude.Result{}),
	})
	r, _ := newTestRunner(t, conv, testStore(t), "")
	completed, err := r.RunRegenerationSession(context.Background(), "regen", 2)
	require.NoError(t, err)
	assert.True(t, completed)

	conv = newScriptedConv([]claude.Message{
		text("REGENERATION_CANCELED"),
		result(claude.Result{}),
	})
	r, _ = newTestRunner(t, conv, testStore(t), "")
	completed, err = r.RunRegenerationSession(context.Background(), "regen", 2)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestExtractTextJoinsBlocksSilently(t *testing.T) {
	conv := newScriptedConv([]claude.Message{
		text("part one "),
		toolUse(),
		text("part two"),
		result(claude.Result{}),
	})
	r, out := newTestRunner(t, conv, testStore(t), "")

	got, err := r.ExtractText(context.Background(), "summarize", 2)
	require.NoError(t, err)
	assert.Equal(t, "part one part two", got)
	assert.Empty(t, out.String())
}

func TestExtractTextPartialOnTimeout(t *testing.T) {
	conv := newScriptedConv([]claude.Message{text("partial answer")}) // no result message
	r, _ := newTestRunner(t, conv, testStore(t), "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := r.ExtractText(ctx, "summarize", 2)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", got)
}

func TestResolveInputPlainText(t *testing.T) {
	got, note := ResolveInput("just some feedback")
	assert.Equal(t, "just some feedback", got)
	assert.Empty(t, note)
}

func TestResolveInputFileReferences(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("file contents"), 0644))

	for _, line := range []string{file, "@" + file, "@ " + file} {
		got, note := ResolveInput(line)
		assert.Equal(t, "file contents", got, "line %q", line)
		assert.Empty(t, note)
	}
}

func TestResolveInputUnreadableFile(t *testing.T) {
	got, note := ResolveInput("@/nowhere/missing.md")
	assert.Empty(t, got)
	assert.Contains(t, note, "/nowhere/missing.md")
}
