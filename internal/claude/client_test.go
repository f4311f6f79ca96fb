package claude

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestDecodeAssistantMessage(t *testing.T) {
	line := `{"type":"assistant","session_id":"s1","message":{"content":[` +
		`{"type":"text","text":"hello"},` +
		`{"type":"tool_use","name":"Write","input":{"file_path":"/tmp/a.go"}}]}}`

	msg, ok := decodeMessage(gjson.Parse(line))
	require.True(t, ok)
	assert.Equal(t, MessageAssistant, msg.Type)
	assert.Equal(t, "s1", msg.SessionID)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "hello", msg.Content[0].Text)
	assert.Equal(t, "Write", msg.Content[1].ToolName)
	assert.Contains(t, string(msg.Content[1].ToolInput), "/tmp/a.go")
}

func TestDecodeResultToleratesMissingFields(t *testing.T) {
	msg, ok := decodeMessage(gjson.Parse(`{"type":"result"}`))
	require.True(t, ok)
	require.NotNil(t, msg.Result)
	assert.Zero(t, msg.Result.Usage.InputTokens)
	assert.Zero(t, msg.Result.TotalCostUSD)
}

func TestDecodeResultFull(t *testing.T) {
	line := `{"type":"result","session_id":"s2","usage":{"input_tokens":10,"output_tokens":20},` +
		`"total_cost_usd":0.05,"duration_ms":1234,"num_turns":3,"is_error":false}`

	msg, ok := decodeMessage(gjson.Parse(line))
	require.True(t, ok)
	assert.Equal(t, 10, msg.Result.Usage.InputTokens)
	assert.Equal(t, 20, msg.Result.Usage.OutputTokens)
	assert.InDelta(t, 0.05, msg.Result.TotalCostUSD, 1e-9)
	assert.Equal(t, int64(1234), msg.Result.DurationMS)
	assert.Equal(t, 3, msg.Result.NumTurns)
}

func TestDecodeUnknownTypeSkipped(t *testing.T) {
	_, ok := decodeMessage(gjson.Parse(`{"type":"stream_event"}`))
	assert.False(t, ok)
}

func TestHookInputFilePath(t *testing.T) {
	var input HookInput
	require.NoError(t, json.Unmarshal([]byte(
		`{"hook_event_name":"PreToolUse","tool_name":"Write","tool_input":{"file_path":"/p/a.py"},"cwd":"/p"}`,
	), &input))
	assert.Equal(t, "/p/a.py", input.FilePath())
	assert.Equal(t, "Write", input.ToolName)

	empty := HookInput{}
	assert.Empty(t, empty.FilePath())
}

func TestHookOutputShapes(t *testing.T) {
	deny := Deny(HookEventPreToolUse, "Phase 1 forbids source writes")
	assert.True(t, deny.IsDeny())
	data, err := json.Marshal(deny)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hookSpecificOutput":{"hookEventName":"PreToolUse",`+
		`"permissionDecision":"deny","permissionDecisionReason":"Phase 1 forbids source writes"}}`, string(data))

	block := BlockStop("Compilation FAILED")
	assert.True(t, block.IsBlock())
	data, err = json.Marshal(block)
	require.NoError(t, err)
	assert.JSONEq(t, `{"continue":false,"stopReason":"Compilation FAILED"}`, string(data))

	allow := Allow()
	assert.False(t, allow.IsDeny())
	assert.False(t, allow.IsBlock())
	data, err = json.Marshal(allow)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestCloseReleasesAbandonedReader(t *testing.T) {
	s := NewSession()

	// Far more messages than the channel buffers, and no consumer: the
	// reader blocks mid-stream until Close releases it.
	var lines strings.Builder
	for i := 0; i < 200; i++ {
		lines.WriteString(`{"type":"assistant","message":{"content":[{"type":"text","text":"x"}]}}` + "\n")
	}
	go s.readLoop(strings.NewReader(lines.String()))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case <-s.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after Close")
	}
}

func TestDispatchHookRecoversPanic(t *testing.T) {
	s := &Session{
		logger: slog.Default(),
		hooks: Hooks{PreToolUse: func(HookInput) HookOutput {
			panic("boom")
		}},
	}
	out := s.dispatchHook(HookInput{HookEventName: HookEventPreToolUse})
	assert.False(t, out.IsDeny())
}

func TestDispatchHookNoHandlerAllows(t *testing.T) {
	s := &Session{logger: slog.Default()}
	out := s.dispatchHook(HookInput{HookEventName: HookEventStop})
	assert.False(t, out.IsBlock())
}
