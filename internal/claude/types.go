// Package claude provides a streaming client for the Claude Code CLI.
//
// The client speaks the CLI's stream-json protocol: user turns are
// written as JSON lines on stdin, assistant messages arrive as JSON
// lines on stdout, and hook callbacks round-trip through control
// requests. Decoding is deliberately tolerant: unknown fields and
// missing attributes never fail a message.
package claude

import "encoding/json"

// Message types on the wire.
const (
	MessageSystem    = "system"
	MessageAssistant = "assistant"
	MessageResult    = "result"
)

// Content block types within an assistant message.
const (
	BlockText    = "text"
	BlockToolUse = "tool_use"
)

// Hook event names.
const (
	HookEventPreToolUse  = "PreToolUse"
	HookEventPostToolUse = "PostToolUse"
	HookEventStop        = "Stop"
)

// ContentBlock is a single block inside an assistant message.
type ContentBlock struct {
	Type      string
	Text      string          // BlockText
	ToolName  string          // BlockToolUse
	ToolInput json.RawMessage // BlockToolUse
}

// Usage is the token accounting attached to a result message.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result carries the final accounting for one assistant turn.
type Result struct {
	Usage        Usage
	TotalCostUSD float64
	DurationMS   int64
	NumTurns     int
	IsError      bool
}

// Message is one decoded stream message. Exactly one of the payload
// fields is populated depending on Type.
type Message struct {
	Type      string
	SessionID string
	Content   []ContentBlock // MessageAssistant
	Result    *Result        // MessageResult
}

// HookInput is the JSON object delivered to a hook handler.
type HookInput struct {
	HookEventName  string         `json:"hook_event_name"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	CWD            string         `json:"cwd,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	StopHookActive bool           `json:"stop_hook_active,omitempty"`
}

// FilePath returns tool_input.file_path when present.
func (h HookInput) FilePath() string {
	if v, ok := h.ToolInput["file_path"].(string); ok {
		return v
	}
	return ""
}

// HookSpecificOutput is the permission payload of a deny response.
type HookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// HookOutput is a hook handler's response. The zero value means allow.
type HookOutput struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
	Continue           *bool               `json:"continue,omitempty"`
	StopReason         string              `json:"stopReason,omitempty"`
}

// Allow is the empty allow response.
func Allow() HookOutput { return HookOutput{} }

// Deny builds a structured permission denial for a hook event.
func Deny(event, reason string) HookOutput {
	return HookOutput{HookSpecificOutput: &HookSpecificOutput{
		HookEventName:            event,
		PermissionDecision:       "deny",
		PermissionDecisionReason: reason,
	}}
}

// BlockStop builds a stop-hook block response.
func BlockStop(reason string) HookOutput {
	cont := false
	return HookOutput{Continue: &cont, StopReason: reason}
}

// IsDeny reports whether the output denies the tool call.
func (o HookOutput) IsDeny() bool {
	return o.HookSpecificOutput != nil && o.HookSpecificOutput.PermissionDecision == "deny"
}

// IsBlock reports whether the output blocks the stop event.
func (o HookOutput) IsBlock() bool {
	return o.Continue != nil && !*o.Continue
}

// HookHandler processes one hook input. Handlers must not block on I/O
// for long; they run on the stream reader goroutine.
type HookHandler func(HookInput) HookOutput

// Hooks bundles the handlers a session registers with the runtime.
// Nil handlers allow everything.
type Hooks struct {
	PreToolUse  HookHandler
	PostToolUse HookHandler
	Stop        HookHandler
}

// handlerFor returns the handler registered for an event name.
func (h Hooks) handlerFor(event string) HookHandler {
	switch event {
	case HookEventPreToolUse:
		return h.PreToolUse
	case HookEventPostToolUse:
		return h.PostToolUse
	case HookEventStop:
		return h.Stop
	}
	return nil
}
