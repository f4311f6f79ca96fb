package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/tidwall/gjson"
)

// EnvDisableHooks disables all hook registration when set to "1".
const EnvDisableHooks = "WP_DISABLE_HOOKS"

// maxLineSize bounds one stream-json line. Assistant messages carrying
// whole file contents can get large.
const maxLineSize = 16 * 1024 * 1024

// Session is one long-lived streaming conversation with the Claude CLI.
type Session struct {
	claudePath string
	workdir    string
	model      string
	resumeID   string
	extraEnv   map[string]string
	hooks      Hooks
	logger     *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	msgs   chan Message
	closed chan struct{}

	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	sessionID string
}

// Option configures a Session.
type Option func(*Session)

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) Option {
	return func(s *Session) { s.claudePath = path }
}

// WithWorkdir sets the working directory for the assistant.
func WithWorkdir(dir string) Option {
	return func(s *Session) { s.workdir = dir }
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(s *Session) { s.model = model }
}

// WithResume resumes an existing session by id.
func WithResume(id string) Option {
	return func(s *Session) { s.resumeID = id }
}

// WithEnv adds environment variables for the spawned process.
func WithEnv(env map[string]string) Option {
	return func(s *Session) { s.extraEnv = env }
}

// WithHooks registers hook handlers. Registration is skipped entirely
// when WP_DISABLE_HOOKS=1.
func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates an unstarted session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		claudePath: "claude",
		logger:     slog.Default(),
		msgs:       make(chan Message, 64),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if os.Getenv(EnvDisableHooks) == "1" {
		s.hooks = Hooks{}
	}
	return s
}

// Start spawns the CLI process and begins decoding its stream.
func (s *Session) Start(ctx context.Context) error {
	args := []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if s.model != "" {
		args = append(args, "--model", s.model)
	}
	if s.resumeID != "" {
		args = append(args, "--resume", s.resumeID)
	}

	cmd := exec.CommandContext(ctx, s.claudePath, args...)
	cmd.Dir = s.workdir
	cmd.Env = os.Environ()
	for k, v := range s.extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.claudePath, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	go s.readLoop(stdout)
	return nil
}

// Send writes one user turn.
func (s *Session) Send(prompt string) error {
	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	}
	return s.writeLine(msg)
}

// Messages returns the decoded message stream. The channel closes when
// the process exits or the stream ends.
func (s *Session) Messages() <-chan Message {
	return s.msgs
}

// SessionID returns the first session id observed on the stream.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Close shuts the session down and releases the process. The reader
// goroutine is released even when the consumer abandoned Messages()
// with messages still buffered.
func (s *Session) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		// Wait briefly is handled by CommandContext; kill outright here
		// since the conversation is over.
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}

func (s *Session) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return fmt.Errorf("session not started")
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to assistant: %w", err)
	}
	return nil
}

// readLoop decodes stdout lines into Messages, answering control
// requests (hook callbacks) inline.
func (s *Session) readLoop(stdout io.Reader) {
	defer close(s.msgs)
	defer close(s.closed)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		root := gjson.ParseBytes(line)

		switch root.Get("type").String() {
		case "control_request":
			s.handleControlRequest(root)
		default:
			msg, ok := decodeMessage(root)
			if !ok {
				continue
			}
			s.rememberSessionID(msg.SessionID)
			select {
			case s.msgs <- msg:
			case <-s.done:
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("assistant stream ended", "error", err)
	}
}

func (s *Session) rememberSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		s.sessionID = id
	}
}

// handleControlRequest dispatches a hook callback and writes the
// response. A missing handler, a handler panic, or an undecodable
// request all answer with allow: hook failures never surface to the
// runtime.
func (s *Session) handleControlRequest(root gjson.Result) {
	requestID := root.Get("request_id").String()
	req := root.Get("request")
	if req.Get("subtype").String() != "hook_callback" {
		s.respondControl(requestID, Allow())
		return
	}

	var input HookInput
	if raw := req.Get("input").Raw; raw != "" {
		_ = json.Unmarshal([]byte(raw), &input)
	}
	if input.HookEventName == "" {
		input.HookEventName = req.Get("hook_event_name").String()
	}

	out := s.dispatchHook(input)
	s.respondControl(requestID, out)
}

func (s *Session) dispatchHook(input HookInput) (out HookOutput) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("hook handler panicked", "event", input.HookEventName, "panic", r)
			out = Allow()
		}
	}()
	handler := s.hooks.handlerFor(input.HookEventName)
	if handler == nil {
		return Allow()
	}
	return handler(input)
}

func (s *Session) respondControl(requestID string, out HookOutput) {
	resp := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"request_id": requestID,
			"subtype":    "success",
			"response":   out,
		},
	}
	if err := s.writeLine(resp); err != nil {
		s.logger.Debug("control response write failed", "error", err)
	}
}

// decodeMessage maps one stream line onto the sealed Message variant.
func decodeMessage(root gjson.Result) (Message, bool) {
	msg := Message{
		Type:      root.Get("type").String(),
		SessionID: root.Get("session_id").String(),
	}

	switch msg.Type {
	case MessageSystem:
		return msg, true

	case MessageAssistant:
		root.Get("message.content").ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case BlockText:
				msg.Content = append(msg.Content, ContentBlock{
					Type: BlockText,
					Text: block.Get("text").String(),
				})
			case BlockToolUse:
				msg.Content = append(msg.Content, ContentBlock{
					Type:      BlockToolUse,
					ToolName:  block.Get("name").String(),
					ToolInput: json.RawMessage(block.Get("input").Raw),
				})
			}
			return true
		})
		return msg, true

	case MessageResult:
		msg.Result = &Result{
			Usage: Usage{
				InputTokens:  int(root.Get("usage.input_tokens").Int()),
				OutputTokens: int(root.Get("usage.output_tokens").Int()),
			},
			TotalCostUSD: root.Get("total_cost_usd").Float(),
			DurationMS:   root.Get("duration_ms").Int(),
			NumTurns:     int(root.Get("num_turns").Int()),
			IsError:      root.Get("is_error").Bool(),
		}
		return msg, true
	}
	return Message{}, false
}
