// Package session implements the unified streaming loop shared by
// phase sessions, regeneration conversations, and silent text
// extraction.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// ExtractTimeout bounds silent text extraction; partial text collected
// before the deadline is still returned.
const ExtractTimeout = 300 * time.Second

// ErrAborted is returned when the user cancels the session.
var ErrAborted = errors.New("session aborted by user")

// Signal is a workflow marker detected in assistant text.
type Signal int

const (
	SignalNone Signal = iota
	SignalPhaseComplete
	SignalRegenComplete
	SignalRegenCanceled
)

// signalChecker inspects one text block and reports a detected signal.
type signalChecker func(text string) Signal

// conversation is the slice of the assistant session the runner needs.
// *claude.Session satisfies it.
type conversation interface {
	Send(prompt string) error
	Messages() <-chan claude.Message
}

// Runner drives one assistant conversation: it renders the stream,
// detects completion signals, records usage per phase, and relays user
// turns.
type Runner struct {
	conv  conversation
	store *state.Store
	log   *wplog.Logger
	out   io.Writer
	in    *bufio.Reader

	sessionID string
	dots      bool
	feedback  func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput redirects stream rendering (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithInput sets the user-turn source (default os.Stdin).
func WithInput(rd io.Reader) Option {
	return func(r *Runner) { r.in = bufio.NewReader(rd) }
}

// WithFeedbackSource registers a drain polled between assistant
// responses; a non-empty result is sent as the next user turn before
// the runner blocks on user input.
func WithFeedbackSource(f func() string) Option {
	return func(r *Runner) { r.feedback = f }
}

// New creates a runner over an already-started conversation.
func New(conv conversation, store *state.Store, log *wplog.Logger, opts ...Option) *Runner {
	r := &Runner{
		conv:  conv,
		store: store,
		log:   log,
		out:   os.Stdout,
		in:    bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the first session id observed on the stream.
func (r *Runner) SessionID() string { return r.sessionID }

// RunPhaseSession streams the initial prompt, then loops on user input
// until the assistant signals completion or the user ends or aborts the
// phase.
func (r *Runner) RunPhaseSession(ctx context.Context, prompt string, phase int) error {
	return r.runInteractive(ctx, prompt, phase, checkPhaseSignal, func(sig Signal) (bool, error) {
		return sig == SignalPhaseComplete, nil
	})
}

// RunRegenerationSession is the phase loop with regeneration signals.
// Returns true when the assistant completed the regeneration, false
// when it canceled.
func (r *Runner) RunRegenerationSession(ctx context.Context, prompt string, phase int) (bool, error) {
	completed := false
	err := r.runInteractive(ctx, prompt, phase, checkRegenSignal, func(sig Signal) (bool, error) {
		switch sig {
		case SignalRegenComplete:
			completed = true
			return true, nil
		case SignalRegenCanceled:
			return true, nil
		}
		return false, nil
	})
	return completed, err
}

func (r *Runner) runInteractive(ctx context.Context, prompt string, phase int, check signalChecker, done func(Signal) (bool, error)) error {
	if err := r.conv.Send(prompt); err != nil {
		return fmt.Errorf("send prompt: %w", err)
	}
	sig, err := r.processStream(ctx, phase, check)
	if err != nil {
		return err
	}
	if stop, err := done(sig); stop || err != nil {
		return err
	}

	for {
		if r.feedback != nil {
			if fb := r.feedback(); strings.TrimSpace(fb) != "" {
				if err := r.conv.Send(fb); err != nil {
					return fmt.Errorf("inject feedback: %w", err)
				}
				sig, err := r.processStream(ctx, phase, check)
				if err != nil {
					return err
				}
				if stop, err := done(sig); stop || err != nil {
					return err
				}
				continue
			}
		}

		line, err := r.readUserLine()
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "/done", "/complete", "/next":
			return nil
		case "/quit", "/exit", "/abort":
			return ErrAborted
		}

		text, note := ResolveInput(line)
		if note != "" {
			fmt.Fprintln(r.out, note)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		if err := r.conv.Send(text); err != nil {
			return fmt.Errorf("send user turn: %w", err)
		}
		sig, err := r.processStream(ctx, phase, check)
		if err != nil {
			return err
		}
		if stop, err := done(sig); stop || err != nil {
			return err
		}
	}
}

// ExtractText sends one prompt and silently collects all assistant text
// for the turn. On timeout the partial text is returned.
func (r *Runner) ExtractText(ctx context.Context, prompt string, phase int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	if err := r.conv.Send(prompt); err != nil {
		return "", fmt.Errorf("send extraction prompt: %w", err)
	}

	var b strings.Builder
	for {
		select {
		case msg, ok := <-r.conv.Messages():
			if !ok {
				return b.String(), fmt.Errorf("session closed mid-extraction")
			}
			r.rememberSessionID(msg.SessionID)
			switch msg.Type {
			case claude.MessageAssistant:
				for _, block := range msg.Content {
					if block.Type == claude.BlockText {
						b.WriteString(block.Text)
					}
				}
			case claude.MessageResult:
				r.recordUsage(phase, msg.Result)
				return b.String(), nil
			}
		case <-ctx.Done():
			r.log.Log(wplog.CategoryError, "text extraction timed out, returning partial response")
			return b.String(), nil
		}
	}
}

// processStream renders one assistant turn: text prints live, tool use
// prints a progress dot, the result message records usage and ends the
// turn. Returns the first signal detected in any text block.
func (r *Runner) processStream(ctx context.Context, phase int, check signalChecker) (Signal, error) {
	detected := SignalNone
	for {
		select {
		case msg, ok := <-r.conv.Messages():
			if !ok {
				return detected, fmt.Errorf("session closed mid-turn")
			}
			r.rememberSessionID(msg.SessionID)
			switch msg.Type {
			case claude.MessageAssistant:
				for _, block := range msg.Content {
					switch block.Type {
					case claude.BlockText:
						if r.dots {
							fmt.Fprintln(r.out)
							r.dots = false
						}
						fmt.Fprint(r.out, block.Text)
						if check != nil && detected == SignalNone {
							detected = check(block.Text)
						}
					case claude.BlockToolUse:
						fmt.Fprint(r.out, ".")
						r.dots = true
					}
				}
			case claude.MessageResult:
				if r.dots {
					fmt.Fprintln(r.out)
					r.dots = false
				}
				r.recordUsage(phase, msg.Result)
				return detected, nil
			}
		case <-ctx.Done():
			return detected, ctx.Err()
		}
	}
}

func (r *Runner) rememberSessionID(id string) {
	if r.sessionID == "" && id != "" {
		r.sessionID = id
		if r.store != nil {
			if err := r.store.SetSessionID(id); err != nil {
				r.log.Error("record session id", err)
			}
		}
	}
}

func (r *Runner) recordUsage(phase int, res *claude.Result) {
	if res == nil || r.store == nil {
		return
	}
	usage := state.PhaseUsage{
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		CostUSD:      res.TotalCostUSD,
		DurationMS:   res.DurationMS,
		Turns:        res.NumTurns,
	}
	if err := r.store.AddPhaseUsage(phase, usage); err != nil {
		r.log.Error("record phase usage", err)
	}
	r.log.Log(wplog.CategoryUsage, "phase %d: in=%d out=%d cost=%.4f", phase, usage.InputTokens, usage.OutputTokens, usage.CostUSD)
}

func (r *Runner) readUserLine() (string, error) {
	fmt.Fprint(r.out, "\n> ")
	line, err := r.in.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", fmt.Errorf("read user input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// checkPhaseSignal matches the completion marker in any of its written
// variants (---X---, **X**, or bare).
func checkPhaseSignal(text string) Signal {
	if strings.Contains(text, "PHASE_COMPLETE") {
		return SignalPhaseComplete
	}
	return SignalNone
}

// checkRegenSignal distinguishes regeneration completion from
// cancellation. Canceled is checked first: both markers share a prefix.
func checkRegenSignal(text string) Signal {
	if strings.Contains(text, "REGENERATION_CANCELED") {
		return SignalRegenCanceled
	}
	if strings.Contains(text, "REGENERATION_COMPLETE") {
		return SignalRegenComplete
	}
	return SignalNone
}
