package hooks

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

const (
	// CompileTimeout bounds compile and test-compile commands.
	CompileTimeout = 120 * time.Second
	// TestTimeout bounds the full test run in phase 4.
	TestTimeout = 300 * time.Second
	// maxErrorChars truncates build output in stop reasons.
	maxErrorChars = 2000
)

// CommandRunner executes one shell command in a directory and returns
// its combined output. A non-nil error means non-zero exit.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (string, error)
}

// shellRunner runs commands through sh -c.
type shellRunner struct{}

func (shellRunner) Run(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Verifier is the stop-event hook: it blocks the assistant from
// stopping while the phase's build commands fail.
type Verifier struct {
	store      *state.Store
	profile    config.Profile
	projectDir string
	log        *wplog.Logger
	runner     CommandRunner
}

// NewVerifier creates a build verifier for a project.
func NewVerifier(store *state.Store, profile config.Profile, projectDir string, log *wplog.Logger) *Verifier {
	return &Verifier{
		store:      store,
		profile:    profile,
		projectDir: projectDir,
		log:        log,
		runner:     shellRunner{},
	}
}

// Handle is the Stop hook. stop_hook_active guards re-entry: when the
// runtime is already continuing because of a previous block, allow.
func (v *Verifier) Handle(input claude.HookInput) claude.HookOutput {
	if input.StopHookActive {
		return claude.Allow()
	}

	switch v.store.Phase() {
	case state.PhaseInterfaces:
		return v.verify("Compilation", v.profile.Commands.Compile, CompileTimeout)

	case state.PhaseTests:
		cmd := v.profile.Commands.TestCompile
		if cmd == "" {
			cmd = v.profile.Commands.Compile
		}
		return v.verify("Test compilation", cmd, CompileTimeout)

	case state.PhaseImplementation:
		if out := v.verify("Compilation", v.profile.Commands.Compile, CompileTimeout); out.IsBlock() {
			return out
		}
		return v.verify("Tests", v.profile.Commands.Test, TestTimeout)
	}
	return claude.Allow()
}

// verify runs one command. Commands with unreplaced placeholders are
// skipped, not failed.
func (v *Verifier) verify(label, command string, timeout time.Duration) claude.HookOutput {
	if command == "" || config.HasPlaceholder(command) {
		v.log.Log(wplog.CategoryBuild, "%s check skipped (command %q)", label, command)
		return claude.Allow()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	v.log.Log(wplog.CategoryBuild, "%s check: %s", label, command)
	out, err := v.runner.Run(ctx, v.projectDir, command)
	if err == nil {
		v.log.Log(wplog.CategoryBuild, "%s check passed", label)
		return claude.Allow()
	}

	v.log.Log(wplog.CategoryBuild, "%s check failed: %v", label, err)
	return claude.BlockStop(blockReason(label, command, out, err))
}

func blockReason(label, command, output string, err error) string {
	msg := strings.TrimSpace(output)
	if msg == "" {
		msg = err.Error()
	}
	if len(msg) > maxErrorChars {
		msg = msg[:maxErrorChars] + "\n... (truncated)"
	}
	return fmt.Sprintf("## %s FAILED\n\nCommand: `%s`\n\n```\n%s\n```\n\nFix the failure before completing this phase.",
		label, command, msg)
}
