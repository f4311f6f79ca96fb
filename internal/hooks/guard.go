// Package hooks implements the supervisor-side hook handlers: the
// pre-tool phase guard and the stop-event build verifier. Handlers never
// return errors to the runtime; internal failures log HOOK_ERROR and
// allow.
package hooks

import (
	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/detect"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// guardedTools are the tool names subject to phase write gates.
var guardedTools = map[string]bool{
	"Write": true,
	"Edit":  true,
}

// Guard denies file writes that violate the current phase's rules.
type Guard struct {
	store   *state.Store
	profile config.Profile
	log     *wplog.Logger
}

// NewGuard creates a phase guard over a store and technology profile.
func NewGuard(store *state.Store, profile config.Profile, log *wplog.Logger) *Guard {
	return &Guard{store: store, profile: profile, log: log}
}

// Handle is the PreToolUse hook. It fires only for Write/Edit calls
// carrying a file_path; everything else is allowed through.
func (g *Guard) Handle(input claude.HookInput) claude.HookOutput {
	if !guardedTools[input.ToolName] {
		return claude.Allow()
	}
	path := input.FilePath()
	if path == "" {
		return claude.Allow()
	}

	phase := g.store.Phase()
	if !state.ValidPhase(phase) {
		g.log.Log(wplog.CategoryHookError, "guard: phase %d out of range, allowing %s", phase, path)
		return claude.Allow()
	}

	class := detect.Classify(g.profile, path)
	reason := denyReason(phase, class)
	if reason == "" {
		g.log.Log(wplog.CategoryHook, "guard: allow %s %s (phase %d)", input.ToolName, path, phase)
		return claude.Allow()
	}

	g.log.Log(wplog.CategoryHook, "guard: deny %s %s (phase %d)", input.ToolName, path, phase)
	return claude.Deny(claude.HookEventPreToolUse, reason)
}

// denyReason evaluates the phase gate table. An empty string allows.
//
//	phase | main  | test  | config
//	  1   | deny  | deny  | allow
//	  2   | allow | deny  | allow
//	  3   | deny* | allow | allow   (* unless also test or config)
//	  4   | allow | allow | allow
func denyReason(phase int, class detect.Classification) string {
	switch phase {
	case state.PhaseRequirements:
		if class.Config {
			return ""
		}
		if class.Main || class.Test {
			return "Phase 1 (Requirements): source files may not be modified. " +
				"Gather requirements first; only configuration and documentation changes are allowed."
		}
	case state.PhaseInterfaces:
		if class.Test && !class.Config {
			return "Phase 2 (Interfaces): test sources may not be modified yet. " +
				"Define interfaces first; tests are written in Phase 3."
		}
	case state.PhaseTests:
		if class.Main && !class.Test && !class.Config {
			return "Phase 3 (Tests): implementation sources are frozen while tests are written. " +
				"Only test and configuration files may change."
		}
	}
	return ""
}
