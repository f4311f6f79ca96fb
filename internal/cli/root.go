// Package cli implements the waypoints command-line interface.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/waypoints/internal/orchestrator"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitInterrupt = 130
)

var (
	rootDir  string
	rootTask string
)

// rootCmd is the base command. Called without a subcommand it runs a
// workflow, so `waypoints -t "task"` is equivalent to `waypoints run`.
var rootCmd = &cobra.Command{
	Use:   "waypoints",
	Short: "Phased workflow supervisor for Claude Code",
	Long: `waypoints drives a coding assistant through a strict four-phase workflow:

  1. Requirements   agree on what to build (no source writes)
  2. Interfaces     design the public surfaces (no tests, no bodies)
  3. Tests          pin the contracts down (no implementation)
  4. Implementation build until the tests pass, under live review

Each phase produces a reviewed summary document, file writes are gated
to the current phase, and the assistant cannot stop phase 4 with a
broken build. Knowledge extracted along the way is applied to a
per-project knowledge base once the workflow succeeds.

Quick start:
  waypoints                     Start a workflow in the current directory
  waypoints -t "Fix login bug"  Start with an initial task
  waypoints status              Show the active workflow
  waypoints usage               Show recorded token/cost history`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, rootDir, rootTask)
	},
	SilenceUsage: true,
}

// Execute runs the CLI and maps the result to an exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, orchestrator.ErrAborted) {
			return ExitInterrupt
		}
		return ExitError
	}
	return ExitOK
}

func init() {
	cobra.OnInitialize(initConfig)

	addWorkflowFlags(rootCmd, &rootDir, &rootTask)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newUsageCmd())
	rootCmd.AddCommand(newProfilesCmd())
}

func initConfig() {
	viper.SetEnvPrefix("WP")
	viper.AutomaticEnv()
}
