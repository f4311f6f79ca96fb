package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/waypoints/internal/orchestrator"
	"github.com/randalmurphal/waypoints/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		dir  string
		task string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a four-phase workflow",
		Long: `Run starts a supervised workflow in the project directory. The
assistant is walked through requirements, interfaces, tests, and
implementation; phase documents are saved alongside the workflow state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, dir, task)
		},
	}

	addWorkflowFlags(cmd, &dir, &task)
	return cmd
}

// addWorkflowFlags registers the workflow flags shared by the root
// command and the run subcommand.
func addWorkflowFlags(cmd *cobra.Command, dir, task *string) {
	cmd.Flags().StringVarP(dir, "dir", "d", ".", "project directory")
	cmd.Flags().StringVarP(task, "task", "t", "", "initial task description injected into phase 1")
}

// runWorkflow starts a supervised workflow and blocks until it finishes
// or the process is interrupted.
func runWorkflow(cmd *cobra.Command, dir, task string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o, err := orchestrator.New(dir, orchestrator.WithTask(task))
	if err != nil {
		return err
	}
	err = o.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return session.ErrAborted
	}
	return err
}
