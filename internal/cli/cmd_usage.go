package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/db"
	"github.com/randalmurphal/waypoints/internal/project"
)

func newUsageCmd() *cobra.Command {
	var (
		dir   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recorded token and cost history",
		Long: `Usage prints the per-phase token and cost rows recorded for this
project's past workflows, newest first, plus the running total.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kroot, err := config.KnowledgeRoot()
			if err != nil {
				return err
			}
			ledger, err := db.Open(db.Path(kroot))
			if err != nil {
				return err
			}
			defer ledger.Close()

			projectID := project.ID(dir)
			entries, err := ledger.History(projectID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No usage recorded for %s.\n", projectID)
				return nil
			}

			fmt.Fprintf(out, "%-18s %-6s %10s %10s %10s\n", "Workflow", "Phase", "Input", "Output", "Cost")
			for _, e := range entries {
				fmt.Fprintf(out, "%-18s %-6d %10d %10d %9.4f$\n",
					e.WorkflowID, e.Phase, e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CostUSD)
			}

			total, err := ledger.ProjectTotal(projectID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-25s %10d %10d %9.4f$\n", "Total", total.InputTokens, total.OutputTokens, total.CostUSD)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "project directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 40, "maximum rows to show (0 = all)")
	return cmd
}
