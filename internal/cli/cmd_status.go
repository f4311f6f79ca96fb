package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/state"
)

// workflowStatus is the printable view of one workflow state directory.
type workflowStatus struct {
	WorkflowID string                      `json:"workflowId"`
	StateDir   string                      `json:"stateDir"`
	Active     bool                        `json:"active"`
	Phase      int                         `json:"phase"`
	PhaseName  string                      `json:"phaseName"`
	Completed  []string                    `json:"completedPhases"`
	Usage      map[string]state.PhaseUsage `json:"usage"`
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow state",
		Long:  `Status lists the workflow state directories and their phase progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := collectStatuses()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			if len(statuses) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflow state found.")
				return nil
			}
			for _, st := range statuses {
				printStatus(cmd, st)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, st workflowStatus) {
	out := cmd.OutOrStdout()
	marker := "inactive"
	if st.Active {
		marker = "ACTIVE"
	}
	fmt.Fprintf(out, "%s  [%s]\n", st.WorkflowID, marker)
	fmt.Fprintf(out, "  phase:     %d (%s)\n", st.Phase, st.PhaseName)
	fmt.Fprintf(out, "  completed: %s\n", strings.Join(st.Completed, ", "))
	fmt.Fprintf(out, "  state dir: %s\n", st.StateDir)
}

// collectStatuses gathers workflow states: the markers-dir override if
// set, otherwise every wp-* directory under the tmp base.
func collectStatuses() ([]workflowStatus, error) {
	if dir := os.Getenv(state.EnvMarkersDir); dir != "" {
		st, err := readStatus(dir)
		if err != nil {
			return nil, err
		}
		return []workflowStatus{st}, nil
	}

	base, err := config.TmpBase()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", base, err)
	}

	var statuses []workflowStatus
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "wp-") {
			continue
		}
		dir := filepath.Join(base, e.Name())
		if _, err := os.Stat(filepath.Join(dir, state.StateFileName)); err != nil {
			continue
		}
		st, err := readStatus(dir)
		if err != nil {
			continue
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].WorkflowID > statuses[j].WorkflowID
	})
	return statuses, nil
}

func readStatus(dir string) (workflowStatus, error) {
	store := state.NewStore(dir)
	phase := store.Phase()

	var completed []string
	for p := 1; p <= 4; p++ {
		if store.IsPhaseComplete(p) {
			completed = append(completed, state.PhaseName(p))
		}
	}
	if completed == nil {
		completed = []string{"none"}
	}

	return workflowStatus{
		WorkflowID: store.Metadata().WorkflowID,
		StateDir:   dir,
		Active:     store.IsActive(),
		Phase:      phase,
		PhaseName:  state.PhaseName(phase),
		Completed:  completed,
		Usage:      store.AllUsage(),
	}, nil
}
