package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/detect"
)

func newProfilesCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List technology profiles and the detected one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			override, err := config.LoadOverride()
			if err != nil {
				return err
			}
			det, err := detect.Detect(dir, cfg, override)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, id := range cfg.ProfileIDs() {
				p := cfg.Profiles[id]
				marker := " "
				if id == det.Profile.ID {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-12s %s\n", marker, id, p.Name)
			}
			if det.Score < 0 {
				fmt.Fprintln(out, "\nProfile pinned by wp-override.json.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "project directory")
	return cmd
}
