package main

import (
	"fmt"
	"os"

	"github.com/forest-guardian/forest-change-detection/internal/ui"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the recorded run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runs, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if runs == nil {
			return fmt.Errorf("no run store configured")
		}
		defer runs.Close()

		history, err := runs.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		ui.FprintRuns(os.Stdout, history)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
}
