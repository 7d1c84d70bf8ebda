package cmd

import (
	"github.com/audiolibrelab/sensorcapture/internal/capture"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save the latest sample of every enabled stream after the countdown",
	Long: `Run a single-mode session: wait for the countdown, then save the most
recent sample of every enabled stream. Equivalent to 'record --mode single'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		countdown := cfg.Capture.Countdown.Std()
		if cmd.Flags().Changed("countdown") {
			countdown, _ = cmd.Flags().GetDuration("countdown")
		}
		return runSession(capture.ModeSingle, countdown, false)
	},
}

func init() {
	snapshotCmd.Flags().Duration("countdown", 0, "countdown before the snapshot is taken (overrides config)")
}
