package cmd

import (
	"fmt"

	"github.com/audiolibrelab/sensorcapture/internal/recorder"
	"github.com/audiolibrelab/sensorcapture/internal/sensor"
	"github.com/audiolibrelab/sensorcapture/internal/service"
	"github.com/dustin/go-humanize"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and storage usage",
	Long:  `Display the resolved configuration with inheritance indicators, the files each recorder writes and what is currently on disk. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		info, err := svc.GetStorageInfo()
		if err != nil {
			return err
		}

		fmt.Printf("=== STORAGE ===\n")
		fmt.Printf("directory: %s\n", info.Directory)
		fmt.Printf("retain_rows: %v\n", info.RetainRows)
		fmt.Printf("total: %s\n", info.TotalHuman)

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("profile: %s\n", cfg.Profile)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("mode: %s %s\n", cfg.Capture.Mode, getInheritanceIndicator(cfg.Source("capture.mode")))
		fmt.Printf("countdown: %s %s\n", cfg.Capture.Countdown, getInheritanceIndicator(cfg.Source("capture.countdown")))
		fmt.Printf("tick: %s %s\n", cfg.Capture.Tick, getInheritanceIndicator(cfg.Source("capture.tick")))
		maxBytes := "disabled"
		if cfg.Capture.MaxBytes > 0 {
			maxBytes = humanize.IBytes(uint64(cfg.Capture.MaxBytes))
		}
		fmt.Printf("max_bytes: %s %s\n", maxBytes, getInheritanceIndicator(cfg.Source("capture.max_bytes")))

		fmt.Printf("\n[Modalities]\n")
		for i, mc := range cfg.Modalities {
			layout, err := sensor.LayoutFor(mc.Modality)
			if err != nil {
				return err
			}
			fmt.Printf("%d. %s: enabled=%v %s, rate=%.0f/s\n", i, mc.Name, mc.Enabled,
				getInheritanceIndicator(cfg.Source("modalities."+mc.Name+".enabled")), mc.Rate)
			if layout.Kind == recorder.KindRow {
				fmt.Printf("   file: %s\n", layout.FileName)
				continue
			}
			fmt.Printf("   folder: %s/*.%s\n", layout.Folder, layout.Extension)
			fmt.Printf("   resolution: %dx%d", mc.Width, mc.Height)
			if mc.Modality == recorder.Color {
				fmt.Printf(" (scale 1/%d)", mc.Scale)
			}
			fmt.Printf(", skip=%d\n", mc.Skip)
		}

		fmt.Printf("\n[On disk]\n")
		for _, ri := range info.Recorders {
			if ri.Files == 0 {
				fmt.Printf("%s: empty\n", ri.Modality)
				continue
			}
			fmt.Printf("%s: %d file(s), %s, updated %s\n", ri.Modality, ri.Files, ri.SizeHuman, ri.ModTimeHuman)
		}
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}
