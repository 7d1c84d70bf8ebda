package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/audiolibrelab/sensorcapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "sensorcapture",
	Short: "Capture sensor streams to disk",
	Long: `SensorCapture records hand, body, face, blend shape, spatial map,
depth and color streams into a storage folder.

A capture session is armed with a countdown and then either saves a single
snapshot of the latest sample of every enabled stream, or records
continuously until it is stopped or the byte budget is reached.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// config init writes the file the other commands read
		if cmd.Name() == "init" {
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = defaultConfigPath()
		}

		if _, statErr := os.Stat(cfgFile); !explicit && errors.Is(statErr, fs.ErrNotExist) {
			slog.Warn("No config file found, using built-in defaults", "path", cfgFile)
			cfgFile = ""
			resolved, err := config.Resolve(&config.RootConfig{}, profile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = resolved
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/sensorcapture.yaml")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/sensorcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
