package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/sensorcapture/internal/server"
	"github.com/audiolibrelab/sensorcapture/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for remote control",
	Long: `Start the SensorCapture HTTP API to arm, stop and inspect captures
from any device on the same network.

Modality toggles are re-applied whenever the config file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		svc, err := service.New(cfg, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		if cfgFile != "" {
			if err := svc.WatchConfig(); err != nil {
				return fmt.Errorf("failed to watch config: %w", err)
			}
		}

		srv := server.New(svc, port)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := svc.Run(ctx); err != nil {
				slog.Error("Capture service stopped", "error", err)
			}
		}()

		slog.Info("SensorCapture web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
