package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/sensorcapture/internal/capture"
	"github.com/audiolibrelab/sensorcapture/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Arm a capture session and record until stopped",
	Long: `Arm a capture session using the configured mode and countdown.

In multiple mode every enabled stream is recorded until Enter or Ctrl+C is
pressed, or until the byte budget is reached. In single mode the latest
sample of every enabled stream is saved when the countdown expires.
Pressing Enter or Ctrl+C during the countdown cancels the session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := cfg.Capture.Mode
		if cmd.Flags().Changed("mode") {
			value, _ := cmd.Flags().GetString("mode")
			parsed, err := capture.ParseMode(value)
			if err != nil {
				return err
			}
			mode = parsed
		}

		countdown := cfg.Capture.Countdown.Std()
		if cmd.Flags().Changed("countdown") {
			countdown, _ = cmd.Flags().GetDuration("countdown")
		}

		watch, _ := cmd.Flags().GetBool("watch")
		return runSession(mode, countdown, watch)
	},
}

// runSession drives one capture session from the terminal and returns once
// it completed or was canceled.
func runSession(mode capture.Mode, countdown time.Duration, watch bool) error {
	slog.Info("Capture command started", "mode", mode, "countdown", countdown, "storage", cfg.Storage.Dir())

	svc, err := service.New(cfg, cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if watch && cfgFile != "" {
		if err := svc.WatchConfig(); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
	}

	finished := make(chan capture.Event, 1)
	svc.Subscribe(func(ev capture.Event) {
		printEvent(ev)
		if ev.Kind == capture.EventCompleted || ev.Kind == capture.EventCanceled {
			select {
			case finished <- ev:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	if err := svc.SetMode(string(mode)); err != nil {
		return err
	}
	if err := svc.SetCountdown(countdown); err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	// Handle interruption
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	enter := make(chan struct{}, 1)
	go func() {
		if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err == nil {
			enter <- struct{}{}
		}
	}()

	for {
		select {
		case ev := <-finished:
			cancel()
			<-runErr
			if ev.Result != nil && ev.Result.Fatal != nil {
				return fmt.Errorf("capture failed: %w", ev.Result.Fatal)
			}
			return nil
		case err := <-runErr:
			return err
		case <-sigChan:
			stop(svc)
		case <-enter:
			stop(svc)
		}
	}
}

func stop(svc service.Service) {
	slog.Info("Stopping capture...")
	if err := svc.Stop(); err != nil {
		slog.Debug("Stop ignored", "error", err)
	}
}

func printEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventProgress:
		if ev.Phase == capture.PhaseCountdown {
			fmt.Printf("\rStarting in %.1fs ", ev.Remaining.Seconds())
			return
		}
		fmt.Printf("\r%s...\n", ev.Message)
	case capture.EventRecordingBegan:
		if ev.Mode == capture.ModeMultiple {
			fmt.Println("\rRecording... press Enter or Ctrl+C to stop")
		}
	case capture.EventFinishedBySystem:
		fmt.Println("\rByte budget reached, capture finished by system")
	case capture.EventCanceled, capture.EventCompleted, capture.EventDeleted:
		fmt.Printf("\r%s\n", ev.Message)
	}
}

func init() {
	recordCmd.Flags().String("mode", "", "capture mode: single or multiple (overrides config)")
	recordCmd.Flags().Duration("countdown", 0, "countdown before capture starts (overrides config)")
	recordCmd.Flags().Bool("watch", false, "re-apply modality toggles when the config file changes")
}
