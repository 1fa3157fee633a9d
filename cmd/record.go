package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/recbridge/internal/audio"
	"github.com/audiolibrelab/recbridge/internal/bridge"
	"github.com/audiolibrelab/recbridge/internal/status"
	"github.com/google/uuid"

	"github.com/spf13/cobra"
)

const meterWidth = 40

var recordCmd = &cobra.Command{
	Use:   "record [output]",
	Short: "Record from the configured source until Ctrl+C",
	Long: `Run one recorder session locally: create, prepare and start, then show
a level meter until interrupted, then stop and release.

Relative output paths are placed in the configured output directory. Without
an output argument a timestamped WAV file is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := fmt.Sprintf("recording-%s.wav", time.Now().Format("20060102-150405"))
		if len(args) == 1 {
			output = args[0]
		}

		sessionID, _ := cmd.Flags().GetString("session-id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		interval, _ := cmd.Flags().GetDuration("meter-interval")
		if interval <= 0 {
			return fmt.Errorf("meter interval must be positive, got %s", interval)
		}

		device, err := audio.NewDevice(cfg)
		if err != nil {
			return fmt.Errorf("failed to create capture device: %w", err)
		}

		reporter := status.NewReporter(cfg.Notify.QueueSize)
		defer reporter.Close()
		reporter.Register(sessionID, status.ListenerFunc(func(e status.Event) error {
			slog.Info("Recorder status", "session", e.SessionID, "code", e.Code)
			return nil
		}))

		dispatcher := bridge.New(device, reporter, cfg.Output.Directory)
		defer dispatcher.Close()

		ctx := context.Background()
		steps := []struct {
			action string
			args   []string
		}{
			{"create", []string{sessionID, output}},
			{"prepareRecordingAudio", []string{sessionID}},
			{"startRecordingAudio", []string{sessionID}},
		}
		for _, step := range steps {
			if _, err := dispatcher.Execute(ctx, step.action, step.args); err != nil {
				return fmt.Errorf("failed to %s: %w", step.action, err)
			}
		}

		info, _ := dispatcher.Session()
		slog.Info("Recording - Press Ctrl+C to stop", "session", sessionID, "output", info.OutputPath, "device", device.Name())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

	meter:
		for {
			select {
			case <-sigChan:
				break meter
			case <-ticker.C:
				result, err := dispatcher.Execute(ctx, "getRecordingLevel", nil)
				if err != nil {
					slog.Debug("Level sample failed", "error", err)
					continue
				}
				fmt.Fprintf(os.Stderr, "\r%s", levelMeter(result.Level))
			}
		}
		fmt.Fprintln(os.Stderr)

		slog.Info("Stopping recording...")
		if _, err := dispatcher.Execute(ctx, "stopRecordingAudio", []string{sessionID}); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		if _, err := dispatcher.Execute(ctx, "release", nil); err != nil {
			return fmt.Errorf("failed to release recorder: %w", err)
		}

		slog.Info("Recording saved", "output", info.OutputPath)
		return nil
	},
}

// levelMeter renders a 16-bit peak amplitude as a fixed-width bar
func levelMeter(level float64) string {
	filled := int(level / 32768 * meterWidth)
	if filled > meterWidth {
		filled = meterWidth
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %5.0f", strings.Repeat("#", filled), strings.Repeat(" ", meterWidth-filled), level)
}

func init() {
	recordCmd.Flags().String("session-id", "", "session id for status events (default: random UUID)")
	recordCmd.Flags().Duration("meter-interval", 200*time.Millisecond, "level meter refresh interval")
}
