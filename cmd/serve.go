package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/recbridge/internal/audio"
	"github.com/audiolibrelab/recbridge/internal/bridge"
	"github.com/audiolibrelab/recbridge/internal/recorder"
	"github.com/audiolibrelab/recbridge/internal/server"
	"github.com/audiolibrelab/recbridge/internal/status"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server for the scripting shell",
	Long: `Start the recorder bridge. Commands are accepted on POST /api/exec and
status events are pushed on /ws/status/{sessionId}.

On SIGINT or SIGTERM the server stops accepting requests, releases any
active recording and closes status connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		device, err := audio.NewDevice(cfg)
		if err != nil {
			return fmt.Errorf("failed to create capture device: %w", err)
		}

		reporter := status.NewReporter(cfg.Notify.QueueSize)
		dispatcher := bridge.New(device, reporter, cfg.Output.Directory)
		dispatcher.SetInterruptionHook(interruptionLogger(dispatcher))
		srv := server.New(dispatcher, reporter, port)

		slog.Info("Recorder bridge starting", "port", port, "config", cfgFile, "device", device.Name(), "output_dir", cfg.Output.Directory)

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case err := <-errChan:
			// Listener failed before any signal; still release the device
			srv.Shutdown(context.Background())
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down", "signal", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		return <-errChan
	},
}

// interruptionLogger warns when telephony activity overlaps a recording.
// Capture continues; the shell decides whether to stop.
func interruptionLogger(dispatcher *bridge.Dispatcher) func(bridge.PhoneState) {
	return func(state bridge.PhoneState) {
		info, ok := dispatcher.Session()
		if !ok || info.State != recorder.StateRecording.String() {
			return
		}
		if state == bridge.PhoneIdle {
			slog.Info("Telephone idle, recording continues", "session", info.ID)
			return
		}
		slog.Warn("Telephone activity during recording", "session", info.ID, "phone_state", state, "output", info.OutputPath)
	}
}

func init() {
	serveCmd.Flags().String("port", "", "port for the bridge server (default from config, 8080)")
}
