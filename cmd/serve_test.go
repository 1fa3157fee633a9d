package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/recbridge/internal/audio"
	"github.com/audiolibrelab/recbridge/internal/bridge"
	"github.com/audiolibrelab/recbridge/internal/status"
	goaudio "github.com/go-audio/audio"
)

func TestInterruptionLogger(t *testing.T) {
	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	device := audio.NewSourceDevice("null", audio.SilenceSource{}, goaudio.Format{NumChannels: 1, SampleRate: 8000})
	reporter := status.NewReporter(4)
	defer reporter.Close()
	dispatcher := bridge.New(device, reporter, t.TempDir())
	defer dispatcher.Close()
	dispatcher.SetInterruptionHook(interruptionLogger(dispatcher))

	// No warning without an active recording
	dispatcher.OnMessage("telephone", "ringing")
	if strings.Contains(logs.String(), "Telephone activity during recording") {
		t.Fatalf("Unexpected warning without a recording: %s", logs.String())
	}

	ctx := context.Background()
	for _, step := range [][]string{
		{"create", "s1", filepath.Join(t.TempDir(), "a.wav")},
		{"prepareRecordingAudio", "s1"},
		{"startRecordingAudio", "s1"},
	} {
		if _, err := dispatcher.Execute(ctx, step[0], step[1:]); err != nil {
			t.Fatalf("%s failed: %v", step[0], err)
		}
	}

	// The hook reads the dispatcher, so OnMessage must not hold its lock
	done := make(chan struct{})
	go func() {
		dispatcher.OnMessage("telephone", "offhook")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage blocked while running the interruption hook")
	}

	if !strings.Contains(logs.String(), "Telephone activity during recording") {
		t.Errorf("Expected warning during recording, got: %s", logs.String())
	}
	if dispatcher.PhoneState() != bridge.PhoneOffHook {
		t.Errorf("Expected phone state offhook, got %s", dispatcher.PhoneState())
	}
}
