package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
)

// PipeWireSource captures raw PCM with pw-record
type PipeWireSource struct {
	// Target is the node to record from; empty records the default source
	Target string
	// StopTimeout bounds how long pw-record may take to exit after SIGINT
	StopTimeout time.Duration
}

// Open starts pw-record writing s16 PCM to its stdout
func (s *PipeWireSource) Open(format goaudio.Format) (Stream, error) {
	args := []string{
		"--rate", strconv.Itoa(format.SampleRate),
		"--channels", strconv.Itoa(format.NumChannels),
		"--format", "s16",
	}
	if s.Target != "" {
		args = append(args, "--target", s.Target)
	}
	args = append(args, "-")

	reader, writer := io.Pipe()

	cmd := exec.Command("pw-record", args...)
	stream := &pipeWireStream{
		cmd:     cmd,
		reader:  reader,
		timeout: s.StopTimeout,
		exited:  make(chan struct{}),
	}
	cmd.Stdout = writer
	cmd.Stderr = &stream.stderr

	slog.Info("Starting pw-record", "target", s.Target, "rate", format.SampleRate, "channels", format.NumChannels)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}

	go func() {
		stream.waitErr = cmd.Wait()
		writer.Close()
		close(stream.exited)
	}()

	return stream, nil
}

type pipeWireStream struct {
	cmd     *exec.Cmd
	reader  *io.PipeReader
	stderr  bytes.Buffer
	timeout time.Duration

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func (s *pipeWireStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close interrupts pw-record and waits for it to exit, killing it once the
// timeout passes
func (s *pipeWireStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *pipeWireStream) stop() error {
	select {
	case <-s.exited:
		// pw-record already quit on its own
		return s.exitError(false)
	default:
	}

	slog.Debug("Sending SIGINT to pw-record process")
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("Failed to send interrupt to pw-record, killing", "error", err)
		s.cmd.Process.Kill()
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case <-s.exited:
		return s.exitError(true)
	case <-time.After(timeout):
		slog.Warn("pw-record did not exit within timeout, force killing", "timeout", timeout)
		s.cmd.Process.Kill()
		// The capture pump keeps reading, so the stdout copier drains and exits
		<-s.exited
		return nil
	}
}

func (s *pipeWireStream) exitError(interrupted bool) error {
	if s.waitErr == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if interrupted && errors.As(s.waitErr, &exitErr) {
		// A signal-terminated recorder has still flushed what it captured
		slog.Debug("pw-record exited after interrupt", "state", exitErr.String())
		return nil
	}

	slog.Debug("pw-record stderr", "output", s.stderr.String())
	return fmt.Errorf("pw-record failed: %w", s.waitErr)
}
