// Package recorder implements the lifecycle of a single audio capture session.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/recbridge/internal/audio"
)

// State is the lifecycle position of a Session
type State int

const (
	StateIdle State = iota
	StateCreated
	StatePrepared
	StateRecording
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCreated:
		return "CREATED"
	case StatePrepared:
		return "PREPARED"
	case StateRecording:
		return "RECORDING"
	case StateReleased:
		return "RELEASED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Info is a snapshot of a session for status reporting
type Info struct {
	ID         string `json:"id"`
	OutputPath string `json:"output_path"`
	State      string `json:"state"`
}

// Session owns one capture handle and enforces the legal transitions
//
//	Created --Prepare--> Prepared --Start--> Recording
//	                        ^                    |
//	                        +--------Stop--------+
//	(any) --Release--> Released
//
// The handle is held exactly while the state is Prepared or Recording.
type Session struct {
	id         string
	outputPath string
	device     audio.Device

	mutex  sync.Mutex
	state  State
	handle audio.Handle
}

// New creates a session bound to outputPath. No device resource is
// acquired until Prepare.
func New(id, outputPath string, device audio.Device) (*Session, error) {
	if outputPath == "" {
		return nil, fmt.Errorf("output path is required: %w", ErrInvalidArgument)
	}
	if device == nil {
		return nil, fmt.Errorf("capture device is required: %w", ErrInvalidArgument)
	}

	slog.Debug("Recorder session created", "session", id, "output", outputPath)

	return &Session{
		id:         id,
		outputPath: outputPath,
		device:     device,
		state:      StateCreated,
	}, nil
}

// ID returns the correlation id given at creation
func (s *Session) ID() string {
	return s.id
}

// OutputPath returns the destination file
func (s *Session) OutputPath() string {
	return s.outputPath
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// holdsHandle reports whether the session currently owns a device handle
func (s *Session) holdsHandle() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.handle != nil
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return Info{ID: s.id, OutputPath: s.outputPath, State: s.state.String()}
}

// Prepare acquires the capture device for the output path (Created -> Prepared)
func (s *Session) Prepare(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.expect("prepare", StateCreated); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	handle, err := s.device.Open(s.outputPath)
	if err != nil {
		return fmt.Errorf("failed to open %s for %s: %w: %w", s.device.Name(), s.outputPath, err, ErrResourceUnavailable)
	}

	s.handle = handle
	s.state = StatePrepared
	slog.Info("Recorder prepared", "session", s.id, "device", s.device.Name(), "output", s.outputPath)
	return nil
}

// Start begins capture (Prepared -> Recording)
func (s *Session) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.expect("start", StatePrepared); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.handle.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w: %w", err, ErrResourceUnavailable)
	}

	s.state = StateRecording
	slog.Info("Recording started", "session", s.id, "output", s.outputPath)
	return nil
}

// Stop ends capture and finalizes the output file (Recording -> Prepared).
// The session can be started again without preparing.
func (s *Session) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.expect("stop", StateRecording); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The capture has ended either way, so the session falls back to Prepared
	s.state = StatePrepared
	if err := s.handle.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture: %w: %w", err, ErrResourceUnavailable)
	}

	slog.Info("Recording stopped", "session", s.id, "output", s.outputPath)
	return nil
}

// SampleAmplitude returns the peak amplitude since the previous sample.
// Outside Recording it returns 0.
func (s *Session) SampleAmplitude() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state != StateRecording {
		return 0
	}
	return s.handle.MaxAmplitude()
}

// Release frees the device handle if held and moves to Released. It is
// safe to call from any state, any number of times.
func (s *Session) Release() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == StateReleased {
		return
	}

	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			slog.Warn("Error while releasing capture handle", "session", s.id, "error", err)
		}
		s.handle = nil
	}

	previous := s.state
	s.state = StateReleased
	slog.Info("Recorder released", "session", s.id, "previous_state", previous)
}

func (s *Session) expect(operation string, want State) error {
	if s.state != want {
		return fmt.Errorf("cannot %s in state %s, requires %s: %w", operation, s.state, want, ErrInvalidState)
	}
	return nil
}
