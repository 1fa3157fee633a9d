// Package bridge dispatches named recorder commands from the scripting shell
// to the single active recorder session and reports status transitions.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/audiolibrelab/recbridge/internal/audio"
	"github.com/audiolibrelab/recbridge/internal/recorder"
	"github.com/audiolibrelab/recbridge/internal/status"
)

// Notifier receives status codes for a session id
type Notifier interface {
	Notify(sessionID string, code status.Code)
}

// PhoneState is the telephony state carried by a "telephone" message
type PhoneState string

const (
	PhoneRinging PhoneState = "ringing"
	PhoneOffHook PhoneState = "offhook"
	PhoneIdle    PhoneState = "idle"
)

// Result is the synchronous reply to a command
type Result struct {
	// Handled is false when no dispatcher action matches the command name
	Handled bool
	// Level is the sampled amplitude, set for getRecordingLevel only
	Level    float64
	HasLevel bool
}

// Dispatcher owns the single active recorder session
type Dispatcher struct {
	device    audio.Device
	notifier  Notifier
	outputDir string

	mutex   sync.Mutex
	session *recorder.Session

	// Called on telephony changes; recording policy is left to the hook
	interruptionHook func(PhoneState)
	phoneState       PhoneState

	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a dispatcher recording from device. Relative output paths are
// resolved under outputDir.
func New(device audio.Device, notifier Notifier, outputDir string) *Dispatcher {
	return &Dispatcher{
		device:     device,
		notifier:   notifier,
		outputDir:  outputDir,
		phoneState: PhoneIdle,
	}
}

// SetInterruptionHook registers a function called on telephony state changes
func (d *Dispatcher) SetInterruptionHook(hook func(PhoneState)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.interruptionHook = hook
}

// Execute parses and dispatches a wire command. Unknown names return a
// Result with Handled false and no error so the caller can route elsewhere.
func (d *Dispatcher) Execute(ctx context.Context, name string, args []string) (Result, error) {
	cmd, err := ParseCommand(name, args)
	if errors.Is(err, recorder.ErrNotHandled) {
		slog.Debug("Unhandled action", "action", name)
		return Result{Handled: false}, nil
	}
	if err != nil {
		d.setLastError(err.Error())
		return Result{Handled: true}, err
	}

	return d.Dispatch(ctx, cmd)
}

// Dispatch runs one command against the active session. An action outside
// the known set yields Result{Handled: false} and a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	slog.Debug("Dispatching command", "action", cmd.Action, "session", cmd.SessionID)

	result := Result{Handled: true}
	var err error

	switch cmd.Action {
	case ActionCreate:
		err = d.create(cmd)
	case ActionPrepare:
		err = d.transition(ctx, cmd, (*recorder.Session).Prepare, status.CodeStarting)
	case ActionStart:
		err = d.transition(ctx, cmd, (*recorder.Session).Start, status.CodeRunning)
	case ActionStop:
		err = d.transition(ctx, cmd, (*recorder.Session).Stop, status.CodeStopped)
	case ActionLevel:
		result.HasLevel = true
		if d.session != nil {
			result.Level = d.session.SampleAmplitude()
		}
	case ActionRelease:
		if d.session != nil {
			d.session.Release()
		}
	default:
		slog.Debug("Unhandled action", "action", cmd.Action)
		return Result{Handled: false}, nil
	}

	if err != nil {
		slog.Error("Command failed", "action", cmd.Action, "session", cmd.SessionID, "error", err)
		d.setLastError(fmt.Sprintf("%s failed: %v", cmd.Action, err))
		return result, err
	}

	d.clearLastError()
	return result, nil
}

func (d *Dispatcher) create(cmd Command) error {
	path := normalizeOutputPath(cmd.OutputPath, d.outputDir)

	session, err := recorder.New(cmd.SessionID, path, d.device)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		// Prepare reports the unwritable path
		slog.Debug("Failed to create output directory", "path", path, "error", err)
	}

	if d.session != nil && d.session.State() != recorder.StateReleased {
		slog.Warn("Releasing previous recorder session before create", "previous", d.session.ID(), "session", cmd.SessionID)
		d.session.Release()
	}
	d.session = session

	return nil
}

func (d *Dispatcher) transition(ctx context.Context, cmd Command, op func(*recorder.Session, context.Context) error, code status.Code) error {
	if d.session == nil {
		return fmt.Errorf("%s: no recorder session, send create first: %w", cmd.Action, recorder.ErrInvalidState)
	}

	if err := op(d.session, ctx); err != nil {
		return err
	}

	d.notifier.Notify(cmd.SessionID, code)
	return nil
}

// Session returns a snapshot of the active session, if any
func (d *Dispatcher) Session() (recorder.Info, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.session == nil {
		return recorder.Info{State: recorder.StateIdle.String()}, false
	}
	return d.session.Info(), true
}

// Reset releases the active session, as on a navigation reset
func (d *Dispatcher) Reset() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.session != nil {
		slog.Info("Releasing recorder session on reset", "session", d.session.ID())
		d.session.Release()
		d.session = nil
	}
}

// Close releases the active session on shutdown
func (d *Dispatcher) Close() {
	d.Reset()
	slog.Debug("Dispatcher closed")
}

// OnMessage receives out-of-band messages from the host. Only "telephone"
// is recognized; it updates the phone state and calls the interruption
// hook. It never changes the recorder state itself.
func (d *Dispatcher) OnMessage(id string, data any) {
	if id != "telephone" {
		return
	}

	value, _ := data.(string)
	state := PhoneState(value)
	switch state {
	case PhoneRinging, PhoneOffHook, PhoneIdle:
	default:
		slog.Debug("Ignoring unknown telephone state", "state", data)
		return
	}

	d.mutex.Lock()
	d.phoneState = state
	hook := d.interruptionHook
	d.mutex.Unlock()

	slog.Info("Telephone state changed", "state", state)
	if hook != nil {
		hook(state)
	}
}

// PhoneState returns the last telephony state received
func (d *Dispatcher) PhoneState() PhoneState {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.phoneState
}

// LastError returns the message of the last failed command
func (d *Dispatcher) LastError() string {
	d.lastErrorMutex.RLock()
	defer d.lastErrorMutex.RUnlock()
	return d.lastError
}

func (d *Dispatcher) setLastError(msg string) {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = msg
}

func (d *Dispatcher) clearLastError() {
	d.lastErrorMutex.Lock()
	defer d.lastErrorMutex.Unlock()
	d.lastError = ""
}
