package audio

import (
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
)

var (
	// ErrDeviceBusy is returned by Open while another handle owns the device.
	ErrDeviceBusy = errors.New("capture device is busy")
	// ErrNotRunning is returned by Stop when no capture is in progress.
	ErrNotRunning = errors.New("capture is not running")
	// ErrAlreadyRunning is returned by Start while a capture is in progress.
	ErrAlreadyRunning = errors.New("capture is already running")
	// ErrHandleClosed is returned by operations on a closed handle.
	ErrHandleClosed = errors.New("capture handle is closed")
)

// BitDepth is the sample size produced by every source and written to disk.
const BitDepth = 16

// Device hands out exclusive capture handles bound to an output file
type Device interface {
	// Open creates outputPath and reserves the device for the returned handle
	Open(outputPath string) (Handle, error)

	// Name identifies the device in logs
	Name() string
}

// Handle is an open capture session on a device. It is not safe for
// concurrent Start/Stop calls, but Close and MaxAmplitude may be called
// from any goroutine.
type Handle interface {
	Start() error
	// Stop ends capture and finalizes the output file. The handle stays
	// open and may be started again, which rewrites the file.
	Stop() error
	// MaxAmplitude returns the peak absolute sample value seen since the
	// previous call.
	MaxAmplitude() float64
	// Close stops any running capture and frees the device. It is idempotent.
	Close() error
}

// Source produces raw little-endian signed 16-bit PCM
type Source interface {
	Open(format goaudio.Format) (Stream, error)
}

// Stream is one running capture from a Source. Close ends the capture;
// Read returns io.EOF once the remaining buffered data has been consumed.
type Stream interface {
	io.Reader
	Close() error
}
