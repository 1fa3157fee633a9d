package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const readBufferSize = 4096

// SourceDevice is a Device that records a Source into WAV files. Only one
// handle may be open at a time.
type SourceDevice struct {
	name   string
	source Source
	format goaudio.Format

	mutex sync.Mutex
	busy  bool
}

// NewSourceDevice creates a device capturing source with the given format
func NewSourceDevice(name string, source Source, format goaudio.Format) *SourceDevice {
	return &SourceDevice{
		name:   name,
		source: source,
		format: format,
	}
}

// Name returns the device name
func (d *SourceDevice) Name() string {
	return d.name
}

// Open creates the output file and reserves the device
func (d *SourceDevice) Open(outputPath string) (Handle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.busy {
		return nil, fmt.Errorf("%s: %w", d.name, ErrDeviceBusy)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	d.busy = true
	slog.Debug("Capture device opened", "device", d.name, "output", outputPath)

	format := d.format
	return &captureHandle{
		device: d,
		path:   outputPath,
		format: &format,
		file:   file,
	}, nil
}

func (d *SourceDevice) release() {
	d.mutex.Lock()
	d.busy = false
	d.mutex.Unlock()
	slog.Debug("Capture device released", "device", d.name)
}

// captureHandle pumps PCM from a stream into a WAV encoder
type captureHandle struct {
	device *SourceDevice
	path   string
	format *goaudio.Format

	mutex   sync.Mutex
	file    *os.File
	encoder *wav.Encoder
	stream  Stream
	done    chan error
	running bool
	closed  bool

	peak atomic.Int64
}

func (h *captureHandle) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	if h.running {
		return ErrAlreadyRunning
	}

	// A previous Stop finalized the file, so a restart rewrites it
	if h.file == nil {
		file, err := os.Create(h.path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		h.file = file
	}

	stream, err := h.device.source.Open(*h.format)
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}

	encoder := wav.NewEncoder(h.file, h.format.SampleRate, BitDepth, h.format.NumChannels, 1)
	// Write the header up front so an empty capture still yields a valid file
	if err := encoder.Write(&goaudio.IntBuffer{Format: h.format, SourceBitDepth: BitDepth}); err != nil {
		stream.Close()
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	h.encoder = encoder
	h.stream = stream
	h.done = make(chan error, 1)
	h.running = true
	h.peak.Store(0)

	go h.pump(stream, encoder, h.done)

	slog.Debug("Capture started", "device", h.device.name, "output", h.path)
	return nil
}

func (h *captureHandle) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	return h.stopLocked()
}

func (h *captureHandle) stopLocked() error {
	if !h.running {
		return ErrNotRunning
	}
	h.running = false

	streamErr := h.stream.Close()
	pumpErr := <-h.done
	encoderErr := h.encoder.Close()
	fileErr := h.file.Close()

	h.stream = nil
	h.encoder = nil
	h.file = nil

	if err := errors.Join(streamErr, pumpErr, encoderErr, fileErr); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", h.path, err)
	}

	slog.Debug("Capture stopped", "device", h.device.name, "output", h.path)
	return nil
}

func (h *captureHandle) MaxAmplitude() float64 {
	return float64(h.peak.Swap(0))
}

func (h *captureHandle) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var err error
	if h.running {
		err = h.stopLocked()
	} else if h.file != nil {
		err = h.file.Close()
		h.file = nil
	}

	h.device.release()
	return err
}

// pump copies the stream into the encoder until EOF. After a write error it
// keeps draining so the producer is never blocked.
func (h *captureHandle) pump(stream io.Reader, encoder *wav.Encoder, done chan<- error) {
	frameSize := 2 * h.format.NumChannels
	buf := make([]byte, readBufferSize-readBufferSize%frameSize)
	pending := 0
	var writeErr error

	for {
		n, err := stream.Read(buf[pending:])
		n += pending

		usable := n - n%frameSize
		if usable > 0 && writeErr == nil {
			samples := decodePCM16(buf[:usable])
			h.observe(samples)
			writeErr = encoder.Write(&goaudio.IntBuffer{
				Format:         h.format,
				Data:           samples,
				SourceBitDepth: BitDepth,
			})
			if writeErr != nil {
				slog.Error("Failed to write captured audio", "output", h.path, "error", writeErr)
			}
		}
		pending = copy(buf, buf[usable:n])

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				err = nil
			}
			done <- errors.Join(writeErr, err)
			return
		}
	}
}

// observe raises the running peak to the loudest sample in samples
func (h *captureHandle) observe(samples []int) {
	var loudest int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		if v > loudest {
			loudest = v
		}
	}

	for {
		current := h.peak.Load()
		if loudest <= current || h.peak.CompareAndSwap(current, loudest) {
			return
		}
	}
}

func decodePCM16(data []byte) []int {
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}
	return samples
}
