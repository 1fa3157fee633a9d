package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/recbridge/internal/config"

	goaudio "github.com/go-audio/audio"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeNull     BackendType = "null"
	BackendTypeAuto     BackendType = "auto"
)

// NewDevice creates the capture device selected by the configuration
func NewDevice(cfg *config.Config) (Device, error) {
	format := goaudio.Format{
		NumChannels: cfg.Audio.Channels,
		SampleRate:  cfg.Audio.SampleRate,
	}

	backendType, err := determineBackend(cfg)
	if err != nil {
		return nil, err
	}

	slog.Debug("Selected audio backend", "backend", backendType, "source", cfg.Audio.Source)

	switch backendType {
	case BackendTypeNull:
		return NewSourceDevice("null", SilenceSource{}, format), nil
	default:
		source := &PipeWireSource{
			Target:      cfg.Audio.Source,
			StopTimeout: cfg.Audio.StopTimeout(),
		}
		name := "pipewire"
		if cfg.Audio.Source != "" {
			name = "pipewire:" + cfg.Audio.Source
		}
		return NewSourceDevice(name, source, format), nil
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) (BackendType, error) {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "", "auto":
		if _, err := exec.LookPath("pw-record"); err != nil {
			slog.Warn("pw-record not found, recording silence", "backend", BackendTypeNull)
			return BackendTypeNull, nil
		}
		return BackendTypePipeWire, nil
	case "pipewire":
		return BackendTypePipeWire, nil
	case "null":
		return BackendTypeNull, nil
	default:
		return "", fmt.Errorf("unknown audio backend: %s", cfg.Audio.Backend)
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{}

	if _, err := exec.LookPath("pw-record"); err == nil {
		backends = append(backends, BackendTypePipeWire)
	}
	backends = append(backends, BackendTypeNull)

	return backends
}
