package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Notify       NotifyConfig       `mapstructure:"notify" yaml:"notify"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type GlobalsConfig struct {
	Output OutputConfig `mapstructure:"output" yaml:"output"`
}

type Config struct {
	Audio  AudioConfig  `mapstructure:"audio" yaml:"audio"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio struct {
		Backend    string // "inherited" or "profile-specific"
		Source     string
		SampleRate string
		Channels   string
	}
	Output struct {
		Directory string
	}
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "pipewire", "null", "auto"
	Source        string `mapstructure:"source" yaml:"source"`   // capture target, empty for the default source
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	StopTimeoutMs int    `mapstructure:"stop_timeout_ms" yaml:"stop_timeout_ms"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:       "auto",
		SampleRate:    44100,
		Channels:      1,
		StopTimeoutMs: 5000,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "Recordings"),
	},
	Server: ServerConfig{
		Port: "8080",
	},
	Notify: NotifyConfig{
		QueueSize: 16,
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// StopTimeout returns how long a capture process may take to exit before it is killed
func (a AudioConfig) StopTimeout() time.Duration {
	if a.StopTimeoutMs <= 0 {
		return time.Duration(defaultConfig.Audio.StopTimeoutMs) * time.Millisecond
	}
	return time.Duration(a.StopTimeoutMs) * time.Millisecond
}

// Load reads configFile and resolves the requested profile. A missing file
// yields the built-in defaults.
func Load(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if profile != "" && profile != "default" {
			return nil, fmt.Errorf("configuration profile '%s' not found: %s does not exist", profile, configFile)
		}
		cfg := Default()
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return resolveProfile(rootConfig, profile)
}

func resolveProfile(rootConfig *RootConfig, profile string) (*Config, error) {
	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Root-level server and notify settings apply unless a profile overrides them
	base := Default()
	if rootConfig.Server.Port != "" {
		base.Server.Port = rootConfig.Server.Port
	}
	if rootConfig.Notify.QueueSize != 0 {
		base.Notify.QueueSize = rootConfig.Notify.QueueSize
	}

	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok && defaultProfile != nil {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	selectedConfig := mergeConfigs(base, selectedProfile)

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.Directory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.Directory
		selectedConfig.Inheritance.Output.Directory = "global"
	}

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)

	if err := validateConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if !v.IsSet("configs." + newActiveConfig) {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// WriteDefault writes a starter configuration file. Existing files are left untouched.
func WriteDefault(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists: %s", configFile)
	}

	defaults := Default()
	root := RootConfig{
		ActiveConfig: "default",
		Server:       defaults.Server,
		Notify:       defaults.Notify,
		Configs: map[string]*Config{
			"default": {
				Audio:  defaults.Audio,
				Output: OutputConfig{Directory: "~/Audio/Recordings"},
			},
		},
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(configFile, out, 0644)
}

// mergeConfigs overlays the non-zero settings of profile on base and records
// where each value came from.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = &InheritanceInfo{}

	if base != nil {
		result.Audio = base.Audio
		result.Output = base.Output
		result.Server = base.Server
		result.Notify = base.Notify

		result.Inheritance.Audio.Backend = "inherited"
		result.Inheritance.Audio.Source = "inherited"
		result.Inheritance.Audio.SampleRate = "inherited"
		result.Inheritance.Audio.Channels = "inherited"
		result.Inheritance.Output.Directory = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = "profile-specific"
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
		result.Inheritance.Audio.Source = "profile-specific"
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		result.Inheritance.Audio.Channels = "profile-specific"
	}
	if profile.Audio.StopTimeoutMs != 0 {
		result.Audio.StopTimeoutMs = profile.Audio.StopTimeoutMs
	}
	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = "profile-specific"
	}
	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
	}
	if profile.Notify.QueueSize != 0 {
		result.Notify.QueueSize = profile.Notify.QueueSize
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidAudioSource checks if a source name is valid for PipeWire
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)

	// Empty means the session manager's default source
	if source == "" {
		return true
	}

	// Node names may contain colons, so the port is whatever follows the last one
	if strings.Contains(source, ":") {
		lastColonIndex := strings.LastIndex(source, ":")
		deviceName := strings.TrimSpace(source[:lastColonIndex])
		port := strings.TrimSpace(source[lastColonIndex+1:])

		return len(deviceName) > 0 && len(port) > 0
	}

	return true
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "auto", "pipewire", "null":
	default:
		return fmt.Errorf("audio.backend must be 'auto', 'pipewire' or 'null', got: %s", cfg.Audio.Backend)
	}

	if !isValidAudioSource(cfg.Audio.Source) {
		return fmt.Errorf("audio.source must be a valid PipeWire target, got: %s", cfg.Audio.Source)
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", cfg.Audio.Channels)
	}

	if cfg.Audio.StopTimeoutMs < 0 {
		return fmt.Errorf("audio.stop_timeout_ms must be >= 0, got: %d", cfg.Audio.StopTimeoutMs)
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got: %s", cfg.Server.Port)
	}

	if cfg.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be > 0, got: %d", cfg.Notify.QueueSize)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("RECBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile in configs", rootConfig.ActiveConfig)
		}
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("invalid config '%s': profile is empty", name)
		}
		if profile.Audio.Channels != 0 && profile.Audio.Channels != 1 && profile.Audio.Channels != 2 {
			return nil, fmt.Errorf("invalid config '%s': audio.channels must be 1 or 2, got %d", name, profile.Audio.Channels)
		}
	}

	return &rootConfig, nil
}
