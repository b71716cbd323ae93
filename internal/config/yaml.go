// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	applog "micscope/internal/log"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (forces debug logging).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Capture settings.
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`  // Spectrum analyzer settings.
	Recording RecordingConfig `yaml:"recording"` // Audio recording settings.
	Transport TransportConfig `yaml:"transport"` // Frame publication settings.
	UI        UIConfig        `yaml:"ui"`        // Terminal renderer settings.
}

// AudioConfig holds settings related to audio input and pre-processing.
type AudioConfig struct {
	Backend         string  `yaml:"backend"`           // Capture backend: "portaudio" or "malgo".
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from the device.
	InputChannels   int     `yaml:"input_channels"`    // Channels to capture; downmixed to mono.
	GateThreshold   float64 `yaml:"gate_threshold"`    // Noise gate threshold in [0, 1], 0 disables the gate.
}

// AnalyzerConfig holds the spectrum analyzer shape. The sample rate comes
// from the audio section.
type AnalyzerConfig struct {
	FFTSize  int `yaml:"fft_size"`  // FFT window length, power of two.
	BinCount int `yaml:"bin_count"` // Number of display bins.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Record the captured mono stream.
	OutputDir   string `yaml:"output_dir"`           // Directory to save recorded audio files.
	Format      string `yaml:"format"`               // File format for recordings ("wav").
	BitDepth    int    `yaml:"bit_depth"`            // Bit depth for recorded audio (16, 24 or 32).
	MaxDuration int    `yaml:"max_duration_seconds"` // Maximum length of a recording in seconds (0 for unlimited).
}

// TransportConfig holds settings related to sending spectrum frames out of process.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send binary frames over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port (e.g., "127.0.0.1:9090").
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve JSON frames to WebSocket clients.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address for the WebSocket server.
	PublishInterval  time.Duration `yaml:"publish_interval"`   // How often the publisher polls for a new frame.
	LogFrames        bool          `yaml:"log_frames"`         // Log every published frame at debug level.
}

// UIConfig holds settings for the terminal spectrum view.
type UIConfig struct {
	Enabled         bool          `yaml:"enabled"`          // Run the terminal UI in live mode.
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Redraw interval.
	BarHeight       int           `yaml:"bar_height"`       // Rows used by the tallest bar.
}

// Default returns the built-in configuration used when no file is found.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:         DefaultBackend,
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      false,
			InputChannels:   DefaultChannels,
			GateThreshold:   0, // Gate off.
		},
		Analyzer: AnalyzerConfig{
			FFTSize:  DefaultFFTSize,
			BinCount: DefaultBinCount,
		},
		Recording: RecordingConfig{
			Enabled:     false,
			OutputDir:   DefaultOutputDir,
			Format:      DefaultFormat,
			BitDepth:    DefaultBitDepth,
			MaxDuration: 0, // 0 for unlimited.
		},
		Transport: TransportConfig{
			UDPEnabled:       false,
			UDPTargetAddress: DefaultUDPTargetAddress,
			WebSocketEnabled: false,
			WebSocketAddress: DefaultWebSocketAddress,
			PublishInterval:  33 * time.Millisecond, // ~30Hz.
			LogFrames:        false,
		},
		UI: UIConfig{
			Enabled:         true,
			RefreshInterval: 50 * time.Millisecond,
			BarHeight:       12,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"micscope.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Values that fail to parse are logged and ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.
	envBool("ENV_DEBUG", "debug", &cfg.Debug)
	envString("ENV_LOG_LEVEL", "log_level", &cfg.LogLevel)

	// ENV_AUDIO_{...}, ENV_FFT_SIZE, ENV_BIN_COUNT
	// These shape the capture and the analyzer.
	envString("ENV_AUDIO_BACKEND", "audio.backend", &cfg.Audio.Backend)
	envInt("ENV_AUDIO_DEVICE", "audio.input_device", &cfg.Audio.InputDevice)
	envFloat("ENV_SAMPLE_RATE", "audio.sample_rate", &cfg.Audio.SampleRate)
	envInt("ENV_FFT_SIZE", "analyzer.fft_size", &cfg.Analyzer.FFTSize)
	envInt("ENV_BIN_COUNT", "analyzer.bin_count", &cfg.Analyzer.BinCount)

	// ENV_UDP_{...}, ENV_WS_{...}
	// These are specific to the transport layer.
	envBool("ENV_UDP_ENABLED", "transport.udp_enabled", &cfg.Transport.UDPEnabled)
	envString("ENV_UDP_TARGET_ADDRESS", "transport.udp_target_address", &cfg.Transport.UDPTargetAddress)
	envDuration("ENV_PUBLISH_INTERVAL", "transport.publish_interval", &cfg.Transport.PublishInterval)
	envBool("ENV_WS_ENABLED", "transport.websocket_enabled", &cfg.Transport.WebSocketEnabled)
	envString("ENV_WS_ADDRESS", "transport.websocket_address", &cfg.Transport.WebSocketAddress)
}

func envString(key, field string, dst *string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
		applog.Infof("Config: Overriding %s from env: %s", field, val)
	}
}

func envBool(key, field string, dst *bool) {
	if val, ok := os.LookupEnv(key); ok {
		bVal, err := strconv.ParseBool(val)
		if err != nil {
			applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = bVal
		applog.Infof("Config: Overriding %s from env: %v", field, bVal)
	}
}

func envInt(key, field string, dst *int) {
	if val, ok := os.LookupEnv(key); ok {
		iVal, err := strconv.Atoi(val)
		if err != nil {
			applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = iVal
		applog.Infof("Config: Overriding %s from env: %d", field, iVal)
	}
}

func envFloat(key, field string, dst *float64) {
	if val, ok := os.LookupEnv(key); ok {
		fVal, err := strconv.ParseFloat(val, 64)
		if err != nil {
			applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = fVal
		applog.Infof("Config: Overriding %s from env: %v", field, fVal)
	}
}

func envDuration(key, field string, dst *time.Duration) {
	if val, ok := os.LookupEnv(key); ok {
		dur, err := time.ParseDuration(val)
		if err != nil {
			applog.Warnf("Config: Ignoring %s=%q: %v", key, val, err)
			return
		}
		*dst = dur
		applog.Infof("Config: Overriding %s from env: %s", field, dur)
	}
}
