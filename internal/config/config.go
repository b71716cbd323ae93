package config

import (
	"errors"
	"fmt"
	"net"

	applog "micscope/internal/log"
	"micscope/internal/spectrum"
)

// Limits and defaults shared by the config file, the CLI flags and
// validation.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"

	DefaultBackend         = BackendPortAudio
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultChannels        = 1           // Mono microphone
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultSampleRate      = spectrum.DefaultSampleRate
	DefaultFFTSize         = spectrum.DefaultFFTSize
	DefaultBinCount        = spectrum.DefaultBinCount
	DefaultBitDepth        = 16
	DefaultFormat          = "wav" // Only WAV recordings are supported
	DefaultOutputDir       = "./recordings"

	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultWebSocketAddress = ":8080"

	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer
	MaxChannels     = 32
)

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error, fatal", c.LogLevel))
	}

	a := c.Audio
	switch a.Backend {
	case BackendPortAudio, BackendMalgo:
	default:
		errs = append(errs, fmt.Errorf("audio.backend %q must be %q or %q", a.Backend, BackendPortAudio, BackendMalgo))
	}
	if a.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device %d must be >= %d", a.InputDevice, MinDeviceID))
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames))
	}
	if a.InputChannels <= 0 || a.InputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels))
	}
	if a.GateThreshold < 0 || a.GateThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.gate_threshold %v outside [0, 1]", a.GateThreshold))
	}

	if err := c.Spectrum().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analyzer: %w", err))
	}

	r := c.Recording
	switch r.BitDepth {
	case 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("recording.bit_depth %d must be 16, 24 or 32", r.BitDepth))
	}
	if r.Format != DefaultFormat {
		errs = append(errs, fmt.Errorf("recording.format %q is not supported (only %q)", r.Format, DefaultFormat))
	}
	if r.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("recording.max_duration_seconds %d must not be negative", r.MaxDuration))
	}

	t := c.Transport
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address %q: %w", t.UDPTargetAddress, err))
		}
	}
	if t.WebSocketEnabled {
		if _, _, err := net.SplitHostPort(t.WebSocketAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.websocket_address %q: %w", t.WebSocketAddress, err))
		}
	}
	if t.PublishInterval <= 0 {
		errs = append(errs, fmt.Errorf("transport.publish_interval %s must be positive", t.PublishInterval))
	}

	if c.UI.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("ui.refresh_interval %s must be positive", c.UI.RefreshInterval))
	}
	if c.UI.BarHeight <= 0 {
		errs = append(errs, fmt.Errorf("ui.bar_height %d must be positive", c.UI.BarHeight))
	}

	return errors.Join(errs...)
}

// Spectrum returns the analyzer configuration. The analyzer runs at the
// capture sample rate.
func (c *Config) Spectrum() spectrum.Config {
	return spectrum.Config{
		FFTSize:    c.Analyzer.FFTSize,
		BinCount:   c.Analyzer.BinCount,
		SampleRate: c.Audio.SampleRate,
	}
}

// Level returns the effective log level. Debug mode forces LevelDebug.
func (c *Config) Level() applog.LogLevel {
	if c.Debug {
		return applog.LevelDebug
	}
	level, _ := applog.ParseLevel(c.LogLevel)
	return level
}
