// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"runtime"
	"time"

	"micscope/internal/config"
	applog "micscope/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Engine captures from a PortAudio input stream.
type Engine struct {
	*pipeline

	// Audio input handling.
	sampleRate      float64
	framesPerBuffer int
	inputDevice     *portaudio.DeviceInfo
	inputLatency    time.Duration
	inputStream     *portaudio.Stream
}

// NewEngine resolves the configured input device. PortAudio must already
// be initialized. rec may be nil.
func NewEngine(cfg *config.Config, proc BlockProcessor, rec *Recorder) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	if cfg.Audio.InputChannels > inputDevice.MaxInputChannels {
		return nil, fmt.Errorf("device %q has %d input channels, %d requested",
			inputDevice.Name, inputDevice.MaxInputChannels, cfg.Audio.InputChannels)
	}

	engine := &Engine{
		pipeline:        newPipeline(cfg.Audio.InputChannels, cfg.Audio.FramesPerBuffer, proc, rec),
		sampleRate:      cfg.Audio.SampleRate,
		framesPerBuffer: cfg.Audio.FramesPerBuffer,
		inputDevice:     inputDevice,
	}

	if cfg.Audio.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}

	if cfg.Audio.GateThreshold > 0 {
		engine.SetGateThreshold(cfg.Audio.GateThreshold)
		engine.EnableGate()
	}

	return engine, nil
}

// Start opens and starts the input stream. The first callback marks the
// start of the hot path.
func (e *Engine) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.channels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.framesPerBuffer,
		SampleRate:      e.sampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	applog.Infof("Engine: Capturing from %q (%d ch, %.0f Hz, %d frames, latency %s)",
		e.inputDevice.Name, e.channels, e.sampleRate, e.framesPerBuffer, e.inputLatency)

	return nil
}

// processInputStream is the PortAudio callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.process(in)
}

// Close stops and closes the input stream. Recording is owned by the
// caller and is not stopped here.
func (e *Engine) Close() error {
	if e.inputStream == nil {
		return nil
	}

	if err := e.inputStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	if err := e.inputStream.Close(); err != nil {
		return fmt.Errorf("failed to close input stream: %w", err)
	}
	e.inputStream = nil

	applog.Infof("Engine: Stopped after %d callbacks", e.callbacks.Load())
	return nil
}
