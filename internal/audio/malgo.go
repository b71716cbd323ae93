// SPDX-License-Identifier: MIT
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"micscope/internal/config"
	applog "micscope/internal/log"

	"github.com/gen2brain/malgo"
)

const bytesPerF32 = 4

// MalgoCapture captures through miniaudio. It feeds the same pipeline as
// Engine, so the two backends are interchangeable.
type MalgoCapture struct {
	*pipeline

	sampleRate      uint32
	framesPerBuffer int
	deviceIndex     int
	interleaved     []float32 // Decoded callback bytes, one buffer of frames.

	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
}

// NewMalgoCapture prepares a capture on the configured device index
// (-1 for the system default). No device is opened until Start.
func NewMalgoCapture(cfg *config.Config, proc BlockProcessor, rec *Recorder) (*MalgoCapture, error) {
	m := &MalgoCapture{
		pipeline:        newPipeline(cfg.Audio.InputChannels, cfg.Audio.FramesPerBuffer, proc, rec),
		sampleRate:      uint32(cfg.Audio.SampleRate),
		framesPerBuffer: cfg.Audio.FramesPerBuffer,
		deviceIndex:     cfg.Audio.InputDevice,
		interleaved:     make([]float32, cfg.Audio.FramesPerBuffer*cfg.Audio.InputChannels),
	}
	if cfg.Audio.GateThreshold > 0 {
		m.SetGateThreshold(cfg.Audio.GateThreshold)
		m.EnableGate()
	}
	return m, nil
}

// Start initializes the miniaudio context and starts the capture device.
func (m *MalgoCapture) Start() error {
	if m.device != nil {
		return fmt.Errorf("malgo capture already running")
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		applog.Debugf("Malgo: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = m.sampleRate
	deviceConfig.PeriodSizeInFrames = uint32(m.framesPerBuffer)

	if m.deviceIndex != config.MinDeviceID {
		infos, err := malgoCtx.Devices(malgo.Capture)
		if err != nil {
			freeMalgoContext(malgoCtx)
			return fmt.Errorf("failed to enumerate capture devices: %w", err)
		}
		if m.deviceIndex < 0 || m.deviceIndex >= len(infos) {
			freeMalgoContext(malgoCtx)
			return fmt.Errorf("invalid device ID: %d", m.deviceIndex)
		}
		deviceConfig.Capture.DeviceID = infos[m.deviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.processBytes(input)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		freeMalgoContext(malgoCtx)
		return fmt.Errorf("failed to initialize device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		freeMalgoContext(malgoCtx)
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.malgoContext = malgoCtx
	m.device = device

	applog.Infof("MalgoCapture: Capturing (%d ch, %d Hz, %d frames)", m.channels, m.sampleRate, m.framesPerBuffer)
	return nil
}

// processBytes decodes little-endian float32 frames into the interleaved
// buffer, one buffer's worth at a time.
//
// Performance Critical (Hot Path):
//   - No allocations
func (m *MalgoCapture) processBytes(input []byte) {
	chunk := len(m.interleaved) * bytesPerF32
	for len(input) >= bytesPerF32 {
		n := min(len(input), chunk)
		samples := decodeF32LE(m.interleaved, input[:n])
		m.process(m.interleaved[:samples])
		input = input[n:]
	}
}

// decodeF32LE fills dst from src and returns the number of samples
// decoded. A trailing partial sample is ignored.
func decodeF32LE(dst []float32, src []byte) int {
	n := min(len(dst), len(src)/bytesPerF32)
	for i := range n {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*bytesPerF32:]))
	}
	return n
}

// Close stops the device and releases the miniaudio context.
func (m *MalgoCapture) Close() error {
	if m.device == nil {
		return nil
	}

	err := m.device.Stop()
	m.device.Uninit()
	m.device = nil
	freeMalgoContext(m.malgoContext)
	m.malgoContext = nil

	if err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	applog.Infof("MalgoCapture: Stopped after %d callbacks", m.callbacks.Load())
	return nil
}

func freeMalgoContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	if err := ctx.Uninit(); err != nil {
		applog.Warnf("MalgoCapture: Context uninit: %v", err)
	}
	ctx.Free()
}

// CaptureDevice is a miniaudio capture endpoint. Index is the value
// audio.input_device takes with the malgo backend; miniaudio may order
// devices differently from PortAudio.
type CaptureDevice struct {
	Index     int
	Name      string
	IsDefault bool
}

// malgoDevicesFunc is replaced in tests.
var malgoDevicesFunc = malgoCaptureDevices

// MalgoDevices returns the miniaudio capture devices.
func MalgoDevices() ([]CaptureDevice, error) {
	return malgoDevicesFunc()
}

func malgoCaptureDevices() ([]CaptureDevice, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		applog.Debugf("Malgo: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer freeMalgoContext(malgoCtx)

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	devices := make([]CaptureDevice, len(infos))
	for i := range infos {
		devices[i] = CaptureDevice{
			Index:     i,
			Name:      infos[i].Name(),
			IsDefault: infos[i].IsDefault != 0,
		}
	}
	return devices, nil
}

// ListMalgoDevices prints the miniaudio capture devices with the index
// to pass as --device.
func ListMalgoDevices(w io.Writer) error {
	devices, err := MalgoDevices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nCapture Devices (malgo)\n\n")
	if len(devices) == 0 {
		fmt.Fprintln(w, "No capture devices found.")
		return nil
	}
	for _, d := range devices {
		marker := ""
		if d.IsDefault {
			marker = " [default]"
		}
		fmt.Fprintf(w, "[%d] %s%s\n", d.Index, d.Name, marker)
	}
	return nil
}
