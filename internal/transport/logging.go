package transport

import (
	"sync/atomic"

	applog "micscope/internal/log"
)

// LoggingTransport implements the Transport interface by logging frames at
// debug level.
type LoggingTransport struct {
	frames atomic.Uint64
	closed atomic.Bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs a one line summary of the frame.
func (lt *LoggingTransport) Send(frame *Frame) error {
	if lt.closed.Load() {
		return ErrClosed
	}
	lt.frames.Add(1)

	if !applog.Enabled(applog.LevelDebug) {
		return nil
	}
	if frame.Type == FrameIdle {
		applog.Debugf("LoggingTransport: #%d idle", frame.Sequence)
		return nil
	}
	idx, freq, mag := frame.Peak()
	applog.Debugf("LoggingTransport: #%d %d bins, peak bin %d (%.0f Hz) at %.2f",
		frame.Sequence, len(frame.Magnitudes), idx, freq, mag)
	return nil
}

// Frames returns the number of frames received.
func (lt *LoggingTransport) Frames() uint64 {
	return lt.frames.Load()
}

// Close marks the transport closed.
func (lt *LoggingTransport) Close() error {
	if lt.closed.Swap(true) {
		return nil
	}
	applog.Debugf("LoggingTransport: Closed after %d frames", lt.frames.Load())
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
