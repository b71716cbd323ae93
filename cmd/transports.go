package cmd

import (
	"errors"
	"fmt"

	"micscope/internal/config"
	applog "micscope/internal/log"
	"micscope/internal/transport"
	"micscope/internal/transport/udp"
)

// NewTransports builds the frame transports enabled in cfg. The
// WebSocket server is listening when this returns. A LoggingTransport is
// added when frame logging is on, or when nothing else would consume
// frames in a headless run. On error every transport already built is
// closed.
func NewTransports(cfg *config.Config) ([]transport.Transport, error) {
	var transports []transport.Transport
	fail := func(err error) ([]transport.Transport, error) {
		for _, t := range transports {
			t.Close()
		}
		return nil, err
	}

	tc := cfg.Transport
	if tc.UDPEnabled {
		t, err := udp.NewTransport(tc.UDPTargetAddress)
		if err != nil {
			return fail(fmt.Errorf("udp transport: %w", err))
		}
		applog.Infof("Transports: UDP frames to %s", t.Sender().Target())
		transports = append(transports, t)
	}

	if tc.WebSocketEnabled {
		wst := transport.NewWebSocketTransport(tc.WebSocketAddress)
		if err := wst.Start(); err != nil {
			wst.Close()
			return fail(fmt.Errorf("websocket transport: %w", err))
		}
		transports = append(transports, wst)
	}

	if tc.LogFrames || (len(transports) == 0 && !cfg.UI.Enabled) {
		transports = append(transports, transport.NewLoggingTransport())
	}

	applog.Debugf("Transports: %d enabled", len(transports))
	return transports, nil
}

// CloseTransports closes every transport and joins their errors.
func CloseTransports(transports []transport.Transport) error {
	var errs []error
	for _, t := range transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
