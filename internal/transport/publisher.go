// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"sync"
	"time"

	applog "micscope/internal/log"
	"micscope/internal/spectrum"
)

// Publisher periodically polls a SnapshotSource and fans each new snapshot
// out to its transports. It sends a frame only when the snapshot changed,
// and exactly one idle frame when the analyzer stops, so renderers can
// clear their bars. It runs in a separate goroutine managed by Start and
// Stop.
type Publisher struct {
	source     SnapshotSource
	transports []Transport
	interval   time.Duration

	ticker   *time.Ticker   // Ticker that triggers a poll.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	// Owned by the publisher goroutine.
	last     *spectrum.Snapshot
	idleSent bool
	failing  []bool

	statsMu     sync.Mutex
	sequenceNum uint32 // Monotonically increasing sequence number for frames.
	errors      uint64

	now func() time.Time
}

// NewPublisher creates a publisher for source. If the interval is invalid
// (<= 0), it defaults to 16ms (~60Hz).
func NewPublisher(interval time.Duration, source SnapshotSource, transports ...Transport) (*Publisher, error) {
	if source == nil {
		return nil, fmt.Errorf("Publisher: snapshot source cannot be nil")
	}
	if len(transports) == 0 {
		return nil, fmt.Errorf("Publisher: at least one transport is required")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond // Default to ~60Hz if invalid
		applog.Warnf("Publisher: Invalid interval provided, defaulting to %s", interval)
	}

	applog.Infof("Publisher: Initializing (Interval: %s, Transports: %d)", interval, len(transports))

	return &Publisher{
		source:     source,
		transports: transports,
		interval:   interval,
		failing:    make([]bool, len(transports)),
		// Nothing published yet counts as idle, so a stopped analyzer does
		// not produce a frame on startup.
		idleSent: true,
		now:      time.Now,
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("Publisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Capture local variables for the goroutine to avoid data races on p.ticker/p.doneChan
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("Publisher: Goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-doneChan:
				// Flush the final state so renderers do not keep stale bars.
				p.poll()
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("Publisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("Publisher: Stopped after %d frames", p.Sequence())
	return nil
}

// poll publishes the current snapshot if it differs from the last one.
func (p *Publisher) poll() {
	snap := p.source.Snapshot()
	if snap == p.last && (snap != nil || p.idleSent) {
		return
	}
	p.last = snap
	p.idleSent = snap == nil

	p.statsMu.Lock()
	p.sequenceNum++
	seq := p.sequenceNum
	p.statsMu.Unlock()

	p.broadcast(NewFrame(seq, snap, p.now()))
}

// broadcast sends frame to every transport. A failing transport is logged
// once per failure streak and never stops the others.
func (p *Publisher) broadcast(frame *Frame) {
	for i, t := range p.transports {
		if err := t.Send(frame); err != nil {
			p.statsMu.Lock()
			p.errors++
			p.statsMu.Unlock()
			if !p.failing[i] {
				applog.Warnf("Publisher: Transport %T failed, dropping frames: %v", t, err)
				p.failing[i] = true
			}
			continue
		}
		if p.failing[i] {
			applog.Infof("Publisher: Transport %T recovered", t)
			p.failing[i] = false
		}
	}
}

// Sequence returns the sequence number of the last frame sent.
func (p *Publisher) Sequence() uint32 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.sequenceNum
}

// Errors returns the number of failed transport sends.
func (p *Publisher) Errors() uint64 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.errors
}

// Close stops the publisher and closes every transport.
func (p *Publisher) Close() error {
	err := p.Stop()
	for _, t := range p.transports {
		if cerr := t.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Ensure Publisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*Publisher)(nil)
