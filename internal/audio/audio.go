// SPDX-License-Identifier: MIT
/*
Package audio captures microphone input and delivers it to the spectrum
analyzer as mono float32 blocks.

Two capture backends share one processing pipeline:
  - Engine, on PortAudio (the default)
  - MalgoCapture, on miniaudio through malgo

Each callback is downmixed into a pre-allocated mono buffer, passed
through the optional noise gate, handed to the BlockProcessor and, when
recording, written to a WAV file.

Thread Safety:
  - The pipeline is driven by the backend's callback thread only
  - Gate settings and counters are atomic and may be changed from any
    goroutine
  - Buffers are pre-allocated to avoid GC in the hot path
*/
package audio

import (
	"fmt"
	"sync/atomic"

	"micscope/internal/config"
)

// BlockProcessor consumes mono audio blocks. The block is only valid for
// the duration of the call. *spectrum.Analyzer satisfies it.
type BlockProcessor interface {
	ProcessAudioBlock(block []float32)
}

// Source is a running capture backend.
type Source interface {
	Start() error
	Close() error
	Stats() Stats
	EnableGate()
	DisableGate()
	SetGateThreshold(threshold float64)
}

// Stats are counters kept by the capture pipeline.
type Stats struct {
	Callbacks uint64 // Backend callbacks received.
	Blocks    uint64 // Blocks handed to the processor.
	Gated     uint64 // Blocks silenced by the noise gate.
}

// NewSource builds the capture backend selected by cfg.Audio.Backend.
// rec may be nil when recording is disabled.
func NewSource(cfg *config.Config, proc BlockProcessor, rec *Recorder) (Source, error) {
	switch cfg.Audio.Backend {
	case config.BackendPortAudio, "":
		return NewEngine(cfg, proc, rec)
	case config.BackendMalgo:
		return NewMalgoCapture(cfg, proc, rec)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
}

// pipeline is the backend independent part of a capture callback.
type pipeline struct {
	Gate

	channels  int
	mono      []float32 // One callback's worth of downmixed frames.
	processor BlockProcessor
	recorder  *Recorder

	callbacks atomic.Uint64
	blocks    atomic.Uint64
	gated     atomic.Uint64
}

func newPipeline(channels, framesPerBuffer int, proc BlockProcessor, rec *Recorder) *pipeline {
	return &pipeline{
		channels:  channels,
		mono:      make([]float32, framesPerBuffer),
		processor: proc,
		recorder:  rec,
	}
}

// process handles one callback of interleaved samples. Callbacks larger
// than the mono buffer are split into several blocks.
//
// Performance Critical (Hot Path):
//   - No allocations
//   - No locks unless recording
func (p *pipeline) process(interleaved []float32) {
	p.callbacks.Add(1)

	frames := len(interleaved) / p.channels
	for start := 0; start < frames; start += len(p.mono) {
		n := min(len(p.mono), frames-start)
		block := p.mono[:n]
		downmix(block, interleaved[start*p.channels:(start+n)*p.channels], p.channels)

		if !p.apply(block) {
			p.gated.Add(1)
		}

		if p.processor != nil {
			p.processor.ProcessAudioBlock(block)
		}
		p.blocks.Add(1)

		if p.recorder != nil {
			p.recorder.Write(block)
		}
	}
}

func (p *pipeline) Stats() Stats {
	return Stats{
		Callbacks: p.callbacks.Load(),
		Blocks:    p.blocks.Load(),
		Gated:     p.gated.Load(),
	}
}

// downmix writes the mean of each interleaved frame into dst.
// len(src) must be len(dst)*channels.
func downmix(dst, src []float32, channels int) {
	if channels == 1 {
		copy(dst, src)
		return
	}
	scale := 1 / float32(channels)
	for i := range dst {
		frame := src[i*channels : (i+1)*channels]
		var sum float32
		for _, s := range frame {
			sum += s
		}
		dst[i] = sum * scale
	}
}
