package cmd

import (
	"fmt"
	"io"
	"time"

	"micscope/internal/audio"
	"micscope/internal/config"
	applog "micscope/internal/log"
	"micscope/internal/spectrum"
	"micscope/internal/tui"
)

// List prints the input devices of the configured backend. With
// PortAudio it opens the device picker when the terminal UI is enabled
// and plain output was not requested; PortAudio must be initialized.
func List(inv *Invocation, w io.Writer) error {
	if inv.Config.Audio.Backend == config.BackendMalgo {
		return audio.ListMalgoDevices(w)
	}
	if inv.Plain || !inv.Config.UI.Enabled {
		return audio.ListDevices(w)
	}

	sel, err := tui.StartDeviceListUI(tui.HostInputDevices)
	if err != nil {
		return err
	}
	if sel != nil {
		fmt.Fprintf(w, "Selected %q. Run with: %s\n", sel.Device.Name, sel.Flags())
	}
	return nil
}

// Analyze runs the analyzer over the WAV file at path, in blocks of the
// configured frames per buffer, and writes one line per analysis frame:
// the stream offset, a sparkline of the bins and the peak bin. The
// analyzer runs at the file's sample rate.
func Analyze(cfg *config.Config, path string, w io.Writer) (audio.StreamInfo, error) {
	header, err := audio.WAVInfo(path)
	if err != nil {
		return header, err
	}

	scfg := cfg.Spectrum()
	scfg.SampleRate = float64(header.SampleRate)
	analyzer, err := spectrum.New(scfg)
	if err != nil {
		return header, err
	}
	analyzer.StartAnalysis()
	defer analyzer.StopAnalysis()

	printer := &framePrinter{
		analyzer:   analyzer,
		w:          w,
		sampleRate: float64(header.SampleRate),
	}

	applog.Infof("Analyze: Reading %s (%d Hz, %d ch, %d-bit)", path, header.SampleRate, header.Channels, header.BitDepth)
	info, err := audio.ReadWAV(path, cfg.Audio.FramesPerBuffer, printer)
	if err != nil {
		return info, err
	}
	if printer.err != nil {
		return info, fmt.Errorf("writing frames: %w", printer.err)
	}

	applog.Infof("Analyze: %d frames from %d blocks (%s)", analyzer.Frames(), info.Blocks, info.Duration())
	return info, nil
}

// framePrinter feeds the analyzer and prints every frame it publishes.
type framePrinter struct {
	analyzer   *spectrum.Analyzer
	w          io.Writer
	sampleRate float64
	samples    int
	err        error
}

func (p *framePrinter) ProcessAudioBlock(block []float32) {
	p.analyzer.ProcessAudioBlock(block)
	p.samples += len(block)

	select {
	case <-p.analyzer.Updated():
	default:
		return // Not analyzing, nothing published.
	}
	snap := p.analyzer.Snapshot()
	if snap == nil || p.err != nil {
		return
	}

	offset := time.Duration(float64(p.samples) / p.sampleRate * float64(time.Second))
	_, freq, mag := snap.Peak()
	_, p.err = fmt.Fprintf(p.w, "%9.3fs %s peak %7.1f Hz %.2f\n",
		offset.Seconds(), tui.Sparkline(snap.Magnitudes), freq, mag)
}
