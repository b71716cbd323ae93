package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"micscope/cmd"
	"micscope/internal/audio"
	"micscope/internal/config"
	applog "micscope/internal/log"
	"micscope/internal/spectrum"
	"micscope/internal/transport"
	"micscope/internal/tui"
	"micscope/pkg/build"
)

// logFileName receives log output while the terminal UI owns the screen.
const logFileName = "micscope.log"

// main is the entry point for the spectrum analyzer.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Parse command line arguments and load configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Build the analyzer and the capture source
//   - Start recording if enabled
//   - Start the frame publisher
//   - Run the terminal UI or wait for a signal
//
// 3. Shutdown Phase (Cold Path):
//   - Stop analysis and publication
//   - Stop capture and recording
//   - Clean up resources
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: Development build, missing ldflags:\n%v", err)
	}

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to the capture callback (time-critical)
	// - One thread for UI, publication and I/O operations
	runtime.GOMAXPROCS(2)

	inv, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if inv == nil {
		return // --help or --version
	}
	cfg := inv.Config
	applog.SetLevel(cfg.Level())
	applog.Debugf("Build: %s", build.GetBuildFlags())

	// Offline analysis needs no audio host.
	if inv.Command == cmd.CommandAnalyze {
		if _, err := cmd.Analyze(cfg, inv.Args[0], os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Initialize PortAudio subsystem
	if cfg.Audio.Backend == config.BackendPortAudio {
		if err := audio.Initialize(); err != nil {
			log.Fatal(err)
		}
		defer audio.Terminate()
	}

	if inv.Command == cmd.CommandList {
		if err := cmd.List(inv, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	analyzer, err := spectrum.New(cfg.Spectrum())
	if err != nil {
		log.Fatal(err)
	}

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = audio.NewRecorder(
			int(cfg.Audio.SampleRate),
			cfg.Recording.BitDepth,
			cfg.Audio.FramesPerBuffer,
			time.Duration(cfg.Recording.MaxDuration)*time.Second,
		)
		if err != nil {
			log.Fatal(err)
		}
		if err := recorder.StartRecording(audio.DefaultFilename(cfg.Recording.OutputDir, time.Now())); err != nil {
			log.Fatal(err)
		}
	}

	source, err := audio.NewSource(cfg, analyzer, recorder)
	if err != nil {
		log.Fatal(err)
	}

	transports, err := cmd.NewTransports(cfg)
	if err != nil {
		log.Fatal(err)
	}
	var publisher *transport.Publisher
	if len(transports) > 0 {
		publisher, err = transport.NewPublisher(cfg.Transport.PublishInterval, analyzer, transports...)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Analysis starts before capture so the first callback already publishes.
	analyzer.StartAnalysis()

	// CRITICAL: Start of real-time audio processing
	if err := source.Start(); err != nil {
		log.Fatal(err)
	}
	if publisher != nil {
		publisher.Start()
	}

	if cfg.UI.Enabled {
		if err := runUI(cfg, analyzer, source, publisher, recorder); err != nil {
			applog.Errorf("UI: %v", err)
		}
	} else {
		// Setup signal handling for graceful shutdown
		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)
		applog.Infof("Running headless, press Ctrl+C to stop")
		<-done
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	analyzer.StopAnalysis()

	// The publisher flushes the idle frame on the way out.
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			applog.Errorf("Error closing publisher: %v", err)
		}
	}

	if err := source.Close(); err != nil {
		applog.Errorf("Error closing audio source: %v", err)
	}
	stats := source.Stats()
	applog.Infof("Capture: %d callbacks, %d blocks, %d gated; analyzer frames: %d",
		stats.Callbacks, stats.Blocks, stats.Gated, analyzer.Frames())

	if recorder != nil {
		if err := recorder.StopRecording(); err != nil {
			applog.Errorf("Error stopping recording: %v", err)
		}
		fmt.Printf("\nRecording saved to: %s\n", recorder.Filename())
	}
}

// runUI runs the spectrum view with logs diverted to a file.
func runUI(cfg *config.Config, analyzer *spectrum.Analyzer, source audio.Source, publisher *transport.Publisher, recorder *audio.Recorder) error {
	logPath := filepath.Join(os.TempDir(), logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		applog.SetOutput(nil)
	} else {
		applog.SetOutput(logFile)
		defer logFile.Close()
	}
	defer applog.SetOutput(os.Stderr)

	status := func() string {
		s := source.Stats()
		line := fmt.Sprintf("%s • %.0f Hz • callbacks %d • gated %d", cfg.Audio.Backend, cfg.Audio.SampleRate, s.Callbacks, s.Gated)
		if publisher != nil {
			line += fmt.Sprintf(" • sent %d", publisher.Sequence())
		}
		if recorder != nil && recorder.IsRecording() {
			line += fmt.Sprintf(" • REC %s", filepath.Base(recorder.Filename()))
		}
		return line
	}

	// Several missed capture callbacks count as a stall.
	block := time.Duration(float64(cfg.Audio.FramesPerBuffer) / cfg.Audio.SampleRate * float64(time.Second))

	return tui.RunSpectrum(analyzer, tui.SpectrumOptions{
		Title:      build.GetBuildFlags().Name,
		Refresh:    cfg.UI.RefreshInterval,
		BarHeight:  cfg.UI.BarHeight,
		StaleAfter: max(time.Second, 4*block),
		Status:     status,
	})
}
