package cmd

import (
	"fmt"

	"micscope/internal/config"
	"micscope/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected by ParseArgs.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandAnalyze = "analyze"
)

// Invocation is the parsed command line: the final configuration, the
// command to execute and its positional arguments.
type Invocation struct {
	Config  *config.Config
	Command string
	Args    []string
	Plain   bool // list: print text instead of opening the picker
}

// flagValues receives flag values. They are copied onto the loaded
// configuration only when the user set them explicitly.
type flagValues struct {
	configPath      string
	backend         string
	device          int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	gateThreshold   float64
	fftSize         int
	bins            int
	record          bool
	outputDir       string
	udpTarget       string
	wsAddress       string
	noTUI           bool
	verbose         bool
	logLevel        string
}

// ParseArgs parses args (without the program name), loads the
// configuration file and applies explicitly set flags on top of it.
func ParseArgs(args []string) (*Invocation, error) {
	buildInfo := build.GetBuildFlags()
	inv := &Invocation{}
	var fv flagValues

	// prepare runs for every command once flags are parsed.
	prepare := func(cmd *cobra.Command, command string, cmdArgs []string) error {
		cfg, err := config.LoadConfig(fv.configPath)
		if err != nil {
			return err
		}
		if err := fv.apply(cmd, cfg); err != nil {
			return err
		}
		inv.Config = cfg
		inv.Command = command
		inv.Args = cmdArgs
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepare(cmd, CommandRun, args)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepare(cmd, CommandList, args)
		},
	}
	listCmd.Flags().BoolVar(&inv.Plain, "plain", false,
		"Print the device list instead of opening the picker")
	rootCmd.AddCommand(listCmd)

	// Analyze command
	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run the analyzer over a WAV file and print one bar line per frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return prepare(cmd, CommandAnalyze, args)
		},
	}
	rootCmd.AddCommand(analyzeCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&fv.configPath, "config", "",
		"Path to a YAML config file (default: ./config.yaml or ./micscope.yaml if present)")

	// Audio Device Configuration
	flags.StringVar(&fv.backend, "backend", config.DefaultBackend,
		"Capture backend: portaudio or malgo")
	flags.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' with the same --backend to see available devices.")
	flags.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture, downmixed to mono")
	flags.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	flags.BoolVarP(&fv.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	flags.Float64Var(&fv.gateThreshold, "gate", 0,
		"Noise gate threshold in [0, 1]; quieter blocks show as silence (0 disables)")

	// Analyzer Configuration
	flags.IntVar(&fv.fftSize, "fft-size", config.DefaultFFTSize,
		"FFT window length, a power of two")
	flags.IntVar(&fv.bins, "bins", config.DefaultBinCount,
		"Number of display bins")

	// Recording Configuration
	flags.BoolVarP(&fv.record, "record", "r", false,
		"Record the captured stream to a WAV file")
	flags.StringVarP(&fv.outputDir, "output", "o", config.DefaultOutputDir,
		"Directory for recordings, named recording-DD-MM-YYYY-HHMMSS.wav")

	// Transport Configuration
	flags.StringVar(&fv.udpTarget, "udp", "",
		"Send binary spectrum frames to this UDP address (enables UDP)")
	flags.StringVar(&fv.wsAddress, "ws", "",
		"Serve JSON spectrum frames on this WebSocket address (enables WebSocket)")

	// Display and Debug Configuration
	flags.BoolVar(&fv.noTUI, "no-tui", false,
		"Disable the terminal spectrum view")
	flags.BoolVarP(&fv.verbose, "verbose", "v", false,
		"Show verbose output")
	flags.StringVar(&fv.logLevel, "log-level", "",
		"Log level: debug, info, warn, error")

	// A nil slice makes cobra fall back to os.Args.
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	// --help and --version run no command.
	if inv.Config == nil {
		return nil, nil
	}
	return inv, nil
}

// apply copies explicitly set flags onto cfg and validates the result.
func (fv *flagValues) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("backend") {
		cfg.Audio.Backend = fv.backend
	}
	if changed("device") {
		cfg.Audio.InputDevice = fv.device
	}
	if changed("channels") {
		cfg.Audio.InputChannels = fv.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if changed("gate") {
		cfg.Audio.GateThreshold = fv.gateThreshold
	}
	if changed("fft-size") {
		cfg.Analyzer.FFTSize = fv.fftSize
	}
	if changed("bins") {
		cfg.Analyzer.BinCount = fv.bins
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("output") {
		cfg.Recording.OutputDir = fv.outputDir
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = fv.udpTarget
	}
	if changed("ws") {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = fv.wsAddress
	}
	if changed("no-tui") {
		cfg.UI.Enabled = !fv.noTUI
	}
	if changed("verbose") {
		cfg.Debug = fv.verbose
	}
	if changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
