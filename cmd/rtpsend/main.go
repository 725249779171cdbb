// Package main provides the command-line interface of the live RTP audio sender.
//
// The sender feeds a synthetic tone, a detection pattern, a decoded file or a
// capture device into a reconfigurable graph and streams the result over UDP.
// Demo mode alternates PCM and AC3 on a timer, detect mode probes the input
// and fixed mode sends one format for the whole run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/rtpsend/av/audio"
	"github.com/opd-ai/rtpsend/factory"
	"github.com/opd-ai/rtpsend/limits"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/monitor"
	"github.com/opd-ai/rtpsend/sender"
	"github.com/opd-ai/rtpsend/source"
)

// Input names accepted by -input besides a file path.
const (
	inputTone    = "tone"
	inputPattern = "pattern"
	inputCapture = "capture"
)

// CLI configuration
type CLIConfig struct {
	host string
	port int
	mtu  int

	mode           string
	format         string
	input          string
	rate           uint
	channels       uint
	depth          uint
	switchInterval time.Duration
	redetect       bool

	maxLatency   time.Duration
	stateTimeout time.Duration
	ffmpeg       string
	ac3Bitrate   int
	mp3Bitrate   int
	opusBitrate  int
	gain         float64

	simulate bool
	tui      bool
	logEvery uint64
	logLevel string
	logFile  string
	help     bool
}

// parseCLIFlags parses args on top of the factory defaults, which already
// carry any RTPSEND_* overrides.
func parseCLIFlags(args []string, defaults *factory.SenderConfig) (*CLIConfig, *flag.FlagSet, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet("rtpsend", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Destination
	fs.StringVar(&config.host, "host", defaults.Host, "Destination host")
	fs.IntVar(&config.port, "port", defaults.Port, "Destination UDP port")
	fs.IntVar(&config.mtu, "mtu", defaults.MTU, "Maximum datagram size in bytes")

	// Session
	fs.StringVar(&config.mode, "mode", sender.ModeDemo.String(), "Session mode (demo, detect, fixed)")
	fs.StringVar(&config.format, "format", "pcm", "Format sent in fixed mode, first format in demo mode (pcm, ac3, opus)")
	fs.StringVar(&config.input, "input", "", "Input: tone, pattern, capture or a file path (default: pattern in detect mode, tone otherwise)")
	fs.UintVar(&config.rate, "rate", uint(media.DefaultSampleRate), "Sample rate of tone, capture and raw file input")
	fs.UintVar(&config.channels, "channels", uint(media.DefaultChannels), "Channel count of tone, capture and raw file input")
	fs.UintVar(&config.depth, "depth", uint(media.DefaultBitDepth), "Bit depth of tone and raw file input")
	fs.DurationVar(&config.switchInterval, "switch-interval", defaults.SwitchInterval, "Demo mode format switch period")
	fs.BoolVar(&config.redetect, "redetect", false, "Keep probing after the first detected format")

	// Graph tuning
	fs.DurationVar(&config.maxLatency, "max-latency", defaults.MaxLatency, "Queued media before the source is held off")
	fs.DurationVar(&config.stateTimeout, "state-timeout", defaults.StateChangeTimeout, "Subgraph state change timeout")
	fs.StringVar(&config.ffmpeg, "ffmpeg", defaults.FFmpegPath, "ffmpeg binary used by the AC3 encoder")
	fs.IntVar(&config.ac3Bitrate, "ac3-bitrate", defaults.AC3Bitrate, "AC3 bitrate in bits per second")
	fs.IntVar(&config.mp3Bitrate, "mp3-bitrate", defaults.MP3Bitrate, "MP3 fallback bitrate in kbit/s")
	fs.Float64Var(&config.gain, "gain", defaults.Gain, "Linear gain applied before encoding")
	fs.IntVar(&config.opusBitrate, "opus-bitrate", defaults.OpusBitrate, "Opus bitrate in bits per second")

	// Output and logging
	fs.BoolVar(&config.simulate, "simulate", defaults.UseSimulation, "Record datagrams in memory instead of sending")
	fs.BoolVar(&config.tui, "tui", false, "Show the terminal status view")
	fs.Uint64Var(&config.logEvery, "log-every", monitor.DefaultLogEvery, "Log a status line every N buffers")
	fs.StringVar(&config.logLevel, "log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&config.logFile, "log-file", "", "Log file path (default: stderr, discarded with -tui)")

	// Help
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return config, fs, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Live RTP Audio Sender")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Streams audio over RTP/UDP and switches the encoding graph at runtime.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  # Alternate PCM and AC3 every 5s to 127.0.0.1:5000\n")
	fmt.Fprintf(w, "  %s\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Probe the detection pattern and follow its format changes\n")
	fmt.Fprintf(w, "  %s -mode detect -redetect\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Send a file as Opus with the status view\n")
	fmt.Fprintf(w, "  %s -mode fixed -format opus -input song.flac -tui\n", fs.Name())
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if config.port < factory.MinPort || config.port > factory.MaxPort {
		return fmt.Errorf("invalid port: must be between %d and %d", factory.MinPort, factory.MaxPort)
	}

	if err := limits.ValidateMTU(config.mtu); err != nil {
		return err
	}

	if _, err := sender.ParseMode(config.mode); err != nil {
		return err
	}

	if _, err := media.ParseKind(config.format); err != nil {
		return err
	}

	if config.rate > uint(media.MaxSampleRate) || config.channels > uint(media.MaxChannels) {
		return fmt.Errorf("input format %d Hz / %d channels out of range", config.rate, config.channels)
	}
	if err := rawDescriptor(config).Validate(); err != nil {
		return err
	}

	if config.switchInterval <= 0 {
		return fmt.Errorf("switch interval must be positive")
	}

	if config.maxLatency <= 0 {
		return fmt.Errorf("max latency must be positive")
	}

	if config.stateTimeout <= 0 {
		return fmt.Errorf("state timeout must be positive")
	}

	if config.ac3Bitrate < factory.MinAC3Bitrate || config.ac3Bitrate > factory.MaxAC3Bitrate {
		return fmt.Errorf("invalid AC3 bitrate: must be between %d and %d", factory.MinAC3Bitrate, factory.MaxAC3Bitrate)
	}

	if config.mp3Bitrate <= 0 || config.opusBitrate <= 0 {
		return fmt.Errorf("bitrates must be positive")
	}

	if config.gain < 0 || config.gain > audio.MaxGain {
		return fmt.Errorf("invalid gain: must be between 0 and %.1f", audio.MaxGain)
	}

	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return err
	}

	return nil
}

// rawDescriptor is the format declared for tone, capture and raw input.
func rawDescriptor(config *CLIConfig) media.Descriptor {
	return media.Descriptor{
		Kind:       media.KindPcm,
		SampleRate: uint32(config.rate),
		Channels:   uint16(config.channels),
		BitDepth:   uint16(config.depth),
	}
}

// createSenderConfig applies the CLI settings on top of the factory configuration.
func createSenderConfig(cliConfig *CLIConfig, base *factory.SenderConfig) *factory.SenderConfig {
	config := *base
	config.Host = cliConfig.host
	config.Port = cliConfig.port
	config.MTU = cliConfig.mtu
	config.UseSimulation = cliConfig.simulate
	config.FFmpegPath = cliConfig.ffmpeg
	config.LogLevel = cliConfig.logLevel
	config.AC3Bitrate = cliConfig.ac3Bitrate
	config.MP3Bitrate = cliConfig.mp3Bitrate
	config.OpusBitrate = cliConfig.opusBitrate
	config.Gain = cliConfig.gain
	config.MaxLatency = cliConfig.maxLatency
	config.StateChangeTimeout = cliConfig.stateTimeout
	config.SwitchInterval = cliConfig.switchInterval
	return &config
}

// sessionConfig converts the CLI configuration to a session configuration.
// The flags are validated before this is called.
func sessionConfig(cliConfig *CLIConfig) sender.Config {
	mode, _ := sender.ParseMode(cliConfig.mode)
	format, _ := media.ParseKind(cliConfig.format)

	cfg := sender.Config{
		Mode:           mode,
		Format:         format,
		SwitchInterval: cliConfig.switchInterval,
		Redetect:       cliConfig.redetect,
	}
	if mode == sender.ModeDemo && format != media.KindPcm {
		cfg.SwitchKinds = []media.Kind{format, media.KindPcm}
	}
	return cfg
}

// openProducer creates the producer named by -input.
func openProducer(cliConfig *CLIConfig) (source.Producer, error) {
	input := cliConfig.input
	if input == "" {
		input = inputTone
		if cliConfig.mode == sender.ModeDetect.String() {
			input = inputPattern
		}
	}

	switch input {
	case inputTone:
		return source.NewToneProducer(rawDescriptor(cliConfig))
	case inputPattern:
		return source.NewPatternProducer(), nil
	case inputCapture:
		return source.NewCaptureProducer(uint32(cliConfig.rate), uint16(cliConfig.channels))
	default:
		return source.OpenFile(input, rawDescriptor(cliConfig))
	}
}

// setupLogging configures the global logrus logger. With the status view
// active, log lines go to the log file or nowhere.
func setupLogging(cliConfig *CLIConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(cliConfig.logLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cliConfig.logFile != "" {
		f, err := os.OpenFile(cliConfig.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logrus.SetOutput(f)
		return f, nil
	}

	if cliConfig.tui {
		logrus.SetOutput(io.Discard)
	} else {
		logrus.SetOutput(os.Stderr)
	}
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// run builds the session and drives it until it ends, the user quits or a
// signal arrives.
func run(ctx context.Context, cliConfig *CLIConfig, f *factory.SenderFactory) error {
	if err := f.UpdateConfig(createSenderConfig(cliConfig, f.GetCurrentConfig())); err != nil {
		return fmt.Errorf("apply configuration: %w", err)
	}
	config := f.GetCurrentConfig()

	datagrams, err := f.CreateSender()
	if err != nil {
		return err
	}
	defer datagrams.Close()

	producer, err := openProducer(cliConfig)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}

	session, err := sender.New(sessionConfig(cliConfig), producer, datagrams, config.StageConfig())
	if err != nil {
		producer.Close()
		return err
	}
	session.Observe(monitor.NewStatusLogger(logrus.StandardLogger(), cliConfig.logEvery).Observe)

	logrus.WithFields(logrus.Fields{
		"function":    "run",
		"session_id":  session.ID().String(),
		"destination": config.Address(),
		"mode":        cliConfig.mode,
		"simulation":  config.UseSimulation,
	}).Info("Starting session")

	if !cliConfig.tui {
		return session.Run(ctx)
	}

	tui := monitor.NewTUI()
	session.Observe(tui.Observe)

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		defer tui.Stop()
		return session.Run(gctx)
	})
	g.Go(func() error {
		return tui.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-tui.QuitChan():
			session.Stop()
		case <-done:
		}
		return nil
	})
	return g.Wait()
}

// main is the entry point for the sender.
func main() {
	f := factory.NewSenderFactory()

	cliConfig, fs, err := parseCLIFlags(os.Args[1:], f.GetCurrentConfig())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout, fs)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(2)
	}

	// Show help if requested
	if cliConfig.help {
		printUsage(os.Stdout, fs)
		os.Exit(0)
	}

	// Validate configuration
	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	logCloser, err := setupLogging(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	// Graceful shutdown on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cliConfig, f); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Session failed: %v\n", err)
		logCloser.Close()
		stop()
		os.Exit(1)
	}

	if !cliConfig.tui {
		fmt.Println("✅ Session finished")
	}
}
