// Package main provides a receiver for checking what rtpsend puts on the wire.
//
// It listens on UDP, parses RTP, writes L16 and decodable Opus to a WAV file
// and dumps AC3 and MPEG audio elementary streams to a file. A summary of
// per payload type packet counts is printed on exit.
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

	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/transport"
)

// CLI configuration
type CLIConfig struct {
	listen   string
	format   string
	rate     uint
	channels uint
	wavPath  string
	dumpPath string
	duration time.Duration
	logLevel string
	help     bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(args []string) (*CLIConfig, *flag.FlagSet, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet("rtprecv", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.listen, "listen", "127.0.0.1:5000", "UDP address to listen on")
	fs.StringVar(&config.format, "format", "pcm", "Meaning of payload type 96 (pcm, ac3, opus)")
	fs.UintVar(&config.rate, "rate", uint(media.DefaultSampleRate), "L16 sample rate")
	fs.UintVar(&config.channels, "channels", uint(media.DefaultChannels), "L16 channel count")
	fs.StringVar(&config.wavPath, "wav", "received.wav", "WAV output for PCM and decoded Opus")
	fs.StringVar(&config.dumpPath, "dump", "received.bin", "Elementary stream output for AC3, MPEG audio and undecodable Opus")
	fs.DurationVar(&config.duration, "duration", 0, "Stop after this long (0: until interrupted)")
	fs.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&config.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return config, fs, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "RTP Audio Receiver")
	fmt.Fprintln(w, "==================")
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
	fmt.Fprintf(w, "  # Record 10s of L16 from the default sender\n")
	fmt.Fprintf(w, "  %s -duration 10s\n", fs.Name())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  # Dump an AC3 stream\n")
	fmt.Fprintf(w, "  %s -format ac3 -dump out.ac3\n", fs.Name())
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}

	if _, err := media.ParseKind(config.format); err != nil {
		return err
	}

	if config.rate < uint(media.MinSampleRate) || config.rate > uint(media.MaxSampleRate) {
		return fmt.Errorf("invalid rate: must be between %d and %d", media.MinSampleRate, media.MaxSampleRate)
	}

	if config.channels == 0 || config.channels > uint(media.MaxChannels) {
		return fmt.Errorf("invalid channels: must be between 1 and %d", media.MaxChannels)
	}

	if config.wavPath == "" || config.dumpPath == "" {
		return fmt.Errorf("output paths cannot be empty")
	}

	if config.duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}

	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return err
	}

	return nil
}

// createReceiverConfig converts the validated CLI configuration.
func createReceiverConfig(cliConfig *CLIConfig) receiverConfig {
	format, _ := media.ParseKind(cliConfig.format)
	return receiverConfig{
		format:   format,
		rate:     uint32(cliConfig.rate),
		channels: uint16(cliConfig.channels),
		wavPath:  cliConfig.wavPath,
		dumpPath: cliConfig.dumpPath,
	}
}

// serve receives until ctx ends and returns the receiver for reporting.
func serve(ctx context.Context, cliConfig *CLIConfig) (*receiver, error) {
	listener, err := transport.NewUDPListener(cliConfig.listen)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	r := newReceiver(createReceiverConfig(cliConfig))
	listener.RegisterHandler(r.handle)

	if cliConfig.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cliConfig.duration)
		defer cancel()
	}

	err = listener.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if cerr := r.close(); err == nil {
		err = cerr
	}
	return r, err
}

// main is the entry point for the receiver.
func main() {
	cliConfig, fs, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout, fs)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if cliConfig.help {
		printUsage(os.Stdout, fs)
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	level, _ := logrus.ParseLevel(cliConfig.logLevel)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("📡 Listening on %s (payload type 96 as %s)\n", cliConfig.listen, cliConfig.format)

	r, err := serve(ctx, cliConfig)
	if r != nil {
		fmt.Println()
		r.printSummary(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Receiver failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
