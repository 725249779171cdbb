package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpsend/factory"
	"github.com/opd-ai/rtpsend/media"
	"github.com/opd-ai/rtpsend/sender"
	"github.com/opd-ai/rtpsend/source"
)

func defaultCLI(t *testing.T, args ...string) *CLIConfig {
	t.Helper()
	cfg, _, err := parseCLIFlags(args, factory.DefaultConfig())
	require.NoError(t, err)
	return cfg
}

func TestParseCLIFlagsDefaults(t *testing.T) {
	cfg := defaultCLI(t)
	defaults := factory.DefaultConfig()

	assert.Equal(t, defaults.Host, cfg.host)
	assert.Equal(t, defaults.Port, cfg.port)
	assert.Equal(t, defaults.MTU, cfg.mtu)
	assert.Equal(t, "demo", cfg.mode)
	assert.Equal(t, "pcm", cfg.format)
	assert.Equal(t, uint(48000), cfg.rate)
	assert.Equal(t, 5*time.Second, cfg.switchInterval)
	assert.False(t, cfg.tui)
	assert.NoError(t, validateCLIConfig(cfg))
}

func TestParseCLIFlagsOverrides(t *testing.T) {
	cfg := defaultCLI(t, "-host", "10.0.0.7", "-port", "6000", "-mode", "fixed", "-format", "opus",
		"-switch-interval", "2s", "-simulate", "-redetect")

	assert.Equal(t, "10.0.0.7", cfg.host)
	assert.Equal(t, 6000, cfg.port)
	assert.Equal(t, "fixed", cfg.mode)
	assert.Equal(t, "opus", cfg.format)
	assert.Equal(t, 2*time.Second, cfg.switchInterval)
	assert.True(t, cfg.simulate)
	assert.True(t, cfg.redetect)

	_, _, err := parseCLIFlags([]string{"-no-such-flag"}, factory.DefaultConfig())
	assert.Error(t, err)
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*CLIConfig)
		errContains string
	}{
		{"valid", func(c *CLIConfig) {}, ""},
		{"empty host", func(c *CLIConfig) { c.host = "" }, "host cannot be empty"},
		{"port zero", func(c *CLIConfig) { c.port = 0 }, "invalid port"},
		{"port too high", func(c *CLIConfig) { c.port = 70000 }, "invalid port"},
		{"tiny mtu", func(c *CLIConfig) { c.mtu = 10 }, "MTU"},
		{"unknown mode", func(c *CLIConfig) { c.mode = "shuffle" }, "shuffle"},
		{"unknown format", func(c *CLIConfig) { c.format = "flac" }, "flac"},
		{"bad depth", func(c *CLIConfig) { c.depth = 12 }, "bit depth"},
		{"too many channels", func(c *CLIConfig) { c.channels = 99 }, "out of range"},
		{"zero switch interval", func(c *CLIConfig) { c.switchInterval = 0 }, "switch interval"},
		{"zero latency", func(c *CLIConfig) { c.maxLatency = 0 }, "max latency"},
		{"zero state timeout", func(c *CLIConfig) { c.stateTimeout = 0 }, "state timeout"},
		{"ac3 bitrate", func(c *CLIConfig) { c.ac3Bitrate = 1000 }, "AC3 bitrate"},
		{"opus bitrate", func(c *CLIConfig) { c.opusBitrate = 0 }, "bitrates"},
		{"negative gain", func(c *CLIConfig) { c.gain = -1 }, "invalid gain"},
		{"log level", func(c *CLIConfig) { c.logLevel = "loud" }, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultCLI(t)
			tt.modify(cfg)
			err := validateCLIConfig(cfg)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := sessionConfig(defaultCLI(t))
	assert.Equal(t, sender.ModeDemo, cfg.Mode)
	assert.Equal(t, media.KindPcm, cfg.Format)
	assert.Empty(t, cfg.SwitchKinds)

	cfg = sessionConfig(defaultCLI(t, "-format", "opus"))
	assert.Equal(t, []media.Kind{media.KindOpus, media.KindPcm}, cfg.SwitchKinds)

	cfg = sessionConfig(defaultCLI(t, "-mode", "detect", "-redetect"))
	assert.Equal(t, sender.ModeDetect, cfg.Mode)
	assert.True(t, cfg.Redetect)
}

func TestCreateSenderConfig(t *testing.T) {
	cli := defaultCLI(t, "-port", "7000", "-mtu", "1200", "-simulate", "-ffmpeg", "/opt/ffmpeg", "-gain", "0.5")
	config := createSenderConfig(cli, factory.DefaultConfig())

	assert.Equal(t, 7000, config.Port)
	assert.Equal(t, 1200, config.MTU)
	assert.True(t, config.UseSimulation)
	assert.Equal(t, "/opt/ffmpeg", config.StageConfig().FFmpegPath)
	assert.Equal(t, 1200, config.StageConfig().MTU)
	assert.Equal(t, 0.5, config.StageConfig().Gain)
}

func TestOpenProducer(t *testing.T) {
	p, err := openProducer(defaultCLI(t))
	require.NoError(t, err)
	assert.IsType(t, &source.ToneProducer{}, p)

	p, err = openProducer(defaultCLI(t, "-mode", "detect"))
	require.NoError(t, err)
	assert.IsType(t, &source.PatternProducer{}, p)

	_, err = openProducer(defaultCLI(t, "-input", filepath.Join(t.TempDir(), "missing.wav")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "input.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o644))
	p, err = openProducer(defaultCLI(t, "-input", path, "-rate", "44100"))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, uint32(44100), p.Descriptor().SampleRate)
}

func TestPrintUsage(t *testing.T) {
	_, fs, err := parseCLIFlags(nil, factory.DefaultConfig())
	require.NoError(t, err)

	var out bytes.Buffer
	printUsage(&out, fs)
	assert.Contains(t, out.String(), "-switch-interval")
	assert.Contains(t, out.String(), "rtpsend -mode detect -redetect")
}

func TestSetupLoggingToFile(t *testing.T) {
	defer func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	}()

	path := filepath.Join(t.TempDir(), "rtpsend.log")
	closer, err := setupLogging(defaultCLI(t, "-log-file", path, "-log-level", "debug"))
	require.NoError(t, err)

	logrus.Debug("written to file")
	require.NoError(t, closer.Close())
	logrus.SetOutput(os.Stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestRunSimulatedFileToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 12000), 0o644))

	cli := defaultCLI(t, "-mode", "fixed", "-format", "pcm", "-simulate", "-input", path)
	require.NoError(t, validateCLIConfig(cli))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := factory.NewSenderFactory()
	err := run(ctx, cli, f)
	assert.NoError(t, err)
	assert.True(t, f.IsUsingSimulation())
	assert.NoError(t, ctx.Err(), "the session ended on end of stream, not on the deadline")
}

func TestRunReportsOpenFailure(t *testing.T) {
	cli := defaultCLI(t, "-simulate", "-input", filepath.Join(t.TempDir(), "nothing.flac"))
	err := run(context.Background(), cli, factory.NewSenderFactory())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "open input"))
}
