package factory

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/av"
	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/limits"
	"github.com/opd-ai/rtpsend/testing"
	"github.com/opd-ai/rtpsend/transport"
)

// Validation constants for configuration bounds checking.
const (
	// MinPort is the lowest accepted destination port.
	MinPort = 1
	// MaxPort is the highest accepted destination port.
	MaxPort = 65535
	// MinAC3Bitrate is the lowest AC-3 bitrate in bits per second.
	MinAC3Bitrate = 32000
	// MaxAC3Bitrate is the highest AC-3 bitrate in bits per second.
	MaxAC3Bitrate = 640000
)

// Environment variables read by NewSenderFactory.
const (
	EnvHost       = "RTPSEND_HOST"
	EnvPort       = "RTPSEND_PORT"
	EnvMTU        = "RTPSEND_MTU"
	EnvSimulate   = "RTPSEND_SIMULATE"
	EnvFFmpeg     = "RTPSEND_FFMPEG"
	EnvLogLevel   = "RTPSEND_LOG_LEVEL"
	EnvAC3Bitrate = "RTPSEND_AC3_BITRATE"
)

// SenderConfig holds every tunable of a sending session.
type SenderConfig struct {
	Host          string
	Port          int
	MTU           int
	UseSimulation bool
	WriteTimeout  int // milliseconds, 0 disables
	FFmpegPath    string
	LogLevel      string
	AC3Bitrate    int
	MP3Bitrate    int
	OpusBitrate   int
	Gain          float64

	MaxLatency         time.Duration
	BlockSize          int
	StateChangeTimeout time.Duration
	SwitchInterval     time.Duration
}

// DatagramConfig returns the sender part of the configuration.
func (c *SenderConfig) DatagramConfig() interfaces.DatagramConfig {
	return interfaces.DatagramConfig{
		UseSimulation: c.UseSimulation,
		Host:          c.Host,
		Port:          c.Port,
		WriteTimeout:  c.WriteTimeout,
	}
}

// StageConfig returns the stage tunables handed to the graph manager.
func (c *SenderConfig) StageConfig() av.StageConfig {
	sc := av.DefaultStageConfig()
	sc.MTU = c.MTU
	sc.FFmpegPath = c.FFmpegPath
	sc.AC3Bitrate = c.AC3Bitrate
	sc.MP3Bitrate = c.MP3Bitrate
	sc.OpusBitrate = c.OpusBitrate
	sc.Gain = c.Gain
	sc.MaxLatency = c.MaxLatency
	sc.BlockSize = c.BlockSize
	sc.StateChangeTimeout = c.StateChangeTimeout
	return sc
}

// Address returns host:port of the destination.
func (c *SenderConfig) Address() string {
	return c.DatagramConfig().Address()
}

// SenderFactory creates datagram senders based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type SenderFactory struct {
	mu            sync.RWMutex
	defaultConfig *SenderConfig
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.DatagramConfig)

// NewSenderFactory creates a factory from the compiled-in defaults and any
// RTPSEND_* environment overrides.
func NewSenderFactory() *SenderFactory {
	config := DefaultConfig()
	applyEnvironmentOverrides(config)
	logConfigurationInfo(config)

	return &SenderFactory{defaultConfig: config}
}

// DefaultConfig returns the compiled-in defaults.
//
// Default Value Rationale:
//   - Host/Port: 127.0.0.1:5000, the receiver commands' defaults
//   - MTU: 1400 leaves room for tunnel overhead on a 1500 byte link
//   - MaxLatency: 200ms of queued media before the source is held off
//   - SwitchInterval: 5s between demo-mode format switches
func DefaultConfig() *SenderConfig {
	sc := av.DefaultStageConfig()
	return &SenderConfig{
		Host:               "127.0.0.1",
		Port:               5000,
		MTU:                limits.DefaultMTU,
		UseSimulation:      false,
		FFmpegPath:         sc.FFmpegPath,
		LogLevel:           "info",
		AC3Bitrate:         sc.AC3Bitrate,
		MP3Bitrate:         sc.MP3Bitrate,
		OpusBitrate:        sc.OpusBitrate,
		Gain:               1.0,
		MaxLatency:         sc.MaxLatency,
		BlockSize:          sc.BlockSize,
		StateChangeTimeout: sc.StateChangeTimeout,
		SwitchInterval:     5 * time.Second,
	}
}

// applyEnvironmentOverrides updates configuration based on environment variables.
// Invalid values are logged and ignored.
func applyEnvironmentOverrides(config *SenderConfig) {
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		config.Host = host
	}
	parseIntSetting(EnvPort, MinPort, MaxPort, &config.Port)
	parseIntSetting(EnvMTU, limits.MinMTU, limits.MaxDatagram, &config.MTU)
	parseIntSetting(EnvAC3Bitrate, MinAC3Bitrate, MaxAC3Bitrate, &config.AC3Bitrate)
	parseSimulationSetting(config)
	if path := strings.TrimSpace(os.Getenv(EnvFFmpeg)); path != "" {
		config.FFmpegPath = path
	}
	parseLogLevelSetting(config)
}

// parseIntSetting reads an integer variable within [min, max] into target.
func parseIntSetting(env string, min, max int, target *int) {
	raw := os.Getenv(env)
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     env,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if value < min || value > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     env,
			"value":       value,
			"min":         min,
			"max":         max,
			"using_value": *target,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*target = value
}

// parseSimulationSetting updates UseSimulation from RTPSEND_SIMULATE.
func parseSimulationSetting(config *SenderConfig) {
	raw := os.Getenv(EnvSimulate)
	if raw == "" {
		return
	}
	sim, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseSimulationSetting",
			"env_var":     EnvSimulate,
			"value":       raw,
			"error":       err.Error(),
			"using_value": config.UseSimulation,
		}).Warn("Failed to parse RTPSEND_SIMULATE environment variable, using default")
		return
	}
	config.UseSimulation = sim
}

// parseLogLevelSetting updates LogLevel from RTPSEND_LOG_LEVEL when logrus
// recognises it.
func parseLogLevelSetting(config *SenderConfig) {
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return
	}
	if _, err := logrus.ParseLevel(raw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseLogLevelSetting",
			"env_var":     EnvLogLevel,
			"value":       raw,
			"error":       err.Error(),
			"using_value": config.LogLevel,
		}).Warn("Failed to parse RTPSEND_LOG_LEVEL environment variable, using default")
		return
	}
	config.LogLevel = strings.ToLower(raw)
}

// logConfigurationInfo logs the final configuration settings.
func logConfigurationInfo(config *SenderConfig) {
	logrus.WithFields(logrus.Fields{
		"function":       "NewSenderFactory",
		"destination":    config.Address(),
		"mtu":            config.MTU,
		"use_simulation": config.UseSimulation,
		"ffmpeg":         config.FFmpegPath,
		"ac3_bitrate":    config.AC3Bitrate,
		"log_level":      config.LogLevel,
	}).Info("Created sender factory with configuration")
}

// CreateSender creates a datagram sender from the default configuration.
func (f *SenderFactory) CreateSender() (interfaces.DatagramSender, error) {
	f.mu.RLock()
	config := f.defaultConfig.DatagramConfig()
	f.mu.RUnlock()
	return f.CreateSenderWithConfig(config)
}

// CreateSenderWithConfig creates a datagram sender for config: a simulated
// one when UseSimulation is set, a UDP socket otherwise.
func (f *SenderFactory) CreateSenderWithConfig(config interfaces.DatagramConfig) (interfaces.DatagramSender, error) {
	logrus.WithFields(logrus.Fields{
		"function":       "CreateSenderWithConfig",
		"use_simulation": config.UseSimulation,
		"destination":    config.Address(),
	}).Info("Creating datagram sender")

	if config.UseSimulation {
		return testing.NewSimulatedSender(config), nil
	}

	sender, err := transport.NewUDPSender(config)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "CreateSenderWithConfig",
			"destination": config.Address(),
			"error":       err.Error(),
		}).Error("Failed to create UDP sender")
		return nil, fmt.Errorf("create UDP sender: %w", err)
	}
	return sender, nil
}

// WithFailAfter makes the simulated sender fail after n datagrams.
func WithFailAfter(n int) TestConfigOption {
	return func(c *interfaces.DatagramConfig) {
		c.FailAfter = n
	}
}

// WithDestination overrides the simulated destination.
func WithDestination(host string, port int) TestConfigOption {
	return func(c *interfaces.DatagramConfig) {
		c.Host = host
		c.Port = port
	}
}

// CreateSimulationForTesting creates a simulated sender for tests. The
// default destination is 127.0.0.1:5000.
func (f *SenderFactory) CreateSimulationForTesting(opts ...TestConfigOption) *testing.SimulatedSender {
	config := interfaces.DatagramConfig{
		UseSimulation: true,
		Host:          "127.0.0.1",
		Port:          5000,
	}
	for _, opt := range opts {
		opt(&config)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "CreateSimulationForTesting",
		"destination": config.Address(),
		"fail_after":  config.FailAfter,
	}).Info("Creating simulated sender for testing")

	return testing.NewSimulatedSender(config)
}

// SwitchToSimulation switches the configuration to use simulation
func (f *SenderFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to simulation mode")

	f.defaultConfig.UseSimulation = true
}

// SwitchToReal switches the configuration to use a real socket
func (f *SenderFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.defaultConfig.UseSimulation,
	}).Info("Switching factory to real mode")

	f.defaultConfig.UseSimulation = false
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *SenderFactory) GetCurrentConfig() *SenderConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *SenderFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.UseSimulation
}

// UpdateConfig replaces the factory's default configuration
func (f *SenderFactory) UpdateConfig(config *SenderConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Port < MinPort || config.Port > MaxPort {
		return fmt.Errorf("port %d outside %d..%d", config.Port, MinPort, MaxPort)
	}
	if err := limits.ValidateMTU(config.MTU); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "UpdateConfig",
		"old_destination": f.defaultConfig.Address(),
		"new_destination": config.Address(),
		"old_simulation":  f.defaultConfig.UseSimulation,
		"new_simulation":  config.UseSimulation,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c
	return nil
}
