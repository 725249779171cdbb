// Package factory builds the configuration and the datagram sender of an
// rtpsend session.
//
// A SenderFactory starts from compiled-in defaults, applies RTPSEND_*
// environment overrides and then hands out either a real UDP sender or a
// simulated one that records every datagram in memory.
//
// # Configuration
//
// Environment variables read by NewSenderFactory:
//   - RTPSEND_HOST: destination host
//   - RTPSEND_PORT: destination port (1..65535)
//   - RTPSEND_MTU: payloader MTU (64..65507)
//   - RTPSEND_SIMULATE: "true" or "false" to record instead of send
//   - RTPSEND_FFMPEG: path of the ffmpeg binary used by the AC-3 encoder
//   - RTPSEND_LOG_LEVEL: a logrus level name
//   - RTPSEND_AC3_BITRATE: AC-3 bitrate in bits per second (32000..640000)
//
// Invalid or out of range values are logged and the default is kept.
//
// # Usage
//
//	f := factory.NewSenderFactory()
//	sender, err := f.CreateSender()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sender.Close()
//
//	cfg := f.GetCurrentConfig()
//	mgr, err := av.NewManager(src, nil, nil, sender, cfg.StageConfig())
//
// Tests use CreateSimulationForTesting:
//
//	sim := f.CreateSimulationForTesting(factory.WithFailAfter(3))
package factory
