// Package av implements the dynamic reconfiguration engine of the sender.
//
// A Manager owns one live source head and at most one Subgraph: an owned
// chain of stages that converts, encodes, payloads and finally transmits
// audio. Switching formats pauses the source, tears the old subgraph down
// and builds a new one, while the source itself stays live.
//
// # Recipes and builders
//
// Every format kind has a Recipe, an ordered list of roles. Each role lists
// the stage kinds to try, in order:
//
//	pcm:  convert → resample → payload[rtpL16pay] → sink
//	ac3:  convert → resample → encode[avenc_ac3, lamemp3enc]
//	      → parse[ac3parse, mpegaudioparse] → payload[rtpac3pay, rtpmpapay] → sink
//	opus: convert → resample → encode[opusenc] → payload[rtpopuspay] → sink
//
// A Registry maps each StageKind to a Builder. A builder that fails with
// ErrStageUnavailable or ErrCapsMismatch passes the role to its next
// attempt, which is how a host without ffmpeg falls back to MP3: the AC3
// parser refuses MPEG caps, so parse and payload fall through as well.
//
// # Lifecycle
//
//	m, err := av.NewManager(src, av.DefaultRegistry(), b, sender, av.DefaultStageConfig())
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	err = m.Reconfigure(src.Descriptor().WithKind(media.KindAc3))
//
// A failed reconfiguration leaves no subgraph attached, moves the manager to
// StateError and publishes a bus error. Error is terminal for the session.
//
// # Feed protocol
//
// PollDemand compares the media time pushed since the subgraph started
// playing against wall time. Below MaxLatency the source is asked for more
// data; above it the source is told to hold off.
//
// # Detection
//
// StartDetection installs a tap on the source that runs a probe.Probe on
// each buffer and publishes a format-detected message once it decides.
//
// # Deterministic testing
//
// The manager reads the clock through a TimeProvider:
//
//	m.SetTimeProvider(mockClock)
package av
