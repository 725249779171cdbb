// Package audio provides the audio stages used by the sender's processing
// graph.
//
// Every stage consumes and produces media.Buffer values and reports its
// sink and source caps, so the graph manager can check links before data
// flows:
//
//	Converter      any bit depth / channel layout → S16LE
//	ResampleStage  linear interpolation to the recipe rate
//	AC3Encoder     S16LE → AC3 through an ffmpeg child process
//	MP3Encoder     S16LE → MPEG-1 Layer III through lame
//	OpusEncoder    S16LE → 20ms Opus packets through libopus
//	FrameParser    AC3 or MPEG audio elementary stream → whole frames
//
// OpusDecoder is the receive-side counterpart used by the check tool.
//
// # Encoder availability
//
// Encoders that depend on something outside the process report
// ErrEncoderUnavailable at construction time:
//
//	enc, err := audio.NewAC3Encoder(audio.AC3EncoderConfig{SampleRate: 48000, Channels: 2})
//	if errors.Is(err, audio.ErrEncoderUnavailable) {
//	    // try the MP3 fallback
//	}
//
// Stages are not safe for concurrent use. The graph calls them from the
// driver loop only; the AC3 encoder's pipe readers synchronise internally.
package audio
