// Package source provides the live entry point of the sending graph and the
// producers that feed it.
//
// A LiveSource pulls from a Producer whenever the graph signals demand
// (RequestMoreData) and pushes the buffer into the single linked pad. It
// never queues: NotifyBackpressure simply holds generation until the next
// demand signal. The first rejected push ends the stream with one EOS
// message on the bus.
//
// Producers:
//
//   - ToneProducer: 440 Hz sine in 0.1s chunks
//   - PatternProducer: silent chunks, buffers 20..39 marked with the AC-3 sync word
//   - FileProducer: raw, WAV, MP3, FLAC or Ogg Vorbis input in 4096 byte chunks
//   - CaptureProducer: the default input device through portaudio
//
// Example:
//
//	tone, _ := source.NewToneProducer(media.DefaultDescriptor())
//	src := source.New(tone, b)
//	mgr, err := av.NewManager(src, nil, b, sender, cfg)
package source
