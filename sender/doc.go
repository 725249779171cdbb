// Package sender runs a sending session: a live source, the graph manager
// and a cooperative loop tied together by the bus policy.
//
// The policy:
//   - end of stream quits the loop cleanly
//   - an error quits the loop and Run returns it
//   - warnings are logged
//   - state changes of the top-level pipeline are logged
//   - format-detected schedules a reconfigure from an idle callback
//   - format-switched notifies observers
//
// Modes:
//
//	demo    the input starts on the first switch kind and a timer alternates kinds
//	detect  the first inspected buffer decides the format
//	fixed   one format for the whole session
//
// Example:
//
//	tone, _ := source.NewToneProducer(media.DefaultDescriptor())
//	s, err := sender.New(sender.Config{Mode: sender.ModeDemo}, tone, udp, av.DefaultStageConfig())
//	if err != nil {
//	    return err
//	}
//	return s.Run(ctx)
package sender
