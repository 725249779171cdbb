// Package interfaces defines the datagram delivery abstraction used by the
// network sink of every subgraph.
//
// This package enables switching between the real UDP implementation and a
// recording simulation, supporting both live sending and deterministic
// testing with the same subgraph code.
//
// # Core Interfaces
//
// [DatagramSender] is the contract the sink stage writes RTP packets into:
//
//	sender, err := factory.NewSenderFactory().CreateSender()
//	if err != nil {
//	    return err
//	}
//	defer sender.Close()
//	err = sender.Send(rtpPacket)
//
// [DatagramConfig] selects the implementation and destination.
//
// # Implementations
//
//   - transport.UDPSender: unicast UDP using net.UDPConn
//   - testing.SimulatedSender: records datagrams in memory for verification
//
// The factory package chooses between them from configuration and the
// RTPSEND_* environment variables.
package interfaces
