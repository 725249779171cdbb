// Package testing provides simulation-based datagram delivery for
// deterministic testing of the sender.
//
// # Overview
//
// SimulatedSender mirrors transport.UDPSender but keeps every datagram in an
// in-memory delivery log. Tests build complete subgraphs on top of it and
// inspect exactly which RTP packets would have reached the wire.
//
// # Simulation vs Real Implementation
//
//   - Simulation (this package): datagrams are recorded, never transmitted.
//     Used for unit tests and for dry runs (RTPSEND_SIMULATE=true).
//
//   - Real (transport package): datagrams are written to a UDP socket.
//
// # Failure Injection
//
// DatagramConfig.FailAfter makes the simulated sender reject datagrams once
// a number of successful sends has been reached. This exercises the push
// rejection path of the live source end to end.
package testing
