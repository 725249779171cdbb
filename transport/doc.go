// Package transport implements the UDP side of the sender: a connected
// unicast sender used by the network sink of every subgraph, and a listener
// used by the receiver check tool.
//
// # Sending
//
//	sender, err := transport.NewUDPSender(interfaces.DatagramConfig{
//	    Host: "127.0.0.1",
//	    Port: 5000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer sender.Close()
//	err = sender.Send(rtpPacket)
//
// # Receiving
//
//	listener, err := transport.NewUDPListener(":5000")
//	listener.RegisterHandler(func(data []byte, addr net.Addr) error {
//	    // parse RTP
//	    return nil
//	})
//	err = listener.Serve(ctx)
//
// Handlers run on the listener goroutine and receive a buffer that is only
// valid for the duration of the call.
package transport
