// Package rtp provides the RTP payloaders, the UDP sink stage and the
// receive-side depacketizer used by the sender and its check tool.
//
// It uses the pion/rtp library for standards-compliant RTP headers.
//
// # Payloaders
//
// Each payloader is a graph stage that turns one media buffer into one or
// more marshalled RTP packets:
//
//	L16Payloader   S16LE → L16 (network byte order), PT 96, clock = sample rate
//	AC3Payloader   AC3 frames → RFC 4184, PT 96, clock = sample rate
//	MPAPayloader   MPEG audio frames → RFC 2250, PT 14, 90kHz clock
//	OpusPayloader  Opus packets → RFC 7587, PT 96, 48kHz clock
//
// Every payloader owns a Packetizer with a random SSRC generated from
// crypto/rand. Sequence numbers increase by one per packet and timestamps
// follow the media time of the buffers, so a rebuilt subgraph starts a new
// stream rather than continuing the old one.
//
// # Sink
//
// UDPSink ends every subgraph. It writes datagrams to a shared
// interfaces.DatagramSender that outlives any one subgraph:
//
//	sink := rtp.NewUDPSink(sender, func(err error) { log.Println(err) })
//	_, err := sink.Process(media.Buffer{Payload: packet})
//
// # Receiving
//
// Depacketizer parses datagrams, follows SSRC changes and counts sequence
// gaps. AC3Reassembler and MPAReassembler undo fragmentation:
//
//	d := rtp.NewDepacketizer()
//	pkt, err := d.Process(datagram)
//	if err == nil && pkt.PayloadType == rtp.PayloadTypeMPA {
//	    frame, _ := mpa.Push(pkt.Payload)
//	}
package rtp
