package rtp

import (
	"errors"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/limits"
	"github.com/opd-ai/rtpsend/media"
)

// Statistics counts what a sink handed to the network.
type Statistics struct {
	PacketsSent  uint64
	OctetsSent   uint64
	SendFailures uint64
}

// UDPSink is the terminal stage of every subgraph. It hands each RTP
// datagram to a shared DatagramSender. The sender outlives the sink, so
// swapping subgraphs never closes the socket.
//
// Transient send failures (for instance ICMP port unreachable on a connected
// socket with no listener) are counted, and the first of every hundred is
// reported through onError; they do not fail the stage. Oversized datagrams do.
type UDPSink struct {
	name    string
	sender  interfaces.DatagramSender
	onError func(error)

	packets  atomic.Uint64
	octets   atomic.Uint64
	failures atomic.Uint64
	closed   atomic.Bool
}

// NewUDPSink creates a sink on sender. onError may be nil.
func NewUDPSink(sender interfaces.DatagramSender, onError func(error)) *UDPSink {
	return &UDPSink{
		name:    "udpsink-" + xid.New().String(),
		sender:  sender,
		onError: onError,
	}
}

// Name returns the stage instance name.
func (s *UDPSink) Name() string { return s.name }

// Caps accepts RTP and produces nothing.
func (s *UDPSink) Caps() (sink, src media.Caps) {
	return media.Caps{Encoding: media.EncodingRTP}, media.Caps{}
}

// Process sends one datagram.
func (s *UDPSink) Process(buf media.Buffer) ([]media.Buffer, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	if err := s.sender.Send(buf.Payload); err != nil {
		if errors.Is(err, limits.ErrPayloadTooLarge) || errors.Is(err, limits.ErrPayloadEmpty) {
			return nil, err
		}
		n := s.failures.Add(1)
		if n == 1 || n%100 == 0 {
			logrus.WithFields(logrus.Fields{
				"function": "UDPSink.Process",
				"name":     s.name,
				"failures": n,
				"error":    err.Error(),
			}).Warn("Datagram send failed")
			if s.onError != nil {
				s.onError(err)
			}
		}
		return nil, nil
	}

	s.packets.Add(1)
	s.octets.Add(uint64(len(buf.Payload)))
	return nil, nil
}

// Stats returns a snapshot of the sink counters. Safe from any goroutine.
func (s *UDPSink) Stats() Statistics {
	return Statistics{
		PacketsSent:  s.packets.Load(),
		OctetsSent:   s.octets.Load(),
		SendFailures: s.failures.Load(),
	}
}

// Close detaches the sink. The shared sender stays open.
func (s *UDPSink) Close() error {
	s.closed.Store(true)
	return nil
}
