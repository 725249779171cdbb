package rtp

import "errors"

var (
	// ErrClosed indicates use of a payloader or sink after Close
	ErrClosed = errors.New("rtp stage closed")

	// ErrInvalidClockRate indicates a zero RTP clock rate
	ErrInvalidClockRate = errors.New("invalid clock rate")

	// ErrMTUTooSmall indicates an MTU that cannot carry one payload unit
	ErrMTUTooSmall = errors.New("mtu too small for payload")

	// ErrUnexpectedSSRC indicates a packet from a stream other than the one being tracked
	ErrUnexpectedSSRC = errors.New("unexpected SSRC")

	// ErrMalformedPayload indicates a payload header that cannot be parsed
	ErrMalformedPayload = errors.New("malformed payload")
)
