// Package limits provides centralized datagram and payload size limits for
// the RTP sender. Payloaders and the datagram senders validate against the
// same numbers so a packet accepted upstream is never refused on the wire.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultMTU is the link MTU assumed when none is configured. It matches
	// the mtu property default of common RTP payloaders.
	DefaultMTU = 1400

	// MinMTU is the smallest MTU a payloader will accept. Anything lower
	// cannot carry an AC-3 payload header plus useful data.
	MinMTU = 64

	// MaxDatagram is the largest UDP payload that can be sent over IPv4
	// (65535 - 8 byte UDP header - 20 byte IP header).
	MaxDatagram = 65507

	// RTPHeaderSize is the fixed RTP header without CSRCs or extensions.
	RTPHeaderSize = 12

	// MaxProcessingBuffer is the absolute maximum for a single pushed buffer.
	// It bounds what a producer may hand to the live source (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates payload exceeds maximum size
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidMTU indicates an MTU outside MinMTU..MaxDatagram
	ErrInvalidMTU = errors.New("invalid MTU")
)

// ValidatePayloadSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateMTU checks that mtu can carry at least an RTP header and a minimal payload.
func ValidateMTU(mtu int) error {
	if mtu < MinMTU || mtu > MaxDatagram {
		return fmt.Errorf("%w: %d outside %d..%d", ErrInvalidMTU, mtu, MinMTU, MaxDatagram)
	}
	return nil
}

// MaxRTPPayload returns the payload room left in an RTP packet of size mtu.
func MaxRTPPayload(mtu int) int {
	return mtu - RTPHeaderSize
}

// ValidateDatagram validates an outgoing datagram against MaxDatagram.
// Returns an error with context if the datagram is empty or exceeds the limit.
func ValidateDatagram(datagram []byte) error {
	if len(datagram) == 0 {
		return ErrPayloadEmpty
	}
	if len(datagram) > MaxDatagram {
		return fmt.Errorf("%w: datagram size %d exceeds limit %d", ErrPayloadTooLarge, len(datagram), MaxDatagram)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum (MaxProcessingBuffer).
// Returns an error with context if the data is empty or exceeds the limit.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrPayloadEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrPayloadTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
