package interfaces

import (
	"net"
	"strconv"
	"time"
)

// DatagramSender defines the interface for datagram delivery operations.
// This abstraction allows switching between simulation and real network implementations.
type DatagramSender interface {
	// Send delivers one datagram to the configured destination
	Send(datagram []byte) error

	// RemoteAddr returns the destination address
	RemoteAddr() net.Addr

	// Stats returns delivery counters
	Stats() DeliveryStats

	// Close releases the underlying socket
	Close() error

	// IsSimulation returns true if this is a simulation implementation
	IsSimulation() bool
}

// DeliveryStats holds counters maintained by a DatagramSender.
type DeliveryStats struct {
	Datagrams uint64
	Bytes     uint64
	Failures  uint64
	LastSend  time.Time
}

// DatagramConfig holds configuration for datagram sender implementations
type DatagramConfig struct {
	// UseSimulation determines whether to use simulation or real network
	UseSimulation bool

	// Host is the destination host name or address
	Host string

	// Port is the destination UDP port
	Port int

	// WriteTimeout bounds a single socket write in milliseconds (0 disables)
	WriteTimeout int

	// FailAfter makes a simulated sender reject every datagram after this
	// many successful ones (0 never fails). Ignored by real senders.
	FailAfter int
}

// Address returns host:port for the configured destination.
func (c DatagramConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
