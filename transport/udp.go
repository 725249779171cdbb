package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/limits"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned when operating on a closed transport.
var ErrClosed = errors.New("transport closed")

// UDPSender implements interfaces.DatagramSender over a connected UDP socket.
type UDPSender struct {
	conn         *net.UDPConn
	remoteAddr   *net.UDPAddr
	writeTimeout time.Duration
	stats        interfaces.DeliveryStats
	closed       bool
	mu           sync.Mutex
}

// NewUDPSender resolves the configured destination and opens a socket to it.
//
// Parameters:
//   - config: Destination and write timeout
//
// Returns:
//   - *UDPSender: Connected sender
//   - error: Resolution or socket error
func NewUDPSender(config interfaces.DatagramConfig) (*UDPSender, error) {
	address := config.Address()
	logrus.WithFields(logrus.Fields{
		"function": "NewUDPSender",
		"address":  address,
	}).Info("Creating UDP sender")

	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUDPSender",
			"address":  address,
			"error":    err.Error(),
		}).Error("Failed to resolve destination")
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUDPSender",
			"address":  address,
			"error":    err.Error(),
		}).Error("Failed to open UDP socket")
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	sender := &UDPSender{
		conn:         conn,
		remoteAddr:   raddr,
		writeTimeout: time.Duration(config.WriteTimeout) * time.Millisecond,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPSender",
		"local_addr": conn.LocalAddr().String(),
		"remote":     raddr.String(),
	}).Info("UDP sender created successfully")

	return sender, nil
}

// Send writes one datagram to the destination.
func (s *UDPSender) Send(datagram []byte) error {
	if err := limits.ValidateDatagram(datagram); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}

	n, err := s.conn.Write(datagram)
	if err != nil {
		s.stats.Failures++
		logrus.WithFields(logrus.Fields{
			"function":    "UDPSender.Send",
			"packet_size": len(datagram),
			"remote":      s.remoteAddr.String(),
			"error":       err.Error(),
		}).Error("Failed to send datagram")
		return fmt.Errorf("udp write: %w", err)
	}

	s.stats.Datagrams++
	s.stats.Bytes += uint64(n)
	s.stats.LastSend = time.Now()
	return nil
}

// RemoteAddr returns the destination address.
func (s *UDPSender) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr returns the local socket address.
func (s *UDPSender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Stats returns delivery counters.
func (s *UDPSender) Stats() interfaces.DeliveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// IsSimulation returns false.
func (s *UDPSender) IsSimulation() bool {
	return false
}

// Close shuts down the socket. Calling Close twice is harmless.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	logrus.WithFields(logrus.Fields{
		"function":  "UDPSender.Close",
		"datagrams": s.stats.Datagrams,
		"bytes":     s.stats.Bytes,
	}).Info("Closing UDP sender")

	return s.conn.Close()
}

// DatagramHandler processes one received datagram.
type DatagramHandler func(data []byte, addr net.Addr) error

// UDPListener receives datagrams and hands them to a handler.
type UDPListener struct {
	conn    net.PacketConn
	handler DatagramHandler
	mu      sync.RWMutex
}

// NewUDPListener creates a new UDP listener.
func NewUDPListener(listenAddr string) (*UDPListener, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPListener",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP listener created")

	return &UDPListener{conn: conn}, nil
}

// RegisterHandler sets the handler for incoming datagrams.
func (l *UDPListener) RegisterHandler(handler DatagramHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// LocalAddr returns the bound address.
func (l *UDPListener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
func (l *UDPListener) Serve(ctx context.Context) error {
	buffer := make([]byte, limits.MaxDatagram)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, addr, err := l.readPacketData(buffer)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		l.mu.RLock()
		handler := l.handler
		l.mu.RUnlock()
		if handler == nil {
			continue
		}
		if err := handler(data, addr); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UDPListener.Serve",
				"from":     addr.String(),
				"size":     len(data),
				"error":    err.Error(),
			}).Warn("Datagram handler failed")
		}
	}
}

// readPacketData reads data from the connection with timeout handling.
func (l *UDPListener) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	// Set read deadline so cancellation is noticed
	_ = l.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, addr, err := l.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:n], addr, nil
}

// Close shuts down the listener.
func (l *UDPListener) Close() error {
	return l.conn.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
