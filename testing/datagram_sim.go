package testing

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rtpsend/interfaces"
	"github.com/opd-ai/rtpsend/limits"
	"github.com/sirupsen/logrus"
)

// ErrSimulatedFailure is returned once the configured FailAfter budget is spent.
var ErrSimulatedFailure = errors.New("simulated delivery failure")

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("simulated sender closed")

// SimulatedSender implements interfaces.DatagramSender in memory
type SimulatedSender struct {
	deliveryLog []DeliveryRecord
	config      interfaces.DatagramConfig
	addr        net.Addr
	stats       interfaces.DeliveryStats
	closed      bool
	mu          sync.RWMutex
}

// DeliveryRecord represents a datagram delivery event for testing verification
type DeliveryRecord struct {
	Data      []byte
	Timestamp time.Time
	Success   bool
	Error     error
}

// NewSimulatedSender creates a new simulation implementation for testing
func NewSimulatedSender(config interfaces.DatagramConfig) *SimulatedSender {
	logrus.WithFields(logrus.Fields{
		"function":   "NewSimulatedSender",
		"host":       config.Host,
		"port":       config.Port,
		"fail_after": config.FailAfter,
	}).Info("Creating simulated datagram sender")

	return &SimulatedSender{
		deliveryLog: make([]DeliveryRecord, 0),
		config:      config,
		addr:        &net.UDPAddr{IP: net.ParseIP(config.Host), Port: config.Port},
	}
}

// Send implements DatagramSender.Send with simulation
func (s *SimulatedSender) Send(datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := DeliveryRecord{
		Data:      append([]byte(nil), datagram...),
		Timestamp: time.Now(),
	}

	var err error
	switch {
	case s.closed:
		err = ErrSenderClosed
	case s.config.FailAfter > 0 && int(s.stats.Datagrams) >= s.config.FailAfter:
		err = fmt.Errorf("%w after %d datagrams", ErrSimulatedFailure, s.stats.Datagrams)
	default:
		err = limits.ValidateDatagram(datagram)
	}

	if err != nil {
		record.Error = err
		s.deliveryLog = append(s.deliveryLog, record)
		s.stats.Failures++

		logrus.WithFields(logrus.Fields{
			"function":    "SimulatedSender.Send",
			"packet_size": len(datagram),
			"error":       err.Error(),
		}).Debug("Simulated datagram rejected")
		return err
	}

	record.Success = true
	s.deliveryLog = append(s.deliveryLog, record)
	s.stats.Datagrams++
	s.stats.Bytes += uint64(len(datagram))
	s.stats.LastSend = record.Timestamp

	logrus.WithFields(logrus.Fields{
		"function":         "SimulatedSender.Send",
		"packet_size":      len(datagram),
		"total_deliveries": s.stats.Datagrams,
	}).Trace("Datagram delivery simulated")

	return nil
}

// RemoteAddr implements DatagramSender.RemoteAddr
func (s *SimulatedSender) RemoteAddr() net.Addr {
	return s.addr
}

// Stats implements DatagramSender.Stats
func (s *SimulatedSender) Stats() interfaces.DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Close implements DatagramSender.Close
func (s *SimulatedSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	logrus.WithFields(logrus.Fields{
		"function":  "SimulatedSender.Close",
		"datagrams": s.stats.Datagrams,
		"failures":  s.stats.Failures,
	}).Info("Simulated datagram sender closed")
	return nil
}

// IsSimulation implements DatagramSender.IsSimulation
func (s *SimulatedSender) IsSimulation() bool {
	return true
}

// GetDeliveryLog returns the complete delivery log for test verification
func (s *SimulatedSender) GetDeliveryLog() []DeliveryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Return a copy to prevent external modifications
	log := make([]DeliveryRecord, len(s.deliveryLog))
	copy(log, s.deliveryLog)
	return log
}

// Delivered returns the payloads of every successful send in order.
func (s *SimulatedSender) Delivered() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, 0, len(s.deliveryLog))
	for _, r := range s.deliveryLog {
		if r.Success {
			out = append(out, r.Data)
		}
	}
	return out
}

// ClearDeliveryLog clears the delivery log for test cleanup
func (s *SimulatedSender) ClearDeliveryLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryLog = make([]DeliveryRecord, 0)
}
