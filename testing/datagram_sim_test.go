package testing

import (
	"errors"
	stdtesting "testing"

	"github.com/opd-ai/rtpsend/interfaces"
)

func TestSimulatedSenderRecordsDatagrams(t *stdtesting.T) {
	s := NewSimulatedSender(interfaces.DatagramConfig{Host: "127.0.0.1", Port: 5000})

	if err := s.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send([]byte{4}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	delivered := s.Delivered()
	if len(delivered) != 2 {
		t.Fatalf("expected 2 datagrams, got %d", len(delivered))
	}
	if delivered[1][0] != 4 {
		t.Errorf("unexpected second datagram %v", delivered[1])
	}

	stats := s.Stats()
	if stats.Datagrams != 2 || stats.Bytes != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if !s.IsSimulation() {
		t.Error("IsSimulation() = false")
	}
	if s.RemoteAddr().String() != "127.0.0.1:5000" {
		t.Errorf("RemoteAddr() = %s", s.RemoteAddr())
	}
}

func TestSimulatedSenderCopiesPayload(t *stdtesting.T) {
	s := NewSimulatedSender(interfaces.DatagramConfig{Host: "127.0.0.1", Port: 5000})
	buf := []byte{9, 9}
	_ = s.Send(buf)
	buf[0] = 0

	if got := s.Delivered()[0][0]; got != 9 {
		t.Errorf("delivery log aliases caller buffer: got %d", got)
	}
}

func TestSimulatedSenderFailAfter(t *stdtesting.T) {
	s := NewSimulatedSender(interfaces.DatagramConfig{Host: "127.0.0.1", Port: 5000, FailAfter: 2})

	for i := 0; i < 2; i++ {
		if err := s.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("send %d failed early: %v", i, err)
		}
	}
	err := s.Send([]byte{2})
	if !errors.Is(err, ErrSimulatedFailure) {
		t.Fatalf("expected ErrSimulatedFailure, got %v", err)
	}
	if s.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Stats().Failures)
	}
	if len(s.GetDeliveryLog()) != 3 {
		t.Errorf("delivery log length = %d, want 3", len(s.GetDeliveryLog()))
	}
}

func TestSimulatedSenderClosedAndEmpty(t *stdtesting.T) {
	s := NewSimulatedSender(interfaces.DatagramConfig{Host: "127.0.0.1", Port: 5000})

	if err := s.Send(nil); err == nil {
		t.Error("expected error for empty datagram")
	}

	_ = s.Close()
	if err := s.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("expected ErrSenderClosed, got %v", err)
	}

	s.ClearDeliveryLog()
	if len(s.GetDeliveryLog()) != 0 {
		t.Error("ClearDeliveryLog left records")
	}
}
