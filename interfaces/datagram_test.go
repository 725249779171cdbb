package interfaces

import "testing"

func TestDatagramConfigAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatagramConfig
		want string
	}{
		{"loopback", DatagramConfig{Host: "127.0.0.1", Port: 5000}, "127.0.0.1:5000"},
		{"ipv6", DatagramConfig{Host: "::1", Port: 5004}, "[::1]:5004"},
		{"hostname", DatagramConfig{Host: "receiver.local", Port: 6000}, "receiver.local:6000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Address(); got != tt.want {
				t.Errorf("Address() = %q, want %q", got, tt.want)
			}
		})
	}
}
