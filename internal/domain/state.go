package domain

import "time"

// ConnectionState of an adapter's streaming channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the string representation.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectivityEvent is emitted on every connection state transition.
type ConnectivityEvent struct {
	Exchange ExchangeID      `json:"exchange"`
	From     ConnectionState `json:"from"`
	To       ConnectionState `json:"to"`
	// Attempt is the reconnect attempt counter at the time of the transition.
	Attempt int `json:"attempt"`
	// Delay is the backoff scheduled when entering Reconnecting.
	Delay time.Duration `json:"delay,omitempty"`
	Err   string        `json:"error,omitempty"`
	At    time.Time     `json:"at"`
}
