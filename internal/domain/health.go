package domain

import "time"

// AdapterHealth is an immutable snapshot of one adapter's health.
type AdapterHealth struct {
	Exchange             ExchangeID      `json:"exchange"`
	State                ConnectionState `json:"connection_state"`
	Connected            bool            `json:"connected"`
	LastSuccessfulCallAt time.Time       `json:"last_successful_call_at"`
	ConsecutiveFailures  int             `json:"consecutive_failures"`
	Capabilities         []Capability    `json:"capabilities"`
	LastError            string          `json:"last_error,omitempty"`
}
