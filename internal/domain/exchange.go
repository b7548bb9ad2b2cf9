package domain

import (
	"sort"
	"strings"
)

// ExchangeID identifies a venue.
type ExchangeID string

const (
	Binance     ExchangeID = "binance"
	Bybit       ExchangeID = "bybit"
	OKX         ExchangeID = "okx"
	KuCoin      ExchangeID = "kucoin"
	CryptoCom   ExchangeID = "cryptocom"
	MEXC        ExchangeID = "mexc"
	Hyperliquid ExchangeID = "hyperliquid"
	Simulate    ExchangeID = "simulate"
)

// AllExchanges is a pseudo id addressing every adapter.
const AllExchanges ExchangeID = "all"

// String returns the string representation.
func (id ExchangeID) String() string {
	return string(id)
}

// ParseExchangeID normalises user input.
func ParseExchangeID(s string) ExchangeID {
	return ExchangeID(strings.ToLower(strings.TrimSpace(s)))
}

// Capability is an operation group an adapter supports.
type Capability string

const (
	CapabilityTicker  Capability = "ticker"
	CapabilityBalance Capability = "balance"
	CapabilityTrade   Capability = "trade"
	CapabilityStream  Capability = "stream"
)

// Capabilities is a set of capabilities.
type Capabilities map[Capability]struct{}

// NewCapabilities builds a set.
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is in the set.
func (c Capabilities) Has(capability Capability) bool {
	_, ok := c[capability]
	return ok
}

// List returns the capabilities sorted by name.
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
