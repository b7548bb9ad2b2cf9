// Package adapter defines the contract every exchange adapter implements and the
// plumbing they share: credential gating, reachability, stream attachment.
package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/signer"
	"go.uber.org/zap"
)

// Adapter is the unified capability surface of one exchange.
type Adapter interface {
	ID() domain.ExchangeID
	Capabilities() domain.Capabilities
	// Initialize checks public reachability and, with credentials, opens the private stream.
	Initialize(ctx context.Context) error
	GetBalance(ctx context.Context) ([]domain.Balance, error)
	// GetTicker returns nil, nil when the venue does not list symbol.
	GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	IsConnected() bool
	State() domain.ConnectionState
	Close() error
}

// TickerSink receives streamed tickers in receipt order.
type TickerSink func(domain.Ticker)

// Config is the per-adapter configuration.
type Config struct {
	Credential domain.Credential
	BaseURL    string
	StreamURL  string
	// Symbols are canonical symbols subscribed on the stream.
	Symbols        []string
	RequestTimeout time.Duration
	// RateLimit is requests per second, Burst the bucket size.
	RateLimit float64
	Burst     int
	Stream    connmgr.Policy
	Heartbeat time.Duration
}

// Deps are the collaborators injected into every adapter.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Signer     *signer.Engine
	Nonce      *signer.Nonce
	Observer   connmgr.Observer
	Sink       TickerSink
}

// WithDefaults fills unset collaborators.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{}
	}
	if d.Signer == nil {
		d.Signer = signer.NewEngine()
	}
	if d.Nonce == nil {
		d.Nonce = signer.NewNonce()
	}
	return d
}

// WithDefaults fills unset limits.
func (c Config) WithDefaults(baseURL, streamURL string) Config {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.StreamURL == "" {
		c.StreamURL = streamURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 20 * time.Second
	}
	return c
}
