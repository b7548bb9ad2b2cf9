// Package kucoin is the KuCoin spot adapter. Tickers are pushed over the
// private socket next to balance updates, REST serves the rest.
package kucoin

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"github.com/vadiminshakov/exgate/internal/signer"
)

const DefaultBaseURL = "https://api.kucoin.com"

type Adapter struct {
	*adapter.Base
	cfg    adapter.Config
	rest   *rest.Client
	signer *signer.Engine
	nonce  *signer.Nonce
	now    func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds the adapter. The stream endpoint is handed out by the bullet
// token call, cfg.StreamURL is ignored.
func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, "")

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade, domain.CapabilityStream)
	base := adapter.NewBase(domain.KuCoin, cfg.Credential, true, caps, deps).WithProbe(cfg.Heartbeat)
	a := &Adapter{
		Base:   base,
		cfg:    cfg,
		rest:   rest.New(domain.KuCoin, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer: deps.Signer,
		nonce:  deps.Nonce,
		now:    time.Now,
	}
	if base.HasCredentials() {
		a.AttachStream(connmgr.New(domain.KuCoin, newStream(a), cfg.Stream, base.Logger(), connmgr.WithObserver(deps.Observer)))
	}
	return a
}

func public(path, query string) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		return rest.Request{Method: http.MethodGet, Path: path, Query: query}, nil
	}
}

func (a *Adapter) signed(method, path string, params map[string]any) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		s, err := a.signer.Sign(domain.KuCoin, signer.Request{Method: method, Path: path, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: method, Path: path, Query: s.Query, Body: s.Body, Header: s.Headers}, nil
	}
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		return a.rest.Do(ctx, "ping", public("/api/v1/timestamp", ""), nil)
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.KuCoin, "get ticker", err)
	}
	var stats normalizer.KuCoinStats
	err = a.rest.Do(ctx, "get ticker", public("/api/v1/market/stats", "symbol="+url.QueryEscape(pair.Join("-"))), &stats)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// unknown symbols answer 200000 with every field null
	if stats.Last == "" {
		return nil, nil
	}
	return normalizer.KuCoinTicker(&stats, pair, a.now())
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var accounts []normalizer.KuCoinAccount
	if err := a.rest.Do(ctx, "get balance", a.signed(http.MethodGet, "/api/v1/accounts", map[string]any{"type": "trade"}), &accounts); err != nil {
		return nil, err
	}
	return normalizer.KuCoinBalances(accounts)
}

type orderResponse struct {
	OrderID string `json:"orderId"`
}

func (a *Adapter) CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error) {
	if err := a.RequireCredentials("create order"); err != nil {
		return domain.Order{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	native, _ := ToNative(params.Symbol)
	if params.ClientOrderID == "" {
		params.ClientOrderID = uuid.NewString()
	}

	body := map[string]any{
		"clientOid": params.ClientOrderID,
		"symbol":    native,
		"side":      string(params.Side),
		"type":      string(params.Type),
		"size":      params.Quantity,
	}
	if params.Type == domain.OrderTypeLimit {
		body["price"] = params.Price.Decimal
	}

	var res orderResponse
	if err := a.rest.Do(ctx, "create order", a.signed(http.MethodPost, "/api/v1/orders", body), &res); err != nil {
		return domain.Order{}, err
	}
	return normalizer.KuCoinOrder(res.OrderID, params, a.now())
}

type cancelResponse struct {
	CancelledOrderIDs []string `json:"cancelledOrderIds"`
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	if _, err := ToNative(symbol); err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.KuCoin, "cancel order", err)
	}

	var res cancelResponse
	err := a.rest.Do(ctx, "cancel order", a.signed(http.MethodDelete, "/api/v1/orders/"+url.PathEscape(orderID), nil), &res)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, id := range res.CancelledOrderIDs {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}
