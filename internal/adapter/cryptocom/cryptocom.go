// Package cryptocom is the Crypto.com Exchange v1 spot adapter. Private REST
// calls are JSON-RPC bodies posted to /private/<method>.
package cryptocom

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"github.com/vadiminshakov/exgate/internal/signer"
)

const (
	DefaultBaseURL   = "https://api.crypto.com/exchange/v1"
	DefaultStreamURL = "wss://stream.crypto.com/exchange/v1/user"
)

type Adapter struct {
	*adapter.Base
	cfg    adapter.Config
	rest   *rest.Client
	signer *signer.Engine
	nonce  *signer.Nonce
	ids    atomic.Int64
	now    func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, DefaultStreamURL)

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade, domain.CapabilityStream)
	base := adapter.NewBase(domain.CryptoCom, cfg.Credential, false, caps, deps).WithProbe(cfg.Heartbeat)
	a := &Adapter{
		Base:   base,
		cfg:    cfg,
		rest:   rest.New(domain.CryptoCom, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer: deps.Signer,
		nonce:  deps.Nonce,
		now:    time.Now,
	}
	if base.HasCredentials() {
		a.AttachStream(connmgr.New(domain.CryptoCom, &stream{a: a}, cfg.Stream, base.Logger(), connmgr.WithObserver(deps.Observer)))
	}
	return a
}

func public(method, query string) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		return rest.Request{Method: http.MethodGet, Path: "/" + method, Query: query}, nil
	}
}

// rpc signs method with a fresh nonce on every attempt; the request id stays.
func (a *Adapter) rpc(method string, params map[string]any) func() (rest.Request, error) {
	id := a.ids.Add(1)
	return func() (rest.Request, error) {
		s, err := a.signer.Sign(domain.CryptoCom, signer.Request{Method: method, ID: id, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: http.MethodPost, Path: "/" + method, Body: s.Body, Header: s.Headers}, nil
	}
}

type tickers struct {
	Data []normalizer.CryptoComTicker `json:"data"`
}

func (a *Adapter) tickers(ctx context.Context, op, instrument string) (*tickers, error) {
	var res tickers
	err := a.rest.Do(ctx, op, public("public/get-tickers", "instrument_name="+url.QueryEscape(instrument)), &res)
	return &res, err
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		_, err := a.tickers(ctx, "ping", "BTC_USDT")
		return err
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.CryptoCom, "get ticker", err)
	}
	res, err := a.tickers(ctx, "get ticker", pair.Join("_"))
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range res.Data {
		if strings.EqualFold(res.Data[i].Instrument, pair.Join("_")) {
			return normalizer.CryptoComTickerOf(&res.Data[i], pair, a.now())
		}
	}
	return nil, nil
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var res normalizer.CryptoComBalances
	if err := a.rest.Do(ctx, "get balance", a.rpc("private/user-balance", nil), &res); err != nil {
		return nil, err
	}
	return normalizer.CryptoComBalancesOf(&res)
}

func (a *Adapter) CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error) {
	if err := a.RequireCredentials("create order"); err != nil {
		return domain.Order{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	instrument, _ := ToNative(params.Symbol)
	if params.ClientOrderID == "" {
		params.ClientOrderID = uuid.NewString()
	}

	p := map[string]any{
		"instrument_name": instrument,
		"side":            strings.ToUpper(string(params.Side)),
		"type":            strings.ToUpper(string(params.Type)),
		"quantity":        params.Quantity.String(),
		"client_oid":      params.ClientOrderID,
	}
	if params.Type == domain.OrderTypeLimit {
		p["price"] = params.Price.Decimal.String()
	}

	var res normalizer.CryptoComOrderResult
	if err := a.rest.Do(ctx, "create order", a.rpc("private/create-order", p), &res); err != nil {
		return domain.Order{}, err
	}
	return normalizer.CryptoComOrder(&res, params, a.now())
}

// CancelOrder is asynchronous on Crypto.com: code 0 means the request was accepted.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	if orderID == "" {
		return false, domain.NewError(domain.KindInvalidRequest, domain.CryptoCom, "cancel order", errors.New("empty order id"))
	}
	if _, err := ToNative(symbol); err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.CryptoCom, "cancel order", err)
	}

	err := a.rest.Do(ctx, "cancel order", a.rpc("private/cancel-order", map[string]any{"order_id": orderID}), nil)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
