// Package binance is the Binance spot adapter.
package binance

import (
	"context"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
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
	DefaultBaseURL   = "https://api.binance.com"
	DefaultStreamURL = "wss://stream.binance.com:9443/ws"
	// listen keys expire after 60 minutes without a keepalive
	listenKeyKeepAlive = 30 * time.Minute
)

// Adapter talks to Binance through the go-binance client for public calls and
// through the shared signer for private ones.
type Adapter struct {
	*adapter.Base
	cfg    adapter.Config
	sdk    *sdk.Client
	rest   *rest.Client
	signer *signer.Engine
	nonce  *signer.Nonce
	now    func() time.Time
	// keepAlive is the listen key refresh period.
	keepAlive time.Duration
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the adapter. Without credentials it serves tickers only.
func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, DefaultStreamURL)

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade, domain.CapabilityStream)
	base := adapter.NewBase(domain.Binance, cfg.Credential, false, caps, deps).WithProbe(cfg.Heartbeat)

	client := sdk.NewClient(cfg.Credential.APIKey, cfg.Credential.APISecret)
	client.BaseURL = cfg.BaseURL
	client.HTTPClient = deps.HTTPClient

	a := &Adapter{
		Base:      base,
		cfg:       cfg,
		sdk:       client,
		rest:      rest.New(domain.Binance, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer:    deps.Signer,
		nonce:     deps.Nonce,
		now:       time.Now,
		keepAlive: listenKeyKeepAlive,
	}
	if base.HasCredentials() {
		a.AttachStream(connmgr.New(domain.Binance, &stream{a: a}, cfg.Stream, base.Logger(), connmgr.WithObserver(deps.Observer)))
	}
	return a
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, a.ping)
}

func (a *Adapter) ping(ctx context.Context) error {
	return a.Call(ctx, func(ctx context.Context) error {
		if err := a.rest.Wait(ctx); err != nil {
			return err
		}
		return a.sdkError("ping", a.sdk.NewPingService().Do(ctx))
	})
}

// sdkError maps go-binance errors onto the taxonomy.
func (a *Adapter) sdkError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		var typed *domain.Error
		if errors.As(classifyCode(apiErr.Code, apiErr.Message), &typed) {
			typed.Exchange = domain.Binance
			typed.Op = op
			return typed
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return domain.CanceledError(domain.Binance, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewError(domain.KindTimeout, domain.Binance, op, err)
	}
	return domain.NewError(domain.KindNetwork, domain.Binance, op, err)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.Binance, "get ticker", err)
	}

	var stats []*sdk.PriceChangeStats
	err = a.Call(ctx, func(ctx context.Context) error {
		if err := a.rest.Wait(ctx); err != nil {
			return err
		}
		var err error
		stats, err = a.sdk.NewListPriceChangeStatsService().Symbol(pair.Symbol()).Do(ctx)
		return a.sdkError("get ticker", err)
	})
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, nil
	}
	return normalizer.BinanceTicker(stats[0], pair, a.now())
}

// signed builds a signed request; params travel in the query string.
func (a *Adapter) signed(method, path string, params map[string]any) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		s, err := a.signer.Sign(domain.Binance, signer.Request{Method: method, Path: path, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: method, Path: path, Query: s.Query, Header: s.Headers}, nil
	}
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var acc sdk.Account
	if err := a.rest.Do(ctx, "get balance", a.signed(http.MethodGet, "/api/v3/account", nil), &acc); err != nil {
		return nil, err
	}
	return normalizer.BinanceBalances(domain.Binance, &acc)
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

	q := map[string]any{
		"symbol":           native,
		"side":             sideOf(params.Side),
		"type":             typeOf(params.Type),
		"quantity":         params.Quantity,
		"newClientOrderId": params.ClientOrderID,
		"newOrderRespType": string(sdk.NewOrderRespTypeRESULT),
	}
	if params.Type == domain.OrderTypeLimit {
		q["price"] = params.Price.Decimal
		q["timeInForce"] = string(sdk.TimeInForceTypeGTC)
	}

	var res sdk.CreateOrderResponse
	if err := a.rest.Do(ctx, "create order", a.signed(http.MethodPost, "/api/v3/order", q), &res); err != nil {
		return domain.Order{}, err
	}
	return normalizer.BinanceOrder(&res, params, a.now())
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	native, err := ToNative(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.Binance, "cancel order", err)
	}

	q := map[string]any{"symbol": native}
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		q["orderId"] = id
	} else {
		q["origClientOrderId"] = orderID
	}

	var res sdk.CancelOrderResponse
	err = a.rest.Do(ctx, "cancel order", a.signed(http.MethodDelete, "/api/v3/order", q), &res)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Status == sdk.OrderStatusTypeCanceled, nil
}

func sideOf(s domain.Side) string {
	if s == domain.SideSell {
		return string(sdk.SideTypeSell)
	}
	return string(sdk.SideTypeBuy)
}

func typeOf(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return string(sdk.OrderTypeLimit)
	}
	return string(sdk.OrderTypeMarket)
}
