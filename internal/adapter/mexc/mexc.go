// Package mexc is the MEXC spot adapter. The API mirrors Binance's v3 dialect, so
// responses decode into go-binance wire types. REST only.
package mexc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"github.com/vadiminshakov/exgate/internal/signer"
)

const DefaultBaseURL = "https://api.mexc.com"

type Adapter struct {
	*adapter.Base
	rest   *rest.Client
	signer *signer.Engine
	nonce  *signer.Nonce
	now    func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, "")

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade)
	base := adapter.NewBase(domain.MEXC, cfg.Credential, false, caps, deps).WithProbe(cfg.Heartbeat)
	return &Adapter{
		Base:   base,
		rest:   rest.New(domain.MEXC, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer: deps.Signer,
		nonce:  deps.Nonce,
		now:    time.Now,
	}
}

type apiError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

func codec(status int, body []byte, out any) error {
	if status < http.StatusBadRequest {
		return rest.JSON(status, body, out)
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
		return nil
	}
	c := strconv.FormatInt(e.Code, 10)
	switch e.Code {
	case 700001, 700002, 700003, 700006, 10072:
		return rest.AuthFailed(c, e.Msg)
	case 429, 510:
		return rest.RateLimited(c, e.Msg)
	case -1121, -2011, -2013:
		ne := domain.NewError(domain.KindNotFound, "", "", errors.New(e.Msg))
		ne.Code = c
		return ne
	}
	if rest.ContainsLimitHint(e.Msg) {
		return rest.RateLimited(c, e.Msg)
	}
	return rest.Rejected(c, e.Msg)
}

func public(path, query string) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		return rest.Request{Method: http.MethodGet, Path: path, Query: query}, nil
	}
}

func (a *Adapter) signed(method, path string, params map[string]any) func() (rest.Request, error) {
	return func() (rest.Request, error) {
		s, err := a.signer.Sign(domain.MEXC, signer.Request{Method: method, Path: path, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: method, Path: path, Query: s.Query, Header: s.Headers}, nil
	}
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		return a.rest.Do(ctx, "ping", public("/api/v3/ping", ""), nil)
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.MEXC, "get ticker", err)
	}
	var stats sdk.PriceChangeStats
	err = a.rest.Do(ctx, "get ticker", public("/api/v3/ticker/24hr", "symbol="+pair.Symbol()), &stats)
	if domain.IsKind(err, domain.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return normalizer.MEXCTicker(&stats, pair, a.now())
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var acc sdk.Account
	if err := a.rest.Do(ctx, "get balance", a.signed(http.MethodGet, "/api/v3/account", nil), &acc); err != nil {
		return nil, err
	}
	return normalizer.BinanceBalances(domain.MEXC, &acc)
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

	side := string(sdk.SideTypeBuy)
	if params.Side == domain.SideSell {
		side = string(sdk.SideTypeSell)
	}
	q := map[string]any{
		"symbol":           native,
		"side":             side,
		"type":             string(sdk.OrderTypeMarket),
		"quantity":         params.Quantity,
		"newClientOrderId": params.ClientOrderID,
	}
	if params.Type == domain.OrderTypeLimit {
		q["type"] = string(sdk.OrderTypeLimit)
		q["price"] = params.Price.Decimal
	}

	var res normalizer.MEXCOrderResponse
	if err := a.rest.Do(ctx, "create order", a.signed(http.MethodPost, "/api/v3/order", q), &res); err != nil {
		return domain.Order{}, err
	}
	return normalizer.MEXCOrder(&res, params, a.now())
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	native, err := ToNative(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.MEXC, "cancel order", err)
	}

	var res struct {
		Status string `json:"status"`
	}
	err = a.rest.Do(ctx, "cancel order", a.signed(http.MethodDelete, "/api/v3/order", map[string]any{"symbol": native, "orderId": orderID}), &res)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.Status == string(sdk.OrderStatusTypeCanceled), nil
}
