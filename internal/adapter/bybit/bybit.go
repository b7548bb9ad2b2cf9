// Package bybit is the Bybit v5 spot adapter. Requests are shaped with the
// hirokisan/bybit parameter types and signed by the shared header signer.
package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	sdk "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"github.com/vadiminshakov/exgate/internal/signer"
)

const (
	DefaultBaseURL   = "https://api.bybit.com"
	DefaultStreamURL = "wss://stream.bybit.com/v5/private"
)

type Adapter struct {
	*adapter.Base
	cfg          adapter.Config
	rest         *rest.Client
	signer       *signer.Engine
	streamSigner *signer.HeaderHMAC
	nonce        *signer.Nonce
	now          func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, DefaultStreamURL)

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade, domain.CapabilityStream)
	base := adapter.NewBase(domain.Bybit, cfg.Credential, false, caps, deps).WithProbe(cfg.Heartbeat)
	a := &Adapter{
		Base:         base,
		cfg:          cfg,
		rest:         rest.New(domain.Bybit, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer:       deps.Signer,
		streamSigner: signer.NewBybit(),
		nonce:        deps.Nonce,
		now:          time.Now,
	}
	if base.HasCredentials() {
		a.AttachStream(connmgr.New(domain.Bybit, &stream{a: a}, cfg.Stream, base.Logger(), connmgr.WithObserver(deps.Observer)))
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
		s, err := a.signer.Sign(domain.Bybit, signer.Request{Method: method, Path: path, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: method, Path: path, Query: s.Query, Body: s.Body, Header: s.Headers}, nil
	}
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		return a.rest.Do(ctx, "ping", public("/v5/market/time", ""), nil)
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.Bybit, "get ticker", err)
	}
	var res struct {
		List []normalizer.BybitTicker `json:"list"`
	}
	err = a.rest.Do(ctx, "get ticker", public("/v5/market/tickers", "category=spot&symbol="+pair.Symbol()), &res)
	if err != nil {
		// unknown symbols come back as a params error
		var typed *domain.Error
		if errors.As(err, &typed) && typed.Code == "10001" {
			return nil, nil
		}
		return nil, err
	}
	if len(res.List) == 0 {
		return nil, nil
	}
	return normalizer.BybitTickerOf(&res.List[0], pair, 0, a.now())
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var w normalizer.BybitWallet
	if err := a.rest.Do(ctx, "get balance", a.signed(http.MethodGet, "/v5/account/wallet-balance", map[string]any{"accountType": "UNIFIED"}), &w); err != nil {
		return nil, err
	}
	return normalizer.BybitBalances(&w)
}

// toParams turns an SDK parameter struct into the map the signer encodes.
func toParams(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	return m, nil
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

	req := sdk.V5CreateOrderParam{
		Category:    sdk.CategoryV5Spot,
		Symbol:      sdk.SymbolV5(native),
		Side:        sdk.SideBuy,
		OrderType:   sdk.OrderTypeMarket,
		Qty:         params.Quantity.String(),
		OrderLinkID: &params.ClientOrderID,
	}
	if params.Side == domain.SideSell {
		req.Side = sdk.SideSell
	}
	if params.Type == domain.OrderTypeLimit {
		req.OrderType = sdk.OrderTypeLimit
		price := params.Price.Decimal.String()
		req.Price = &price
	}

	body, err := toParams(req)
	if err != nil {
		return domain.Order{}, domain.ConfigurationError(domain.Bybit, err)
	}
	// spot market orders take qty in quote coin unless told otherwise
	if params.Type == domain.OrderTypeMarket {
		body["marketUnit"] = "baseCoin"
	}

	var res sdk.V5CreateOrderResult
	if err := a.rest.Do(ctx, "create order", a.signed(http.MethodPost, "/v5/order/create", body), &res); err != nil {
		return domain.Order{}, err
	}
	return normalizer.BybitOrder(&res, params, a.now())
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	native, err := ToNative(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.Bybit, "cancel order", err)
	}

	body, err := toParams(sdk.V5CancelOrderParam{
		Category: sdk.CategoryV5Spot,
		Symbol:   sdk.SymbolV5(native),
		OrderID:  &orderID,
	})
	if err != nil {
		return false, domain.ConfigurationError(domain.Bybit, err)
	}

	var res sdk.V5CancelOrderResult
	err = a.rest.Do(ctx, "cancel order", a.signed(http.MethodPost, "/v5/order/cancel", body), &res)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.OrderID != "", nil
}
