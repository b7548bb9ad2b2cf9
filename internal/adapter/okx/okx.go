// Package okx is the OKX v5 spot adapter.
package okx

import (
	"context"
	"net/http"
	"net/url"
	"strings"
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
	DefaultBaseURL   = "https://www.okx.com"
	DefaultStreamURL = "wss://ws.okx.com:8443/ws/v5/private"
)

type Adapter struct {
	*adapter.Base
	cfg         adapter.Config
	rest        *rest.Client
	signer      *signer.Engine
	loginSigner *signer.Passphrase
	nonce       *signer.Nonce
	now         func() time.Time
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg adapter.Config, deps adapter.Deps) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, DefaultStreamURL)

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade, domain.CapabilityStream)
	base := adapter.NewBase(domain.OKX, cfg.Credential, true, caps, deps).WithProbe(cfg.Heartbeat)
	a := &Adapter{
		Base:        base,
		cfg:         cfg,
		rest:        rest.New(domain.OKX, cfg.BaseURL, deps.HTTPClient, cfg.RequestTimeout, cfg.RateLimit, cfg.Burst, base.Logger(), rest.WithCodec(codec), rest.WithLifecycle(base)),
		signer:      deps.Signer,
		loginSigner: signer.NewOKX(),
		nonce:       deps.Nonce,
		now:         time.Now,
	}
	if base.HasCredentials() {
		a.AttachStream(connmgr.New(domain.OKX, &stream{a: a}, cfg.Stream, base.Logger(), connmgr.WithObserver(deps.Observer)))
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
		s, err := a.signer.Sign(domain.OKX, signer.Request{Method: method, Path: path, Params: params}, a.Credential(), a.nonce.Next())
		if err != nil {
			return rest.Request{}, err
		}
		return rest.Request{Method: method, Path: path, Query: s.Query, Body: s.Body, Header: s.Headers}, nil
	}
}

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.HasCredentials() {
		// a key without passphrase can never sign, report it before any network call
		if err := a.RequireCredentials("initialize"); err != nil {
			return err
		}
	}
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		return a.rest.Do(ctx, "ping", public("/api/v5/public/time", ""), nil)
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.OKX, "get ticker", err)
	}
	var data []normalizer.OKXTicker
	err = a.rest.Do(ctx, "get ticker", public("/api/v5/market/ticker", "instId="+url.QueryEscape(pair.Join("-"))), &data)
	if err != nil {
		var typed *domain.Error
		if errors.As(err, &typed) && typed.Code == codeInvalidInstrument {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return normalizer.OKXTickerOf(&data[0], pair, a.now())
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var data []normalizer.OKXAccount
	if err := a.rest.Do(ctx, "get balance", a.signed(http.MethodGet, "/api/v5/account/balance", nil), &data); err != nil {
		return nil, err
	}
	return normalizer.OKXBalances(data)
}

func (a *Adapter) CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error) {
	if err := a.RequireCredentials("create order"); err != nil {
		return domain.Order{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	instID, _ := ToNative(params.Symbol)
	if params.ClientOrderID == "" {
		// clOrdId is alphanumeric, at most 32 chars
		params.ClientOrderID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	body := map[string]any{
		"instId":  instID,
		"tdMode":  "cash",
		"side":    string(params.Side),
		"ordType": string(params.Type),
		"sz":      params.Quantity,
		"clOrdId": params.ClientOrderID,
	}
	if params.Type == domain.OrderTypeLimit {
		body["px"] = params.Price.Decimal
	} else {
		body["tgtCcy"] = "base_ccy"
	}

	var data []normalizer.OKXOrderAck
	if err := a.rest.Do(ctx, "create order", a.signed(http.MethodPost, "/api/v5/trade/order", body), &data); err != nil {
		return domain.Order{}, err
	}
	if len(data) == 0 {
		return domain.Order{}, domain.NormalizationError(domain.OKX, "order", errors.Wrap(normalizer.ErrMissingField, "data"))
	}
	return normalizer.OKXOrder(&data[0], params, a.now())
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	instID, err := ToNative(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.OKX, "cancel order", err)
	}

	var data []normalizer.OKXOrderAck
	err = a.rest.Do(ctx, "cancel order", a.signed(http.MethodPost, "/api/v5/trade/cancel-order", map[string]any{
		"instId": instID,
		"ordId":  orderID,
	}), &data)
	if domain.IsKind(err, domain.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) > 0 && (data[0].SCode == "" || data[0].SCode == "0"), nil
}
