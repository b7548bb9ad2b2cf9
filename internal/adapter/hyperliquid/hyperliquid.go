// Package hyperliquid is the Hyperliquid adapter, built on the go-hyperliquid SDK.
// Orders are market only: an IOC limit at mid price plus slippage. Coins are
// quoted in USDC, so "BTC/USDC" addresses coin "BTC".
package hyperliquid

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.hyperliquid.xyz"
	Quote          = "USDC"
)

type Adapter struct {
	*adapter.Base
	cfg     adapter.Config
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	venue   venue
	account string
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithVenue replaces the SDK backed venue.
func WithVenue(v venue) Option {
	return func(a *Adapter) {
		a.venue = v
	}
}

// New builds the adapter. Credential.APISecret is the hex private key,
// Credential.APIKey the account address the key trades for.
func New(cfg adapter.Config, deps adapter.Deps, opts ...Option) *Adapter {
	deps = deps.WithDefaults()
	cfg = cfg.WithDefaults(DefaultBaseURL, "")

	caps := domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade)
	a := &Adapter{
		Base:    adapter.NewBase(domain.Hyperliquid, cfg.Credential, false, caps, deps).WithProbe(cfg.Heartbeat),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		now:     time.Now,
		account: cfg.Credential.APIKey,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// client returns the venue, building the SDK one on first use.
func (a *Adapter) client(ctx context.Context) (venue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.venue != nil {
		return a.venue, nil
	}

	if !a.HasCredentials() {
		a.venue = newSDKVenue(ctx, nil, a.cfg.BaseURL, "")
		return a.venue, nil
	}
	key, addr, err := ParseKey(a.Credential().APISecret)
	if err != nil {
		return nil, domain.ConfigurationError(domain.Hyperliquid, err)
	}
	if a.account == "" {
		a.account = addr
	}
	a.venue = newSDKVenue(ctx, key, a.cfg.BaseURL, a.account)
	return a.venue, nil
}

func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context, v venue) error) error {
	v, err := a.client(ctx)
	if err != nil {
		return err
	}
	return a.Call(ctx, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return interrupted(ctx, "rate limiter", err)
		}
		cctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
		err := fn(cctx, v)
		if err != nil && ctx.Err() != nil {
			return interrupted(ctx, op, err)
		}
		return sdkError(op, err)
	})
}

// interrupted classifies a call that ended because ctx did.
func interrupted(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.CanceledError(domain.Hyperliquid, op, ctx.Err())
	case ctx.Err() != nil:
		return domain.NewError(domain.KindTimeout, domain.Hyperliquid, op, err)
	}
	return domain.NewError(domain.KindNetwork, domain.Hyperliquid, op, err)
}

// sdkError maps SDK failures; the SDK reports HTTP status only inside the message.
func sdkError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || rateLimitHint(msg):
		return domain.NewError(domain.KindRateLimit, domain.Hyperliquid, op, err)
	case strings.Contains(msg, "signature") || (strings.Contains(msg, "user") && strings.Contains(msg, "does not exist")):
		return domain.NewError(domain.KindAuthentication, domain.Hyperliquid, op, err)
	case strings.Contains(msg, "insufficient") || strings.Contains(msg, "invalid") || strings.Contains(msg, "minimum"):
		return domain.NewError(domain.KindRejected, domain.Hyperliquid, op, err)
	}
	return domain.NewError(domain.KindNetwork, domain.Hyperliquid, op, err)
}

func rateLimitHint(msg string) bool {
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many")
}

// coin resolves a canonical symbol to the venue coin; only USDC quotes exist.
func coin(symbol string) (string, bool, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return "", false, err
	}
	return pair.Base, pair.Quote == Quote, nil
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(ctx context.Context) error {
		return a.call(ctx, "ping", func(ctx context.Context, v venue) error {
			_, err := v.Mids(ctx)
			return err
		})
	})
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, domain.Hyperliquid, "get ticker", err)
	}
	if pair.Quote != Quote {
		return nil, nil
	}

	var mids map[string]string
	err = a.call(ctx, "get ticker", func(ctx context.Context, v venue) error {
		var err error
		mids, err = v.Mids(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	mid, ok := mids[pair.Base]
	if !ok || mid == "" {
		return nil, nil
	}
	return normalizer.HyperliquidTicker(mid, pair, a.now())
}

func (a *Adapter) GetBalance(ctx context.Context) ([]domain.Balance, error) {
	if err := a.RequireCredentials("get balance"); err != nil {
		return nil, err
	}
	var lines []normalizer.HyperliquidBalance
	err := a.call(ctx, "get balance", func(ctx context.Context, v venue) error {
		var err error
		lines, err = v.SpotBalances(ctx, a.account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizer.HyperliquidBalances(lines)
}

func (a *Adapter) CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error) {
	if err := a.RequireCredentials("create order"); err != nil {
		return domain.Order{}, err
	}
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	if params.Type != domain.OrderTypeMarket {
		return domain.Order{}, domain.NewError(domain.KindUnsupported, domain.Hyperliquid, "create order", errors.Wrap(domain.ErrUnsupported, "only market orders"))
	}
	c, quoted, _ := coin(params.Symbol)
	if !quoted {
		return domain.Order{}, domain.NewError(domain.KindInvalidRequest, domain.Hyperliquid, "create order", errors.Errorf("%s is not quoted in %s", params.Symbol, Quote))
	}
	if params.ClientOrderID == "" {
		params.ClientOrderID = uuid.NewString()
	}
	cloid := Cloid(params.ClientOrderID)
	size, _ := params.Quantity.Round(8).Float64()

	var state orderState
	err := a.call(ctx, "create order", func(ctx context.Context, v venue) error {
		if err := v.MarketOrder(ctx, c, params.Side == domain.SideBuy, size, cloid); err != nil {
			return err
		}
		var err error
		state, err = v.OrderByCloid(ctx, a.account, cloid)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	params.ClientOrderID = cloid
	return normalizer.HyperliquidOrder(cloid, state.Filled, params, a.now())
}

// CancelOrder accepts the cloid returned by CreateOrder or a numeric venue oid.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	if err := a.RequireCredentials("cancel order"); err != nil {
		return false, err
	}
	c, _, err := coin(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.Hyperliquid, "cancel order", err)
	}

	var cancelled bool
	err = a.call(ctx, "cancel order", func(ctx context.Context, v venue) error {
		oid, err := strconv.ParseInt(orderID, 10, 64)
		if err != nil {
			state, err := v.OrderByCloid(ctx, a.account, Cloid(orderID))
			if err != nil {
				return err
			}
			if !state.Open {
				return nil
			}
			oid = state.Oid
		}
		if err := v.Cancel(ctx, c, oid); err != nil {
			if isGone(err) {
				return nil
			}
			return err
		}
		cancelled = true
		return nil
	})
	return cancelled, err
}
