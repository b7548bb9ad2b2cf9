// Package simulate is a paper-trading venue. Market orders fill immediately at
// the last price of a real price source, limit orders rest and hold funds until
// cancelled. The wallet survives restarts through simstate.
package simulate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/storage/simstate"
	"go.uber.org/zap"
)

// PriceSource supplies last prices. Any adapter.Adapter satisfies it.
type PriceSource interface {
	GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
}

var (
	ErrNoPriceSource = errors.New("simulate: price source is required")
	ErrNoPrice       = errors.New("no price for symbol")
	ErrInsufficient  = errors.New("insufficient balance")
)

type wallet struct {
	free   decimal.Decimal
	locked decimal.Decimal
}

type order struct {
	domain.Order
	lockedAsset  string
	lockedAmount decimal.Decimal
}

type Adapter struct {
	*adapter.Base
	source PriceSource
	store  *simstate.Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	wallet map[string]*wallet
	orders map[string]*order
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithBalances seeds the wallet used when no saved state exists.
func WithBalances(balances map[string]decimal.Decimal) Option {
	return func(a *Adapter) {
		for currency, amount := range balances {
			a.wallet[currency] = &wallet{free: amount}
		}
	}
}

// WithStore persists the wallet after every change.
func WithStore(s *simstate.Store) Option {
	return func(a *Adapter) {
		a.store = s
	}
}

// New builds the simulator. Without WithBalances the wallet starts with 10000 USDT.
func New(cfg adapter.Config, deps adapter.Deps, source PriceSource, opts ...Option) (*Adapter, error) {
	if source == nil {
		return nil, domain.ConfigurationError(domain.Simulate, ErrNoPriceSource)
	}
	deps = deps.WithDefaults()

	caps := domain.NewCapabilities(domain.CapabilityTicker)
	a := &Adapter{
		Base:   adapter.NewBase(domain.Simulate, cfg.Credential, false, caps, deps),
		source: source,
		logger: deps.Logger.With(zap.String("exchange", string(domain.Simulate))),
		now:    time.Now,
		wallet: make(map[string]*wallet),
		orders: make(map[string]*order),
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.wallet) == 0 {
		a.wallet["USDT"] = &wallet{free: decimal.NewFromInt(10000)}
	}
	if err := a.restore(); err != nil {
		a.logger.Warn("failed to restore simulate state", zap.Error(err))
	}
	return a, nil
}

// Capabilities does not depend on credentials, the wallet is local.
func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.NewCapabilities(domain.CapabilityTicker, domain.CapabilityBalance, domain.CapabilityTrade)
}

func (a *Adapter) Initialize(ctx context.Context) error {
	return a.Base.Initialize(ctx, func(context.Context) error { return nil })
}

// GetTicker relays the price source; its outcome drives the simulator's reachability.
func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	var t *domain.Ticker
	err := a.Call(ctx, func(ctx context.Context) error {
		var err error
		t, err = a.source.GetTicker(ctx, symbol)
		return err
	})
	if err != nil || t == nil {
		return nil, err
	}
	out := *t
	out.Exchange = domain.Simulate
	return &out, nil
}

func (a *Adapter) GetBalance(context.Context) ([]domain.Balance, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	currencies := make([]string, 0, len(a.wallet))
	for c := range a.wallet {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	out := make([]domain.Balance, 0, len(currencies))
	for _, c := range currencies {
		w := a.wallet[c]
		if w.free.IsZero() && w.locked.IsZero() {
			continue
		}
		b, err := domain.NewBalance(c, w.free, w.locked)
		if err != nil {
			return nil, domain.NormalizationError(domain.Simulate, "balance", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (a *Adapter) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var t *domain.Ticker
	err := a.Call(ctx, func(ctx context.Context) error {
		var err error
		t, err = a.source.GetTicker(ctx, symbol)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	if t == nil || !t.LastPrice.IsPositive() {
		return decimal.Zero, domain.NewError(domain.KindNotFound, domain.Simulate, "create order", errors.Wrap(ErrNoPrice, symbol))
	}
	return t.LastPrice, nil
}

func (a *Adapter) CreateOrder(ctx context.Context, params domain.OrderParams) (domain.Order, error) {
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	pair, _ := domain.ParseSymbol(params.Symbol)
	if params.ClientOrderID == "" {
		params.ClientOrderID = uuid.NewString()
	}

	var price decimal.Decimal
	if params.Type == domain.OrderTypeMarket {
		p, err := a.price(ctx, pair.String())
		if err != nil {
			return domain.Order{}, err
		}
		price = p
	} else {
		price = params.Price.Decimal
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o := &order{Order: domain.Order{
		Exchange:      domain.Simulate,
		OrderID:       uuid.NewString(),
		ClientOrderID: params.ClientOrderID,
		Symbol:        pair.String(),
		Side:          params.Side,
		Type:          params.Type,
		Quantity:      params.Quantity,
		CreatedAt:     a.now().UTC(),
	}}

	// buys spend quote, sells spend base
	spendAsset, spend := pair.Quote, params.Quantity.Mul(price)
	if params.Side == domain.SideSell {
		spendAsset, spend = pair.Base, params.Quantity
	}
	w := a.account(spendAsset)
	if w.free.LessThan(spend) {
		return domain.Order{}, domain.NewError(domain.KindRejected, domain.Simulate, "create order",
			errors.Wrapf(ErrInsufficient, "%s: have %s need %s", spendAsset, w.free, spend))
	}
	w.free = w.free.Sub(spend)

	if params.Type == domain.OrderTypeLimit {
		w.locked = w.locked.Add(spend)
		o.Price = params.Price
		o.Status = domain.OrderStatusOpen
		o.lockedAsset, o.lockedAmount = spendAsset, spend
	} else {
		if params.Side == domain.SideBuy {
			a.account(pair.Base).free = a.account(pair.Base).free.Add(params.Quantity)
		} else {
			a.account(pair.Quote).free = a.account(pair.Quote).free.Add(spend.Mul(price))
		}
		o.Status = domain.OrderStatusFilled
	}
	a.orders[o.OrderID] = o
	a.persist()

	a.logger.Info("simulated order",
		zap.String("id", o.OrderID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("quantity", o.Quantity.String()),
		zap.String("price", price.String()),
		zap.String("status", string(o.Status)))
	return o.Order, nil
}

func (a *Adapter) CancelOrder(_ context.Context, symbol, orderID string) (bool, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, domain.Simulate, "cancel order", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.orders[orderID]
	if !ok || o.Symbol != pair.String() || o.Status != domain.OrderStatusOpen {
		return false, nil
	}
	w := a.account(o.lockedAsset)
	w.locked = w.locked.Sub(o.lockedAmount)
	w.free = w.free.Add(o.lockedAmount)
	o.Status = domain.OrderStatusCancelled
	a.persist()
	return true, nil
}

// account must be called with mu held.
func (a *Adapter) account(currency string) *wallet {
	w, ok := a.wallet[currency]
	if !ok {
		w = &wallet{}
		a.wallet[currency] = w
	}
	return w
}

func (a *Adapter) restore() error {
	state, err := a.store.Load()
	if err != nil || state == nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	restored := make(map[string]*wallet, len(state.Wallet))
	for currency, b := range state.Wallet {
		free, locked, err := b.Decode()
		if err != nil {
			return errors.Wrap(err, currency)
		}
		restored[currency] = &wallet{free: free, locked: locked}
	}
	a.wallet = restored

	for _, so := range state.Orders {
		qty, err := decimal.NewFromString(so.Quantity)
		if err != nil {
			return errors.Wrapf(err, "decode order %s", so.ID)
		}
		price, err := decimal.NewFromString(so.Price)
		if err != nil {
			return errors.Wrapf(err, "decode order %s", so.ID)
		}
		locked, err := decimal.NewFromString(so.LockedAmount)
		if err != nil {
			return errors.Wrapf(err, "decode order %s", so.ID)
		}
		a.orders[so.ID] = &order{
			Order: domain.Order{
				Exchange:      domain.Simulate,
				OrderID:       so.ID,
				ClientOrderID: so.ClientOrderID,
				Symbol:        so.Symbol,
				Side:          so.Side,
				Type:          domain.OrderTypeLimit,
				Quantity:      qty,
				Price:         decimal.NewNullDecimal(price),
				Status:        so.Status,
				CreatedAt:     so.CreatedAt,
			},
			lockedAsset:  so.LockedAsset,
			lockedAmount: locked,
		}
	}
	return nil
}

// persist must be called with mu held. Only resting orders are saved.
func (a *Adapter) persist() {
	if a.store == nil {
		return
	}

	state := simstate.State{Wallet: make(map[string]simstate.StoredBalance, len(a.wallet))}
	for currency, w := range a.wallet {
		state.Wallet[currency] = simstate.StoredBalance{Free: w.free.String(), Locked: w.locked.String()}
	}
	for _, o := range a.orders {
		if o.Status != domain.OrderStatusOpen {
			continue
		}
		state.Orders = append(state.Orders, simstate.StoredOrder{
			ID:            o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Quantity:      o.Quantity.String(),
			Price:         o.Price.Decimal.String(),
			LockedAmount:  o.lockedAmount.String(),
			LockedAsset:   o.lockedAsset,
			CreatedAt:     o.CreatedAt,
			Status:        o.Status,
		})
	}
	sort.Slice(state.Orders, func(i, j int) bool { return state.Orders[i].CreatedAt.Before(state.Orders[j].CreatedAt) })

	if err := a.store.Save(state); err != nil {
		a.logger.Warn("failed to persist simulate state", zap.Error(err))
	}
}
