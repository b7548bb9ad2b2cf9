// Package gateway orchestrates the configured exchange adapters: concurrent
// startup, a health registry, primary selection and the unified read/write API.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Journal receives every produced entity. It is never read by the gateway.
type Journal interface {
	Append(e events.Event) (uint64, error)
}

// Config holds gateway timeouts.
type Config struct {
	// InitTimeout bounds a single adapter's Initialize.
	InitTimeout time.Duration
	// FanOutTimeout bounds an "all exchanges" call as a whole.
	FanOutTimeout time.Duration
	// CallTimeout bounds a call to a single adapter.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 15 * time.Second
	}
	if c.FanOutTimeout <= 0 {
		c.FanOutTimeout = 5 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithJournal sets the event journal.
func WithJournal(j Journal) Option {
	return func(g *Gateway) { g.journal = j }
}

// WithBroadcaster sets the broadcaster used for live subscribers.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(g *Gateway) { g.bus = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

type tickerKey struct {
	exchange domain.ExchangeID
	symbol   string
}

// Gateway holds the adapters in priority order.
type Gateway struct {
	cfg     Config
	logger  *zap.Logger
	health  *registry
	bus     *events.Broadcaster
	journal Journal
	now     func() time.Time

	// selecting serializes primary selection.
	selecting sync.Mutex

	mu       sync.RWMutex
	order    []domain.ExchangeID
	adapters map[domain.ExchangeID]adapter.Adapter
	primary  domain.ExchangeID

	tickersMu sync.RWMutex
	tickers   map[tickerKey]domain.Ticker

	// restarting serializes RestartAdapter per exchange.
	restarting sync.Map
}

// New creates an empty gateway. Register adapters before Start.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("gateway"),
		health:   newRegistry(),
		now:      time.Now,
		adapters: make(map[domain.ExchangeID]adapter.Adapter),
		tickers:  make(map[tickerKey]domain.Ticker),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.bus == nil {
		g.bus = events.NewBroadcaster(0)
	}
	return g
}

// Register appends a to the priority list.
func (g *Gateway) Register(a adapter.Adapter) error {
	id := a.ID()
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.adapters[id]; ok {
		return domain.ConfigurationError(id, errors.Errorf("exchange %s registered twice", id))
	}
	g.adapters[id] = a
	g.order = append(g.order, id)
	g.health.add(id)
	return nil
}

// Events returns the live event broadcaster.
func (g *Gateway) Events() *events.Broadcaster { return g.bus }

// StartResult is the outcome of one adapter's Initialize.
type StartResult struct {
	Exchange domain.ExchangeID      `json:"exchange"`
	State    domain.ConnectionState `json:"state"`
	Err      error                  `json:"-"`
}

// Start initializes all adapters concurrently. Adapter failures are reported,
// never returned: the gateway always starts.
func (g *Gateway) Start(ctx context.Context) []StartResult {
	targets := g.ordered()
	results := make([]StartResult, len(targets))

	var eg errgroup.Group
	for i, a := range targets {
		eg.Go(func() error {
			err := g.initialize(ctx, a)
			results[i] = StartResult{Exchange: a.ID(), State: a.State(), Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	primary := g.recompute()
	for _, r := range results {
		if r.Err != nil {
			g.logger.Warn("adapter degraded", zap.String("exchange", r.Exchange.String()),
				zap.Stringer("state", r.State), zap.Error(r.Err))
			continue
		}
		g.logger.Info("adapter started", zap.String("exchange", r.Exchange.String()), zap.Stringer("state", r.State))
	}
	g.logger.Info("gateway started", zap.Int("adapters", len(results)), zap.String("primary", primary.String()))
	return results
}

func (g *Gateway) initialize(ctx context.Context, a adapter.Adapter) error {
	ictx, cancel := context.WithTimeout(ctx, g.cfg.InitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Initialize(ictx) }()

	var err error
	select {
	case err = <-done:
	case <-ictx.Done():
		err = domain.TimeoutError(a.ID(), "initialize", g.cfg.InitTimeout)
	}
	g.health.observe(a.ID(), err, g.now())
	return err
}

// ordered returns adapters in priority order.
func (g *Gateway) ordered() []adapter.Adapter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]adapter.Adapter, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.adapters[id])
	}
	return out
}

// recompute selects the first connected adapter in priority order.
func (g *Gateway) recompute() domain.ExchangeID {
	g.selecting.Lock()
	defer g.selecting.Unlock()

	var next domain.ExchangeID
	for _, a := range g.ordered() {
		if a.State() == domain.StateConnected {
			next = a.ID()
			break
		}
	}

	g.mu.Lock()
	prev := g.primary
	g.primary = next
	g.mu.Unlock()

	if prev != next {
		g.logger.Info("primary changed", zap.String("from", prev.String()), zap.String("to", next.String()))
	}
	return next
}

// Primary returns the current primary, false when no adapter is connected.
func (g *Gateway) Primary() (domain.ExchangeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.primary, g.primary != ""
}

// Adapter resolves id; an empty id resolves to the primary.
func (g *Gateway) Adapter(id domain.ExchangeID) (adapter.Adapter, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id == "" {
		if g.primary == "" {
			return nil, domain.NewError(domain.KindNotFound, "", "select primary", domain.ErrNoPrimary)
		}
		id = g.primary
	}
	a, ok := g.adapters[id]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, id, "resolve exchange", domain.ErrUnknownExchange)
	}
	return a, nil
}

// Health returns a snapshot for one adapter.
func (g *Gateway) Health(id domain.ExchangeID) (domain.AdapterHealth, error) {
	a, err := g.Adapter(id)
	if err != nil {
		return domain.AdapterHealth{}, err
	}
	return g.health.snapshot(a.ID(), a.State(), a.Capabilities()), nil
}

// Status is the gateway wide health view.
type Status struct {
	Adapters []domain.AdapterHealth `json:"adapters"`
	Primary  domain.ExchangeID      `json:"primary,omitempty"`
}

// Status returns snapshots of all adapters in priority order.
func (g *Gateway) Status() Status {
	targets := g.ordered()
	st := Status{Adapters: make([]domain.AdapterHealth, 0, len(targets))}
	for _, a := range targets {
		st.Adapters = append(st.Adapters, g.health.snapshot(a.ID(), a.State(), a.Capabilities()))
	}
	st.Primary, _ = g.Primary()
	return st
}

// Observe consumes connection manager transitions. It must not block.
func (g *Gateway) Observe(ev domain.ConnectivityEvent) {
	g.recompute()
	g.emit(events.Event{Type: events.TypeConnectivity, Exchange: ev.Exchange, Timestamp: ev.At, Connectivity: &ev})
}

// Ingest consumes streamed tickers, keeping the latest per exchange and symbol.
func (g *Gateway) Ingest(t domain.Ticker) {
	g.tickersMu.Lock()
	g.tickers[tickerKey{t.Exchange, t.Symbol}] = t
	g.tickersMu.Unlock()
	g.emit(events.Event{Type: events.TypeTicker, Exchange: t.Exchange, Timestamp: t.ObservedAt, Ticker: &t})
}

// LatestTicker returns the last ticker seen for exchange and symbol.
func (g *Gateway) LatestTicker(id domain.ExchangeID, symbol string) (domain.Ticker, bool) {
	g.tickersMu.RLock()
	defer g.tickersMu.RUnlock()
	t, ok := g.tickers[tickerKey{id, symbol}]
	return t, ok
}

func (g *Gateway) emit(e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = g.now()
	}
	g.bus.Publish(e)
	if g.journal == nil {
		return
	}
	if _, err := g.journal.Append(e); err != nil {
		g.logger.Warn("journal append failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// done records a call outcome and refreshes the primary.
func (g *Gateway) done(id domain.ExchangeID, err error) {
	g.health.observe(id, err, g.now())
	g.recompute()
}

func (g *Gateway) require(a adapter.Adapter, c domain.Capability, op string) error {
	caps := a.Capabilities()
	if caps.Has(c) {
		return nil
	}
	// a credential-less adapter only advertises the ticker
	if len(caps) == 1 && caps.Has(domain.CapabilityTicker) {
		return domain.NoCredentialsError(a.ID(), op)
	}
	return domain.NewError(domain.KindUnsupported, a.ID(), op, domain.ErrUnsupported)
}

func (g *Gateway) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.cfg.CallTimeout)
}

// GetBalance returns balances of one exchange.
func (g *Gateway) GetBalance(ctx context.Context, id domain.ExchangeID) ([]domain.Balance, error) {
	a, err := g.Adapter(id)
	if err != nil {
		return nil, err
	}
	if err := g.require(a, domain.CapabilityBalance, "get balance"); err != nil {
		return nil, err
	}
	cctx, cancel := g.call(ctx)
	defer cancel()

	balances, err := a.GetBalance(cctx)
	g.done(a.ID(), err)
	if err != nil {
		return nil, err
	}
	g.emit(events.Event{Type: events.TypeBalance, Exchange: a.ID(), Balances: balances})
	return balances, nil
}

// GetAggregatedBalance queries every adapter able to report balances. Individual
// failures are returned per exchange.
func (g *Gateway) GetAggregatedBalance(ctx context.Context) map[domain.ExchangeID]Result[[]domain.Balance] {
	var targets []adapter.Adapter
	for _, a := range g.ordered() {
		if a.Capabilities().Has(domain.CapabilityBalance) {
			targets = append(targets, a)
		}
	}

	results := fanOut(ctx, g.cfg.FanOutTimeout, "get balance", targets,
		func(ctx context.Context, a adapter.Adapter) ([]domain.Balance, error) {
			return a.GetBalance(ctx)
		})
	for id, r := range results {
		g.health.observe(id, r.Err, g.now())
		if r.Err == nil {
			g.emit(events.Event{Type: events.TypeBalance, Exchange: id, Balances: r.Value})
		}
	}
	g.recompute()
	return results
}

// GetTicker returns the ticker of one exchange; nil when the symbol is not listed.
func (g *Gateway) GetTicker(ctx context.Context, id domain.ExchangeID, symbol string) (*domain.Ticker, error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, id, "get ticker", err)
	}
	symbol = pair.String()
	a, err := g.Adapter(id)
	if err != nil {
		return nil, err
	}
	cctx, cancel := g.call(ctx)
	defer cancel()

	t, err := a.GetTicker(cctx, symbol)
	g.done(a.ID(), err)
	if err != nil {
		return nil, err
	}
	if t != nil {
		g.Ingest(*t)
	}
	return t, nil
}

// GetTickerAll fans out to every connected adapter. Adapters still running at
// the fan-out deadline get a timeout error; the others are unaffected.
func (g *Gateway) GetTickerAll(ctx context.Context, symbol string) (map[domain.ExchangeID]Result[*domain.Ticker], error) {
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, "", "get ticker", err)
	}
	symbol = pair.String()
	var targets []adapter.Adapter
	for _, a := range g.ordered() {
		if a.IsConnected() {
			targets = append(targets, a)
		}
	}

	results := fanOut(ctx, g.cfg.FanOutTimeout, "get ticker", targets,
		func(ctx context.Context, a adapter.Adapter) (*domain.Ticker, error) {
			return a.GetTicker(ctx, symbol)
		})
	for id, r := range results {
		g.health.observe(id, r.Err, g.now())
		if r.Err == nil && r.Value != nil {
			g.Ingest(*r.Value)
		}
	}
	g.recompute()
	return results, nil
}

// CreateOrder validates params and places the order.
func (g *Gateway) CreateOrder(ctx context.Context, id domain.ExchangeID, params domain.OrderParams) (domain.Order, error) {
	if err := params.Validate(); err != nil {
		return domain.Order{}, err
	}
	pair, _ := domain.ParseSymbol(params.Symbol)
	params.Symbol = pair.String()
	a, err := g.Adapter(id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := g.require(a, domain.CapabilityTrade, "create order"); err != nil {
		return domain.Order{}, err
	}
	cctx, cancel := g.call(ctx)
	defer cancel()

	order, err := a.CreateOrder(cctx, params)
	g.done(a.ID(), err)
	if err != nil {
		g.logger.Warn("order failed", zap.String("exchange", a.ID().String()),
			zap.String("symbol", params.Symbol), zap.Error(err))
		return domain.Order{}, err
	}
	g.logger.Info("order placed", zap.String("exchange", a.ID().String()),
		zap.String("symbol", order.Symbol), zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)))
	g.emit(events.Event{Type: events.TypeOrder, Exchange: a.ID(), Timestamp: order.CreatedAt, Order: &order})
	return order, nil
}

// CancelOrder returns false when the venue does not know the order.
func (g *Gateway) CancelOrder(ctx context.Context, id domain.ExchangeID, symbol, orderID string) (bool, error) {
	if orderID == "" {
		return false, domain.NewError(domain.KindInvalidRequest, id, "cancel order", errors.New("order id is required"))
	}
	pair, err := domain.ParseSymbol(symbol)
	if err != nil {
		return false, domain.NewError(domain.KindInvalidRequest, id, "cancel order", err)
	}
	symbol = pair.String()
	a, err := g.Adapter(id)
	if err != nil {
		return false, err
	}
	if err := g.require(a, domain.CapabilityTrade, "cancel order"); err != nil {
		return false, err
	}
	cctx, cancel := g.call(ctx)
	defer cancel()

	ok, err := a.CancelOrder(cctx, symbol, orderID)
	g.done(a.ID(), err)
	if err != nil {
		return false, err
	}
	g.logger.Info("order cancel", zap.String("exchange", a.ID().String()),
		zap.String("order_id", orderID), zap.Bool("cancelled", ok))
	return ok, nil
}

// RestartAdapter tears down and reinitializes one adapter. It returns the fresh
// health snapshot and the primary selected afterwards.
func (g *Gateway) RestartAdapter(ctx context.Context, id domain.ExchangeID) (domain.AdapterHealth, domain.ExchangeID, error) {
	if id == "" {
		return domain.AdapterHealth{}, "", domain.NewError(domain.KindInvalidRequest, id, "restart", errors.New("exchange id is required"))
	}
	a, err := g.Adapter(id)
	if err != nil {
		return domain.AdapterHealth{}, "", err
	}

	lock, _ := g.restarting.LoadOrStore(id, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	g.logger.Info("restarting adapter", zap.String("exchange", id.String()))
	if err := a.Close(); err != nil {
		g.logger.Warn("close before restart", zap.String("exchange", id.String()), zap.Error(err))
	}
	g.health.reset(id)
	initErr := g.initialize(ctx, a)
	primary := g.recompute()

	h := g.health.snapshot(id, a.State(), a.Capabilities())
	if initErr != nil {
		g.logger.Warn("adapter restart degraded", zap.String("exchange", id.String()), zap.Error(initErr))
	}
	return h, primary, nil
}

// Close closes every adapter and reports the first error.
func (g *Gateway) Close() error {
	var first error
	for _, a := range g.ordered() {
		if err := a.Close(); err != nil {
			g.logger.Warn("close adapter", zap.String("exchange", a.ID().String()), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
