package internal

import (
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/exgate/config"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/adapter/binance"
	"github.com/vadiminshakov/exgate/internal/adapter/bybit"
	"github.com/vadiminshakov/exgate/internal/adapter/cryptocom"
	"github.com/vadiminshakov/exgate/internal/adapter/hyperliquid"
	"github.com/vadiminshakov/exgate/internal/adapter/kucoin"
	"github.com/vadiminshakov/exgate/internal/adapter/mexc"
	"github.com/vadiminshakov/exgate/internal/adapter/okx"
	"github.com/vadiminshakov/exgate/internal/adapter/simulate"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/signer"
	"github.com/vadiminshakov/exgate/internal/storage/simstate"
)

// Wiring are the collaborators shared by every adapter the factory builds.
type Wiring struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Observer   connmgr.Observer
	Sink       adapter.TickerSink
}

// deps gives each adapter its own nonce source; the signer and HTTP client are shared.
func (w Wiring) deps(engine *signer.Engine) adapter.Deps {
	return adapter.Deps{
		Logger:     w.Logger,
		HTTPClient: w.HTTPClient,
		Signer:     engine,
		Nonce:      signer.NewNonce(),
		Observer:   w.Observer,
		Sink:       w.Sink,
	}.WithDefaults()
}

func adapterConfig(ex config.ExchangeConfig) adapter.Config {
	return adapter.Config{
		Credential:     ex.Credential,
		BaseURL:        ex.BaseURL,
		StreamURL:      ex.StreamURL,
		Symbols:        ex.Symbols,
		RequestTimeout: ex.RequestTimeout,
		RateLimit:      ex.RateLimit,
		Burst:          ex.Burst,
		Stream:         ex.Reconnect,
		Heartbeat:      ex.Heartbeat,
	}
}

// BuildAdapters creates the configured adapters in priority order. This is the
// single point of dispatch to exchange specific implementations.
func BuildAdapters(cfg *config.Config, w Wiring) ([]adapter.Adapter, error) {
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	engine := signer.NewEngine()

	built := make(map[domain.ExchangeID]adapter.Adapter, len(cfg.Exchanges))
	out := make([]adapter.Adapter, 0, len(cfg.Exchanges))

	// simulate needs its price source, so it is built after the venues
	var sims []config.ExchangeConfig
	for _, ex := range cfg.Exchanges {
		if ex.Name == domain.Simulate {
			sims = append(sims, ex)
			out = append(out, nil)
			continue
		}
		a, err := newVenue(ex.Name, adapterConfig(ex), w.deps(engine))
		if err != nil {
			return nil, err
		}
		built[ex.Name] = a
		out = append(out, a)
	}

	for _, ex := range sims {
		source, ok := built[ex.PriceSource]
		if !ok {
			// public-only instance, never registered
			var err error
			source, err = newVenue(ex.PriceSource, adapter.Config{Symbols: ex.Symbols}, w.deps(engine))
			if err != nil {
				return nil, err
			}
		}
		sim, err := newSimulate(ex, source, w.deps(engine))
		if err != nil {
			return nil, err
		}
		for i := range out {
			if out[i] == nil {
				out[i] = sim
				break
			}
		}
	}

	for _, a := range out {
		w.Logger.Info("adapter configured",
			zap.String("exchange", a.ID().String()),
			zap.Strings("capabilities", capabilityNames(a.Capabilities())))
	}
	return out, nil
}

func newVenue(id domain.ExchangeID, cfg adapter.Config, deps adapter.Deps) (adapter.Adapter, error) {
	switch id {
	case domain.Binance:
		return binance.New(cfg, deps), nil
	case domain.Bybit:
		return bybit.New(cfg, deps), nil
	case domain.OKX:
		return okx.New(cfg, deps), nil
	case domain.KuCoin:
		return kucoin.New(cfg, deps), nil
	case domain.CryptoCom:
		return cryptocom.New(cfg, deps), nil
	case domain.MEXC:
		return mexc.New(cfg, deps), nil
	case domain.Hyperliquid:
		return hyperliquid.New(cfg, deps), nil
	default:
		return nil, domain.ConfigurationError(id, errors.Wrapf(domain.ErrUnknownExchange, "exchange %q", id))
	}
}

func newSimulate(ex config.ExchangeConfig, source adapter.Adapter, deps adapter.Deps) (adapter.Adapter, error) {
	var opts []simulate.Option
	balances, err := ex.SimulateBalances()
	if err != nil {
		return nil, domain.ConfigurationError(domain.Simulate, err)
	}
	if len(balances) > 0 {
		opts = append(opts, simulate.WithBalances(balances))
	}

	store, err := simstate.NewStore(ex.StateDir, string(ex.PriceSource))
	if err != nil {
		deps.Logger.Warn("simulate state disabled", zap.Error(err))
	} else {
		opts = append(opts, simulate.WithStore(store))
	}
	return simulate.New(adapterConfig(ex), deps, source, opts...)
}

func capabilityNames(caps domain.Capabilities) []string {
	list := caps.List()
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, string(c))
	}
	return out
}
