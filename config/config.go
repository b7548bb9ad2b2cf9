package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config is the whole process configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Gateway GatewayConfig `yaml:"gateway"`
	Journal JournalConfig `yaml:"journal"`
	// Exchanges in priority order. The first connected one is the primary.
	Exchanges []ExchangeConfig `yaml:"exchanges"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// TLSDomains enables ACME certificates for the listed hosts.
	TLSDomains []string `yaml:"tls_domains"`
	CertCache  string   `yaml:"cert_cache"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File switches output to a rotated file.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type GatewayConfig struct {
	InitTimeout   time.Duration `yaml:"init_timeout"`
	FanOutTimeout time.Duration `yaml:"fanout_timeout"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
}

type JournalConfig struct {
	Disabled   bool   `yaml:"disabled"`
	Dir        string `yaml:"dir"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// ExchangeConfig configures one adapter. Credentials never live here, they come
// from the environment.
type ExchangeConfig struct {
	Name           domain.ExchangeID `yaml:"name"`
	BaseURL        string            `yaml:"base_url"`
	StreamURL      string            `yaml:"stream_url"`
	Symbols        []string          `yaml:"symbols"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	RateLimit      float64           `yaml:"rate_limit"`
	Burst          int               `yaml:"burst"`
	Heartbeat      time.Duration     `yaml:"heartbeat"`
	Reconnect      connmgr.Policy    `yaml:"reconnect"`

	// PriceSource is the exchange a simulate adapter takes prices from.
	PriceSource domain.ExchangeID `yaml:"price_source"`
	// Balances seeds a simulate wallet, e.g. {"USDT": "10000"}.
	Balances map[string]string `yaml:"balances"`
	StateDir string            `yaml:"state_dir"`

	Credential domain.Credential `yaml:"-"`
}

var supported = map[domain.ExchangeID]bool{
	domain.Binance:     true,
	domain.Bybit:       true,
	domain.OKX:         true,
	domain.KuCoin:      true,
	domain.CryptoCom:   true,
	domain.MEXC:        true,
	domain.Hyperliquid: true,
	domain.Simulate:    true,
}

// DefaultExchanges is the priority list used without a config file.
var DefaultExchanges = []domain.ExchangeID{
	domain.Binance, domain.Bybit, domain.OKX, domain.KuCoin, domain.CryptoCom, domain.MEXC,
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	for _, id := range DefaultExchanges {
		cfg.Exchanges = append(cfg.Exchanges, ExchangeConfig{Name: id})
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a yaml file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(f)
}

// Parse decodes yaml config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.ConfigurationError("", errors.Wrap(err, "decode yaml config"))
	}
	if len(cfg.Exchanges) == 0 {
		for _, id := range DefaultExchanges {
			cfg.Exchanges = append(cfg.Exchanges, ExchangeConfig{Name: id})
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 7
	}
	if c.Gateway.InitTimeout <= 0 {
		c.Gateway.InitTimeout = 15 * time.Second
	}
	if c.Gateway.FanOutTimeout <= 0 {
		c.Gateway.FanOutTimeout = 5 * time.Second
	}
	if c.Gateway.CallTimeout <= 0 {
		c.Gateway.CallTimeout = 10 * time.Second
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "./wal/journal"
	}
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		ex.Name = domain.ParseExchangeID(string(ex.Name))
		if len(ex.Symbols) == 0 {
			ex.Symbols = []string{"BTC/USDT"}
		}
		if ex.Name == domain.Simulate && ex.PriceSource == "" {
			ex.PriceSource = domain.Binance
		}
		ex.PriceSource = domain.ParseExchangeID(string(ex.PriceSource))
	}
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	seen := make(map[domain.ExchangeID]bool, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if !supported[ex.Name] {
			return domain.ConfigurationError(ex.Name, errors.Wrapf(domain.ErrUnknownExchange, "exchange %q", ex.Name))
		}
		if seen[ex.Name] {
			return domain.ConfigurationError(ex.Name, errors.Errorf("exchange %q listed twice", ex.Name))
		}
		seen[ex.Name] = true

		for _, s := range ex.Symbols {
			if _, err := domain.ParseSymbol(s); err != nil {
				return domain.ConfigurationError(ex.Name, err)
			}
		}
		if ex.Name == domain.Simulate {
			if ex.PriceSource == domain.Simulate || !supported[ex.PriceSource] {
				return domain.ConfigurationError(ex.Name, errors.Errorf("invalid price source %q", ex.PriceSource))
			}
			if _, err := ex.SimulateBalances(); err != nil {
				return domain.ConfigurationError(ex.Name, err)
			}
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return domain.ConfigurationError("", errors.Errorf("invalid log format %q", c.Logging.Format))
	}
	return nil
}

// SimulateBalances parses the seeded wallet.
func (e ExchangeConfig) SimulateBalances() (map[string]decimal.Decimal, error) {
	if len(e.Balances) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(e.Balances))
	for currency, amount := range e.Balances {
		v, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, errors.Wrapf(err, "incorrect balance for %s", currency)
		}
		if v.IsNegative() {
			return nil, errors.Errorf("negative balance for %s", currency)
		}
		out[strings.ToUpper(currency)] = v
	}
	return out, nil
}

// Exchange returns the entry for id.
func (c *Config) Exchange(id domain.ExchangeID) (ExchangeConfig, bool) {
	for _, ex := range c.Exchanges {
		if ex.Name == id {
			return ex, true
		}
	}
	return ExchangeConfig{}, false
}
