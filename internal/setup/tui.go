// Package setup is the interactive wizard behind `exgate setup`. It writes a
// config file the gateway can start from.
package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/exgate/config"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// DefaultPath is where the wizard writes when no path is given.
const DefaultPath = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

var venues = []struct {
	id    domain.ExchangeID
	label string
}{
	{domain.Binance, "Binance"},
	{domain.Bybit, "Bybit"},
	{domain.OKX, "OKX"},
	{domain.KuCoin, "KuCoin"},
	{domain.CryptoCom, "Crypto.com"},
	{domain.MEXC, "MEXC"},
	{domain.Hyperliquid, "Hyperliquid"},
	{domain.Simulate, "Simulation (paper wallet)"},
}

// Answers is what the wizard collects.
type Answers struct {
	// Exchanges in the order they were offered; Primary is moved to the front.
	Exchanges []domain.ExchangeID
	Primary   domain.ExchangeID
	// Symbols is a comma separated list, e.g. "BTC/USDT, ETH-USDT".
	Symbols     string
	PriceSource domain.ExchangeID
	// QuoteBalance seeds the simulate wallet in the quote currency of the first symbol.
	QuoteBalance string
	Addr         string
	LogFormat    string
}

// Config turns the answers into a config and checks it the same way the
// gateway will when it loads the file.
func (a Answers) Config() (*config.Config, error) {
	if len(a.Exchanges) == 0 {
		return nil, errors.New("choose at least one exchange")
	}

	symbols, err := splitSymbols(a.Symbols)
	if err != nil {
		return nil, err
	}

	ordered := make([]domain.ExchangeID, 0, len(a.Exchanges))
	if a.Primary != "" {
		ordered = append(ordered, a.Primary)
	}
	for _, id := range a.Exchanges {
		if id != a.Primary {
			ordered = append(ordered, id)
		}
	}

	cfg := &config.Config{}
	cfg.Server.Addr = a.Addr
	cfg.Logging.Format = a.LogFormat
	for _, id := range ordered {
		ex := config.ExchangeConfig{Name: id, Symbols: symbols}
		if id == domain.Simulate {
			ex.PriceSource = a.PriceSource
			if a.QuoteBalance != "" {
				pair, _ := domain.ParseSymbol(symbols[0])
				ex.Balances = map[string]string{pair.Quote: a.QuoteBalance}
			}
		}
		cfg.Exchanges = append(cfg.Exchanges, ex)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "generate yaml")
	}
	return config.Parse(data)
}

// Write saves cfg as yaml.
func Write(path string, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "generate yaml")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "save config %s", path)
}

// RunTUI launches the terminal wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = DefaultPath
	}

	a := Answers{
		Symbols:      "BTC/USDT",
		PriceSource:  domain.Binance,
		QuoteBalance: "10000",
		Addr:         ":8080",
		LogFormat:    "json",
	}

	screen("STEP 1: EXCHANGES")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Exchanges are tried in the order listed.\n"))
	options := make([]huh.Option[domain.ExchangeID], 0, len(venues))
	for _, v := range venues {
		options = append(options, huh.NewOption(v.label, v.id).Selected(v.id != domain.Simulate))
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[domain.ExchangeID]().
				Title("Which exchanges should the gateway connect to?").
				Options(options...).
				Value(&a.Exchanges).
				Validate(func(ids []domain.ExchangeID) error {
					if len(ids) == 0 {
						return errors.New("choose at least one exchange")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if len(a.Exchanges) > 1 {
		screen("STEP 2: PRIMARY")
		primary := make([]huh.Option[domain.ExchangeID], 0, len(a.Exchanges))
		for _, id := range a.Exchanges {
			primary = append(primary, huh.NewOption(id.String(), id))
		}
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[domain.ExchangeID]().
					Title("Preferred primary exchange").
					Description("Used when a request names no exchange").
					Options(primary...).
					Value(&a.Primary),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	screen("STEP 3: SYMBOLS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbols").
				Description("Comma separated, BASE/QUOTE (e.g. BTC/USDT, ETH/USDT)").
				Value(&a.Symbols).
				Validate(func(s string) error {
					_, err := splitSymbols(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if hasSimulate(a.Exchanges) {
		screen("STEP 4: SIMULATION")
		sources := make([]huh.Option[domain.ExchangeID], 0, len(venues)-1)
		for _, v := range venues {
			if v.id != domain.Simulate {
				sources = append(sources, huh.NewOption(v.label, v.id))
			}
		}
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[domain.ExchangeID]().
					Title("Price source").
					Description("Fills are priced from this exchange's ticker").
					Options(sources...).
					Value(&a.PriceSource),
				huh.NewInput().
					Title("Starting quote balance").
					Value(&a.QuoteBalance).
					Validate(validateBalance),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	screen("STEP 5: SERVER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&a.Addr),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOption("JSON", "json"), huh.NewOption("Console", "console")).
				Value(&a.LogFormat),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := a.Config()
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary(cfg)))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(path, cfg); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf(
		"\nConfiguration saved to %s\nCredentials go to .env as <EXCHANGE>_API_KEY, <EXCHANGE>_API_SECRET, <EXCHANGE>_API_PASSPHRASE\nStart with: exgate -config %s", path, path)))
	return nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EXGATE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

func summary(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		names = append(names, ex.Name.String())
	}
	return fmt.Sprintf("Exchanges: %s\nSymbols: %s\nListen: %s\nLogs: %s\n",
		strings.Join(names, " > "),
		strings.Join(cfg.Exchanges[0].Symbols, ", "),
		cfg.Server.Addr,
		cfg.Logging.Format,
	)
}

func splitSymbols(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair, err := domain.ParseSymbol(part)
		if err != nil {
			return nil, err
		}
		out = append(out, pair.String())
	}
	if len(out) == 0 {
		return nil, errors.New("symbols cannot be empty")
	}
	return out, nil
}

func validateBalance(s string) error {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.New("must be a valid number")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}

func hasSimulate(ids []domain.ExchangeID) bool {
	for _, id := range ids {
		if id == domain.Simulate {
			return true
		}
	}
	return false
}
