package config

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// Get parses the command line, preloads the .env file and returns the config
// with credentials attached.
func Get() (*Config, error) {
	return getFromArgs(flag.CommandLine, os.Args[1:])
}

func getFromArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	path := fs.String("config", "", "path to yaml config")
	envFile := fs.String("env", ".env", "dotenv file with exchange credentials")
	addr := fs.String("addr", "", "http listen address, overrides server.addr")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "load %s", *envFile)
	}

	var (
		cfg *Config
		err error
	)
	if *path != "" {
		cfg, err = Load(*path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = Default()
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	cfg.LoadCredentials(os.Getenv)
	return cfg, nil
}

// EnvPrefix is the environment prefix of an exchange, e.g. BINANCE.
func EnvPrefix(id domain.ExchangeID) string {
	return strings.ToUpper(strings.ReplaceAll(string(id), "-", "_"))
}

// LoadCredentials fills every exchange's credential from <PREFIX>_API_KEY,
// <PREFIX>_API_SECRET and <PREFIX>_API_PASSPHRASE. Missing variables leave the
// adapter public-only.
func (c *Config) LoadCredentials(getenv func(string) string) {
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		prefix := EnvPrefix(ex.Name)
		ex.Credential = domain.Credential{
			Exchange:   ex.Name,
			APIKey:     strings.TrimSpace(getenv(prefix + "_API_KEY")),
			APISecret:  strings.TrimSpace(getenv(prefix + "_API_SECRET")),
			Passphrase: strings.TrimSpace(getenv(prefix + "_API_PASSPHRASE")),
		}
	}
}
