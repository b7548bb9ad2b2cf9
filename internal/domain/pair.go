// Package domain defines the canonical entities the gateway hands out regardless of venue.
package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// CanonicalSeparator separates base and quote in canonical symbols.
const CanonicalSeparator = "/"

// Pair cryptocurrency trading pair.
type Pair struct {
	// Base currency symbol.
	Base string
	// Quote currency symbol.
	Quote string
}

// String returns the canonical "BASE/QUOTE" representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s%s%s", p.Base, CanonicalSeparator, p.Quote)
}

// Symbol returns the concatenated symbol representation.
func (p Pair) Symbol() string {
	return p.Base + p.Quote
}

// Join returns base and quote joined by sep.
func (p Pair) Join(sep string) string {
	return p.Base + sep + p.Quote
}

// ErrInvalidSymbol is returned for symbols that cannot be split into base and quote.
var ErrInvalidSymbol = errors.New("invalid symbol")

// ParseSymbol parses a canonical symbol. "-" and "_" are accepted as separators too,
// so path-safe forms like "BTC-USDT" resolve to the same pair.
func ParseSymbol(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{CanonicalSeparator, "-", "_"} {
		parts := strings.Split(s, sep)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == "" || parts[1] == "" {
			break
		}
		return Pair{Base: parts[0], Quote: parts[1]}, nil
	}
	return Pair{}, errors.Wrapf(ErrInvalidSymbol, "%q is not in BASE/QUOTE form", symbol)
}

// SplitJoined splits "BASE<sep>QUOTE".
func SplitJoined(native, sep string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(native), sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errors.Wrapf(ErrInvalidSymbol, "%q is not separated by %q", native, sep)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

// DefaultQuotes are the quote assets recognised in concatenated native symbols.
var DefaultQuotes = []string{
	"USDT", "USDC", "FDUSD", "TUSD", "BUSD", "DAI", "USD", "EUR", "TRY", "BTC", "ETH", "BNB",
}

// SplitConcatenated splits a symbol such as "BTCUSDT" using a quote list.
// The longest matching quote wins so "ETHUSDT" never resolves to quote "USD".
func SplitConcatenated(native string, quotes []string) (Pair, error) {
	if len(quotes) == 0 {
		quotes = DefaultQuotes
	}
	sorted := append([]string(nil), quotes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	s := strings.ToUpper(native)
	for _, q := range sorted {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return Pair{Base: strings.TrimSuffix(s, q), Quote: q}, nil
		}
	}
	return Pair{}, errors.Wrapf(ErrInvalidSymbol, "no known quote asset in %q", native)
}
