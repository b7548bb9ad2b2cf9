// Package signer computes per-exchange authentication for REST and stream requests.
// Each exchange family is a separate Strategy; payload construction is byte exact and
// covered by known-answer tests, because the venues only ever answer "invalid signature".
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// Request is the unsigned request description.
type Request struct {
	// Method is the HTTP verb, or the RPC method name for RPC-style venues.
	Method string
	// Path is the request path including the API prefix.
	Path string
	// Params go to the query string for GET/DELETE and to the body otherwise.
	Params map[string]any
	// ID is the request identifier of RPC-style venues.
	ID int64
}

// Signed is the result of signing.
type Signed struct {
	Signature string
	Headers   http.Header
	// Query is the encoded query string to send, without the leading '?'.
	Query string
	// Body is the exact body to send.
	Body []byte
	// Payload is the exact string that was signed.
	Payload string
}

// Strategy signs requests for one exchange family.
type Strategy interface {
	Sign(req Request, cred domain.Credential, nonce int64) (Signed, error)
	RequiresPassphrase() bool
}

// Engine dispatches to the strategy registered for an exchange.
type Engine struct {
	mu         sync.RWMutex
	strategies map[domain.ExchangeID]Strategy
}

// NewEngine creates an engine with the strategies of all supported venues.
func NewEngine() *Engine {
	e := &Engine{strategies: make(map[domain.ExchangeID]Strategy)}
	e.Register(domain.Binance, NewBinance())
	e.Register(domain.MEXC, NewMEXC())
	e.Register(domain.Bybit, NewBybit())
	e.Register(domain.OKX, NewOKX())
	e.Register(domain.KuCoin, NewKuCoin())
	e.Register(domain.CryptoCom, NewCryptoCom())
	return e
}

// Register sets the strategy for an exchange.
func (e *Engine) Register(id domain.ExchangeID, s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[id] = s
}

// Strategy returns the strategy registered for id.
func (e *Engine) Strategy(id domain.ExchangeID) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[id]
	return s, ok
}

// Sign signs req for exchange id.
func (e *Engine) Sign(id domain.ExchangeID, req Request, cred domain.Credential, nonce int64) (Signed, error) {
	s, ok := e.Strategy(id)
	if !ok {
		return Signed{}, domain.ConfigurationError(id, errors.Wrapf(domain.ErrUnknownExchange, "no signer for %s", id))
	}
	return s.Sign(req, cred, nonce)
}

// Nonce produces strictly increasing millisecond timestamps.
type Nonce struct {
	last atomic.Int64
	now  func() time.Time
}

// NewNonce creates a nonce source backed by the wall clock.
func NewNonce() *Nonce {
	return &Nonce{now: time.Now}
}

// Next returns max(now, last+1).
func (n *Nonce) Next() int64 {
	for {
		last := n.last.Load()
		next := n.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

func hmacSHA256(secret, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func hmacHex(secret, payload string) string {
	return hex.EncodeToString(hmacSHA256(secret, payload))
}

func hmacBase64(secret, payload string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(secret, payload))
}

func isQueryMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete, "":
		return true
	default:
		return false
	}
}

// SortedQuery encodes params as key=value pairs sorted by key.
func SortedQuery(params map[string]any) string {
	keys := sortedKeys(params)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(FormatValue(params[k])))
	}
	return strings.Join(parts, "&")
}

// SortedJSON encodes params as a JSON object; encoding/json orders map keys.
func SortedJSON(params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}
	return body, nil
}

func sortedKeys(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatValue renders a scalar parameter the way venues expect it on the wire.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	return out
}
