package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind classifies gateway errors by how callers should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration missing or malformed credentials/settings. Never retried.
	KindConfiguration
	// KindNoCredentials adapter runs without a credential set.
	KindNoCredentials
	// KindAuthentication remote venue rejected the signature, key or nonce.
	KindAuthentication
	// KindNetwork timeouts, DNS failures, resets and 5xx answers.
	KindNetwork
	// KindRateLimit remote throttling.
	KindRateLimit
	// KindProtocol response could not be decoded or had an unexpected shape.
	KindProtocol
	// KindNormalization response decoded but violates entity invariants.
	KindNormalization
	// KindTimeout the gateway stopped waiting for an adapter.
	KindTimeout
	// KindRejected the venue understood the request and refused it.
	KindRejected
	// KindUnsupported the adapter lacks the capability.
	KindUnsupported
	// KindNotFound unknown exchange or order.
	KindNotFound
	// KindInvalidRequest caller supplied bad parameters.
	KindInvalidRequest
	// KindCanceled the caller or an adapter shutdown abandoned the call.
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindConfiguration:  "configuration",
	KindNoCredentials:  "no_credentials",
	KindAuthentication: "authentication",
	KindNetwork:        "network",
	KindRateLimit:      "rate_limit",
	KindProtocol:       "protocol",
	KindNormalization:  "normalization",
	KindTimeout:        "timeout",
	KindRejected:       "rejected",
	KindUnsupported:    "unsupported",
	KindNotFound:       "not_found",
	KindInvalidRequest: "invalid_request",
	KindCanceled:       "canceled",
}

// String returns the string representation.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is the typed error every adapter and gateway operation returns.
type Error struct {
	Kind     Kind
	Exchange ExchangeID
	Op       string
	// Code is the venue specific error code, if any.
	Code string
	// Payload carries the raw response for protocol errors.
	Payload string
	// RetryAfter is the wait the venue asked for on rate limits.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Exchange != "" {
		b.WriteString(string(e.Exchange))
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, " [payload: %s]", truncate(e.Payload, 512))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindRateLimit}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Exchange == "" || t.Exchange == e.Exchange)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Sentinels.
var (
	ErrNoCredentials        = errors.New("no credentials configured")
	ErrMissingPassphrase    = errors.New("credential requires a passphrase")
	ErrMissingCredentialKey = errors.New("credential is missing api key or secret")
	ErrNoPrimary            = errors.New("no connected adapter available")
	ErrUnknownExchange      = errors.New("unknown exchange")
	ErrUnsupported          = errors.New("operation not supported by adapter")
)

// NewError builds a typed error.
func NewError(kind Kind, exchange ExchangeID, op string, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Op: op, Err: err}
}

// ConfigurationError reports a configuration problem.
func ConfigurationError(exchange ExchangeID, err error) *Error {
	return NewError(KindConfiguration, exchange, "configure", err)
}

// NoCredentialsError is returned by private calls of a credential-less adapter.
func NoCredentialsError(exchange ExchangeID, op string) *Error {
	return NewError(KindNoCredentials, exchange, op, ErrNoCredentials)
}

// ProtocolError keeps the raw payload for diagnosis.
func ProtocolError(exchange ExchangeID, op string, payload []byte, err error) *Error {
	e := NewError(KindProtocol, exchange, op, err)
	e.Payload = string(payload)
	return e
}

// NormalizationError reports an entity that violates its invariants.
func NormalizationError(exchange ExchangeID, entity string, err error) *Error {
	return NewError(KindNormalization, exchange, "normalize "+entity, err)
}

// TimeoutError is used when the gateway stops waiting for an adapter.
func TimeoutError(exchange ExchangeID, op string, after time.Duration) *Error {
	return NewError(KindTimeout, exchange, op, errors.Errorf("no response within %s", after))
}

// CanceledError wraps the context error of an abandoned call, so
// errors.Is(err, context.Canceled) keeps working.
func CanceledError(exchange ExchangeID, op string, cause error) *Error {
	return NewError(KindCanceled, exchange, op, cause)
}

// KindOf extracts the kind of err, KindUnknown if err is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err has the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether an automatic retry makes sense for err.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the venue supplied wait for rate limit errors.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
