// Package rest is the HTTP transport shared by adapters: per-call timeout, rate limiting,
// status classification into typed errors and a bounded retry.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxBody                 = 4 << 20
	defaultRateLimitBackoff = time.Second
)

// Request is one HTTP call. Query is already encoded.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
	Header http.Header
}

// Codec decodes a response body into out and maps venue error envelopes to typed
// errors. It is called for 2xx responses and for 4xx other than 401/403/429/418.
type Codec func(status int, body []byte, out any) error

// Lifecycle ties calls to the adapter that owns the client.
type Lifecycle interface {
	// Bind derives a context that is also cancelled when the adapter closes.
	Bind(ctx context.Context) (context.Context, context.CancelFunc)
	// Report receives the outcome of every call.
	Report(err error)
}

// Client executes requests against one venue.
type Client struct {
	exchange domain.ExchangeID
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	retry    *retrier.Retrier
	codec    Codec
	life     Lifecycle
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the envelope codec. The default decodes plain JSON.
func WithCodec(c Codec) Option {
	return func(cl *Client) { cl.codec = c }
}

// WithLifecycle binds every call to l.
func WithLifecycle(l Lifecycle) Option {
	return func(cl *Client) { cl.life = l }
}

// WithRetrier overrides the retry policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(cl *Client) { cl.retry = r }
}

// New creates a client. rps and burst configure the token bucket.
func New(exchange domain.ExchangeID, baseURL string, httpClient *http.Client, timeout time.Duration, rps float64, burst int, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		exchange: exchange,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		timeout:  timeout,
		codec:    JSON,
		logger:   logger,
		retry: retrier.New(
			retrier.WithMaxRetries(1),
			retrier.WithInitialInterval(500*time.Millisecond),
			retrier.WithRetryIf(domain.IsRetryable),
			retrier.WithWaitFor(waitFor),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// waitFor honours Retry-After and gives rate limits a longer default pause than network errors.
func waitFor(err error) time.Duration {
	if d := domain.RetryAfterOf(err); d > 0 {
		return d
	}
	if domain.IsKind(err, domain.KindRateLimit) {
		return defaultRateLimitBackoff
	}
	return 0
}

// BaseURL returns the venue root.
func (c *Client) BaseURL() string { return c.baseURL }

// Wait blocks on the rate limiter. SDK calls that bypass Do use it directly.
func (c *Client) Wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.transportError(ctx, "rate limiter", err)
	}
	return nil
}

// Do runs build and the call, retrying on network and rate limit errors.
// build runs per attempt so signed requests get a fresh timestamp.
func (c *Client) Do(ctx context.Context, op string, build func() (Request, error), out any) error {
	if c.life != nil {
		var cancel context.CancelFunc
		ctx, cancel = c.life.Bind(ctx)
		defer cancel()
	}

	attempt := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		req, err := build()
		if err != nil {
			return err
		}
		err = c.once(ctx, op, req, out)
		if err != nil && domain.IsRetryable(err) {
			c.logger.Debug("request failed",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.retry.MaxRetries()),
				zap.Error(err))
		}
		return err
	})
	if err != nil && ctx.Err() != nil && domain.KindOf(err) == domain.KindUnknown {
		// the retrier returns the bare context error when it stops between attempts
		err = c.transportError(ctx, op, err)
	}
	if c.life != nil {
		c.life.Report(err)
	}
	return err
}

// transportError classifies a failure to get an answer. A cancelled ctx is a
// cancellation, an expired one a timeout, anything else a network error.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.CanceledError(c.exchange, op, ctx.Err())
	case ctx.Err() != nil:
		return domain.NewError(domain.KindTimeout, c.exchange, op, err)
	default:
		return domain.NewError(domain.KindNetwork, c.exchange, op, err)
	}
}

func (c *Client) once(ctx context.Context, op string, req Request, out any) error {
	if err := c.Wait(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + req.Path
	if req.Query != "" {
		url += "?" + req.Query
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(cctx, req.Method, url, body)
	if err != nil {
		return domain.NewError(domain.KindConfiguration, c.exchange, op, errors.Wrap(err, "build request"))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return c.transportError(ctx, op, errors.Wrap(err, "read body"))
	}

	if err := c.classify(op, resp, raw); err != nil {
		return err
	}

	if err := c.codec(resp.StatusCode, raw, out); err != nil {
		var typed *domain.Error
		if errors.As(err, &typed) {
			if typed.Exchange == "" {
				typed.Exchange = c.exchange
			}
			if typed.Op == "" {
				typed.Op = op
			}
			return typed
		}
		return domain.ProtocolError(c.exchange, op, raw, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		e := domain.NewError(domain.KindRejected, c.exchange, op, errors.Errorf("http %d", resp.StatusCode))
		e.Code = strconv.Itoa(resp.StatusCode)
		e.Payload = string(raw)
		return e
	}
	return nil
}

// classify handles the statuses whose meaning does not depend on the venue.
func (c *Client) classify(op string, resp *http.Response, raw []byte) error {
	status := resp.StatusCode
	var kind domain.Kind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.KindAuthentication
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		kind = domain.KindRateLimit
	case status >= http.StatusInternalServerError:
		kind = domain.KindNetwork
	default:
		return nil
	}

	e := domain.NewError(kind, c.exchange, op, errors.Errorf("http %d", status))
	e.Code = strconv.Itoa(status)
	e.Payload = string(raw)
	if kind == domain.KindRateLimit {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP date form.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// JSON is the default codec: plain JSON for success, nothing special for errors.
func JSON(status int, body []byte, out any) error {
	if status >= http.StatusBadRequest || out == nil || len(body) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "decode response")
}

// RateLimited builds a rate limit error detected from a response body.
func RateLimited(code, msg string) *domain.Error {
	e := domain.NewError(domain.KindRateLimit, "", "", errors.New(msg))
	e.Code = code
	return e
}

// Rejected builds a venue rejection with its code.
func Rejected(code, msg string) *domain.Error {
	e := domain.NewError(domain.KindRejected, "", "", errors.New(msg))
	e.Code = code
	return e
}

// AuthFailed builds an authentication error reported in a response body.
func AuthFailed(code, msg string) *domain.Error {
	e := domain.NewError(domain.KindAuthentication, "", "", errors.New(msg))
	e.Code = code
	return e
}

// ContainsLimitHint detects throttling messages in bodies of venues that answer 200 or 400.
func ContainsLimitHint(msg string) bool {
	m := strings.ToLower(msg)
	for _, hint := range []string{"too many", "rate limit", "too frequent", "request limit", "frequency"} {
		if strings.Contains(m, hint) {
			return true
		}
	}
	return false
}
