package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/pkg/retrier"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	opts = append([]Option{WithRetrier(retrier.New(
		retrier.WithMaxRetries(1),
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithRetryIf(domain.IsRetryable),
		retrier.WithWaitFor(func(err error) time.Duration {
			if domain.RetryAfterOf(err) > 0 {
				return time.Millisecond
			}
			return 0
		}),
	))}, opts...)
	return New(domain.Binance, srv.URL, srv.Client(), time.Second, 1000, 10, zap.NewNop(), opts...), &calls
}

func get() (Request, error) {
	return Request{Method: http.MethodGet, Path: "/x", Query: "a=1"}, nil
}

func TestClient_Success(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x", r.URL.Path)
		assert.Equal(t, "a=1", r.URL.RawQuery)
		assert.Equal(t, "v", r.Header.Get("X-K"))
		_, _ = w.Write([]byte(`{"value":42}`))
	})

	var out struct {
		Value int `json:"value"`
	}
	err := c.Do(context.Background(), "get", func() (Request, error) {
		return Request{Method: http.MethodGet, Path: "/x", Query: "a=1", Header: http.Header{"X-K": []string{"v"}}}, nil
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		body      string
		kind      domain.Kind
		wantCalls int32
	}{
		{name: "unauthorized is not retried", status: 401, body: `{"code":-2015}`, kind: domain.KindAuthentication, wantCalls: 1},
		{name: "forbidden", status: 403, kind: domain.KindAuthentication, wantCalls: 1},
		{name: "rate limit retried once", status: 429, header: map[string]string{"Retry-After": "1"}, kind: domain.KindRateLimit, wantCalls: 2},
		{name: "ip ban", status: 418, kind: domain.KindRateLimit, wantCalls: 2},
		{name: "server error retried once", status: 502, kind: domain.KindNetwork, wantCalls: 2},
		{name: "bad request rejected", status: 400, body: `{"code":-1100}`, kind: domain.KindRejected, wantCalls: 1},
		{name: "malformed body", status: 200, body: `{"value":`, kind: domain.KindProtocol, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			var out map[string]any
			err := c.Do(context.Background(), "op", get, &out)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err), err.Error())
			assert.Equal(t, tt.wantCalls, calls.Load())

			var typed *domain.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, domain.Binance, typed.Exchange)
			assert.Equal(t, "op", typed.Op)
		})
	}
}

func TestClient_RetryAfterIsRecorded(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := c.Do(context.Background(), "op", get, nil)
	require.Error(t, err)
	assert.Equal(t, 7*time.Second, domain.RetryAfterOf(err))
}

func TestClient_CodecErrors(t *testing.T) {
	codec := func(status int, body []byte, out any) error {
		return RateLimited("10006", "Too many visits")
	}
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"retCode":10006}`))
	}, WithCodec(codec))

	err := c.Do(context.Background(), "op", get, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindRateLimit))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_BuildErrorIsNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	err := c.Do(context.Background(), "op", func() (Request, error) {
		return Request{}, domain.ConfigurationError(domain.Binance, domain.ErrMissingCredentialKey)
	}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.timeout = 20 * time.Millisecond

	err := c.Do(context.Background(), "op", get, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNetwork))
}

type stubLifecycle struct {
	ctx      context.Context
	reported []error
}

func (l *stubLifecycle) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	return ctx, func() { stop(); cancel() }
}

func (l *stubLifecycle) Report(err error) { l.reported = append(l.reported, err) }

func TestClient_LifecycleCancelsPendingCall(t *testing.T) {
	life, kill := context.WithCancel(context.Background())
	l := &stubLifecycle{ctx: life}
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithLifecycle(l))

	time.AfterFunc(50*time.Millisecond, kill)
	start := time.Now()
	err := c.Do(context.Background(), "account", get, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, domain.IsKind(err, domain.KindCanceled))
	assert.Equal(t, int32(1), calls.Load(), "cancellation is not retried")

	require.Len(t, l.reported, 1)
	assert.ErrorIs(t, l.reported[0], context.Canceled)
}

func TestClient_LifecycleSeesEveryOutcome(t *testing.T) {
	l := &stubLifecycle{ctx: context.Background()}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("a") == "2" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}, WithLifecycle(l))

	require.NoError(t, c.Do(context.Background(), "ok", get, nil))
	require.Error(t, c.Do(context.Background(), "down", func() (Request, error) {
		return Request{Method: http.MethodGet, Path: "/x", Query: "a=2"}, nil
	}, nil))

	require.Len(t, l.reported, 2)
	assert.NoError(t, l.reported[0])
	assert.True(t, domain.IsKind(l.reported[1], domain.KindNetwork))
}

func TestClient_CallerDeadlineIsTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Do(ctx, "op", get, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTimeout))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
	assert.Equal(t, 3*time.Second, ParseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	assert.Greater(t, ParseRetryAfter(time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)), 30*time.Second)
}

func TestContainsLimitHint(t *testing.T) {
	assert.True(t, ContainsLimitHint("Too many requests"))
	assert.True(t, ContainsLimitHint("Requests too frequent"))
	assert.False(t, ContainsLimitHint("Invalid symbol"))
}
