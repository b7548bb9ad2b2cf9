package okx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

var cred = domain.Credential{APIKey: "key", APISecret: "secret", Passphrase: "pass"}

type fakeOKX struct {
	*httptest.Server
	subscribed chan []byte
}

func newFakeOKX(t *testing.T, private http.HandlerFunc) *fakeOKX {
	t.Helper()
	f := &fakeOKX{subscribed: make(chan []byte, 4)}
	if private == nil {
		private = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/time", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ts":"1597026383085"}]}`))
	})
	mux.HandleFunc("/api/v5/market/ticker", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instId") != "BTC-USDT" {
			_, _ = w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"9999.99","open24h":"9000","high24h":"10000","low24h":"8888","vol24h":"2222","ts":"1597026383085"}]}`))
	})
	mux.HandleFunc("/api/v5/account/", private)
	mux.HandleFunc("/api/v5/trade/", private)
	mux.HandleFunc("/ws/v5/private", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
				continue
			}
			var req struct {
				Op string `json:"op"`
			}
			_ = json.Unmarshal(msg, &req)
			switch req.Op {
			case "login":
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"login","code":"0","msg":""}`))
			case "subscribe":
				f.subscribed <- msg
			}
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOKX) config(c domain.Credential) adapter.Config {
	return adapter.Config{
		Credential:     c,
		BaseURL:        f.URL,
		StreamURL:      "ws" + strings.TrimPrefix(f.URL, "http") + "/ws/v5/private",
		RequestTimeout: time.Second,
		RateLimit:      1000,
		Burst:          100,
		Stream:         connmgr.Policy{BaseDelay: 10 * time.Millisecond},
	}
}

func TestAdapter_Ticker(t *testing.T) {
	f := newFakeOKX(t, nil)
	a := New(f.config(domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsConnected())

	tk, err := a.GetTicker(context.Background(), "btc/usdt")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.True(t, decimal.RequireFromString("999.99").Equal(tk.Change24h))
	assert.Equal(t, int64(1597026383085), tk.ObservedAt.UnixMilli())

	tk, err = a.GetTicker(context.Background(), "NOPE/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestAdapter_MissingPassphrase(t *testing.T) {
	f := newFakeOKX(t, nil)
	a := New(f.config(domain.Credential{APIKey: "key", APISecret: "secret"}), adapter.Deps{Logger: zap.NewNop()})

	err := a.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
	assert.ErrorIs(t, err, domain.ErrMissingPassphrase)

	_, err = a.GetBalance(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestAdapter_StreamLoginThenSubscribe(t *testing.T) {
	f := newFakeOKX(t, nil)
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop()})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Initialize(ctx))

	select {
	case msg := <-f.subscribed:
		assert.Contains(t, string(msg), `"channel":"orders"`)
		assert.Contains(t, string(msg), `"channel":"account"`)
	case <-time.After(time.Second):
		t.Fatal("no subscription after login")
	}
	assert.Equal(t, domain.StateConnected, a.State())
}

func TestAdapter_Trading(t *testing.T) {
	f := newFakeOKX(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		assert.True(t, strings.HasSuffix(r.Header.Get("OK-ACCESS-TIMESTAMP"), "Z"))

		switch r.URL.Path {
		case "/api/v5/account/balance":
			_, _ = w.Write([]byte(`{"code":"0","data":[{"details":[{"ccy":"USDT","availBal":"100","frozenBal":"5"},{"ccy":"ETH","availBal":"0","frozenBal":"0"}]}]}`))
		case "/api/v5/trade/order":
			body, _ := io.ReadAll(r.Body)
			var m map[string]any
			assert.NoError(t, json.Unmarshal(body, &m))
			assert.Equal(t, "BTC-USDT", m["instId"])
			assert.Equal(t, "cash", m["tdMode"])
			assert.Equal(t, "limit", m["ordType"])
			assert.Equal(t, "20000", m["px"])
			assert.Len(t, m["clOrdId"], 32)
			_, _ = w.Write([]byte(`{"code":"0","data":[{"ordId":"312269865356374016","clOrdId":"` + m["clOrdId"].(string) + `","sCode":"0","sMsg":"","ts":"1695190491421"}]}`))
		case "/api/v5/trade/cancel-order":
			_, _ = w.Write([]byte(`{"code":"1","msg":"Operation failed.","data":[{"ordId":"1","sCode":"51400","sMsg":"Order cancellation failed as the order has been filled, canceled or does not exist"}]}`))
		}
	})
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop()})

	balances, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, decimal.NewFromInt(105).Equal(balances[0].Total))

	o, err := a.CreateOrder(context.Background(), domain.OrderParams{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.5"),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(20000)),
	})
	require.NoError(t, err)
	assert.Equal(t, "312269865356374016", o.OrderID)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status)

	ok, err := a.CancelOrder(context.Background(), "BTC/USDT", "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCodec(t *testing.T) {
	err := codec(401, []byte(`{"code":"50111","msg":"Invalid OK-ACCESS-KEY"}`), nil)
	assert.True(t, domain.IsKind(err, domain.KindAuthentication))

	err = codec(200, []byte(`{"code":"1","data":[{"sCode":"51008","sMsg":"Insufficient balance"}]}`), nil)
	assert.True(t, domain.IsKind(err, domain.KindRejected))

	err = codec(429, []byte(`{"code":"50011","msg":"Too Many Requests"}`), nil)
	assert.True(t, domain.IsKind(err, domain.KindRateLimit))
}

func TestSymbols(t *testing.T) {
	native, err := ToNative("eth/usdc")
	require.NoError(t, err)
	assert.Equal(t, "ETH-USDC", native)

	p, err := FromNative(native)
	require.NoError(t, err)
	assert.Equal(t, "ETH/USDC", p.String())
}
