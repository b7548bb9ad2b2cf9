package cryptocom

import (
	"context"
	"encoding/json"
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
	"github.com/vadiminshakov/exgate/internal/signer"
	"go.uber.org/zap"
)

var cred = domain.Credential{APIKey: "key", APISecret: "secret"}

type rpcRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	APIKey string         `json:"api_key"`
	Params map[string]any `json:"params"`
	Nonce  int64          `json:"nonce"`
	Sig    string         `json:"sig"`
}

type fakeCryptoCom struct {
	*httptest.Server
	heartbeatReplies chan int64
	subscribed       chan []string
}

func newFakeCryptoCom(t *testing.T, private func(w http.ResponseWriter, req rpcRequest)) *fakeCryptoCom {
	t.Helper()
	f := &fakeCryptoCom{heartbeatReplies: make(chan int64, 4), subscribed: make(chan []string, 4)}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-tickers", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("instrument_name") {
		case "BTC_USDT":
			_, _ = w.Write([]byte(`{"id":-1,"method":"public/get-tickers","code":0,"result":{"data":[{"i":"BTC_USDT","h":"51000","l":"49000","a":"50000","v":"12","c":"0.25","t":1700000000000}]}}`))
		default:
			_, _ = w.Write([]byte(`{"id":-1,"method":"public/get-tickers","code":0,"result":{"data":[]}}`))
		}
	})
	mux.HandleFunc("/private/", func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, strings.TrimPrefix(r.URL.Path, "/"), req.Method)
		assert.Equal(t, "key", req.APIKey)
		assert.NotEmpty(t, req.Sig)
		private(w, req)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
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
			var req rpcRequest
			_ = json.Unmarshal(msg, &req)
			switch req.Method {
			case "public/auth":
				assert.NotEmpty(t, req.Sig)
				_ = conn.WriteJSON(map[string]any{"id": req.ID, "method": "public/auth", "code": 0})
				_ = conn.WriteJSON(map[string]any{"id": 1587523073344, "method": "public/heartbeat", "code": 0})
			case "public/respond-heartbeat":
				f.heartbeatReplies <- req.ID
			case "subscribe":
				var channels []string
				for _, c := range req.Params["channels"].([]any) {
					channels = append(channels, c.(string))
				}
				f.subscribed <- channels
			}
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeCryptoCom) config(c domain.Credential) adapter.Config {
	return adapter.Config{
		Credential:     c,
		BaseURL:        f.URL,
		StreamURL:      "ws" + strings.TrimPrefix(f.URL, "http") + "/user",
		RequestTimeout: time.Second,
		RateLimit:      1000,
		Burst:          100,
		Stream:         connmgr.Policy{BaseDelay: 10 * time.Millisecond},
	}
}

func TestAdapter_Ticker(t *testing.T) {
	f := newFakeCryptoCom(t, nil)
	a := New(f.config(domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))

	tk, err := a.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.True(t, decimal.NewFromInt(25).Equal(tk.Change24hPercent))
	assert.True(t, decimal.NewFromInt(10000).Equal(tk.Change24h))

	tk, err = a.GetTicker(context.Background(), "NOPE/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestAdapter_UserStream(t *testing.T) {
	f := newFakeCryptoCom(t, nil)
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop()})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Initialize(ctx))
	assert.Equal(t, domain.StateConnected, a.State())

	select {
	case channels := <-f.subscribed:
		assert.Equal(t, []string{"user.order", "user.balance"}, channels)
	case <-time.After(time.Second):
		t.Fatal("no subscription after auth")
	}
	select {
	case id := <-f.heartbeatReplies:
		assert.Equal(t, int64(1587523073344), id)
	case <-time.After(time.Second):
		t.Fatal("heartbeat not answered")
	}
}

func TestAdapter_Trading(t *testing.T) {
	engine := signer.NewEngine()
	f := newFakeCryptoCom(t, func(w http.ResponseWriter, req rpcRequest) {
		// recompute the signature the way the venue does
		want, err := engine.Sign(domain.CryptoCom, signer.Request{Method: req.Method, ID: req.ID, Params: req.Params}, cred, req.Nonce)
		assert.NoError(t, err)
		assert.Equal(t, want.Signature, req.Sig)

		switch req.Method {
		case "private/user-balance":
			_, _ = w.Write([]byte(`{"id":1,"code":0,"result":{"data":[{"position_balances":[{"instrument_name":"CRO","quantity":"100","reserved_qty":"40"},{"instrument_name":"USD","quantity":"0","reserved_qty":"0"}]}]}}`))
		case "private/create-order":
			assert.Equal(t, "BTC_USDT", req.Params["instrument_name"])
			assert.Equal(t, "BUY", req.Params["side"])
			assert.Equal(t, "LIMIT", req.Params["type"])
			assert.Equal(t, "0.1", req.Params["quantity"])
			assert.Equal(t, "30000", req.Params["price"])
			_, _ = w.Write([]byte(`{"id":2,"code":0,"result":{"order_id":"6530219466236720401","client_oid":"` + req.Params["client_oid"].(string) + `"}}`))
		case "private/cancel-order":
			if req.Params["order_id"] == "6530219466236720401" {
				_, _ = w.Write([]byte(`{"id":3,"code":0}`))
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"id":3,"code":40401,"message":"NOT_FOUND"}`))
		}
	})
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop()})

	balances, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "CRO", balances[0].Currency)
	assert.True(t, decimal.NewFromInt(60).Equal(balances[0].Free))

	o, err := a.CreateOrder(context.Background(), domain.OrderParams{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.1"),
		Price:    decimal.NewNullDecimal(decimal.NewFromInt(30000)),
	})
	require.NoError(t, err)
	assert.Equal(t, "6530219466236720401", o.OrderID)

	ok, err := a.CancelOrder(context.Background(), "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.CancelOrder(context.Background(), "BTC/USDT", "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCodec(t *testing.T) {
	assert.True(t, domain.IsKind(codec(400, []byte(`{"code":40101,"message":"AUTHENTICATION_FAILURE"}`), nil), domain.KindAuthentication))
	assert.True(t, domain.IsKind(codec(400, []byte(`{"code":42901,"message":"TOO_MANY_REQUESTS"}`), nil), domain.KindRateLimit))
	assert.True(t, domain.IsKind(codec(400, []byte(`{"code":20002,"message":"NEGATIVE_BALANCE"}`), nil), domain.KindRejected))
}
