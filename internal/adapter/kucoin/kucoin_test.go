package kucoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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

const snapshotFrame = `{"type":"message","topic":"/market/snapshot:BTC-USDT","subject":"trade.snapshot","data":{"sequence":"1","data":{"symbol":"BTC-USDT","lastTradedPrice":62000.5,"changePrice":-500,"changeRate":-0.008,"high":63000,"low":61000,"vol":1234.5,"datetime":1700000000000}}}`

type fakeKuCoin struct {
	*httptest.Server
	pings   atomic.Int32
	bullets atomic.Int32
	topics  chan string
}

func newFakeKuCoin(t *testing.T, private http.HandlerFunc) *fakeKuCoin {
	t.Helper()
	f := &fakeKuCoin{topics: make(chan string, 8)}
	upgrader := websocket.Upgrader{}
	if private == nil {
		private = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/timestamp", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"200000","data":1700000000000}`))
	})
	mux.HandleFunc("/api/v1/market/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTC-USDT" {
			_, _ = w.Write([]byte(`{"code":"200000","data":{"symbol":"NOPE-USDT","last":null,"time":1700000000000}}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":"200000","data":{"symbol":"BTC-USDT","last":"62000","changePrice":"620","changeRate":"0.0101","high":"63000","low":"60000","vol":"100","time":1700000000000}}`))
	})
	mux.HandleFunc("/api/v1/bullet-private", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "2", r.Header.Get("KC-API-KEY-VERSION"))
		f.bullets.Add(1)
		endpoint := "ws" + strings.TrimPrefix(f.URL, "http") + "/socket"
		_, _ = w.Write([]byte(`{"code":"200000","data":{"token":"tok","instanceServers":[{"endpoint":"` + endpoint + `","pingInterval":30,"pingTimeout":10000}]}}`))
	})
	mux.HandleFunc("/api/v1/", private)
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		assert.NotEmpty(t, r.URL.Query().Get("connectId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"c1","type":"welcome"}`))
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID    string `json:"id"`
				Type  string `json:"type"`
				Topic string `json:"topic"`
			}
			_ = json.Unmarshal(msg, &req)
			switch req.Type {
			case "ping":
				f.pings.Add(1)
				_ = conn.WriteJSON(map[string]string{"id": req.ID, "type": "pong"})
			case "subscribe":
				f.topics <- req.Topic
				_ = conn.WriteJSON(map[string]string{"id": req.ID, "type": "ack"})
				if strings.HasPrefix(req.Topic, "/market/snapshot:") {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(snapshotFrame))
				}
			}
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeKuCoin) config(c domain.Credential) adapter.Config {
	return adapter.Config{
		Credential:     c,
		BaseURL:        f.URL,
		Symbols:        []string{"BTC/USDT"},
		RequestTimeout: time.Second,
		RateLimit:      1000,
		Burst:          100,
		Stream:         connmgr.Policy{BaseDelay: 10 * time.Millisecond},
	}
}

func TestAdapter_Ticker(t *testing.T) {
	f := newFakeKuCoin(t, nil)
	a := New(f.config(domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))
	assert.Nil(t, a.Stream())

	tk, err := a.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.True(t, decimal.RequireFromString("1.01").Equal(tk.Change24hPercent))

	tk, err = a.GetTicker(context.Background(), "NOPE/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestAdapter_StreamTickers(t *testing.T) {
	f := newFakeKuCoin(t, nil)
	got := make(chan domain.Ticker, 4)
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop(), Sink: func(t domain.Ticker) { got <- t }})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Initialize(ctx))
	assert.Equal(t, domain.StateConnected, a.State())
	assert.Equal(t, int32(1), f.bullets.Load())

	topics := []string{<-f.topics, <-f.topics}
	assert.ElementsMatch(t, []string{"/market/snapshot:BTC-USDT", "/account/balance"}, topics)

	select {
	case tk := <-got:
		assert.Equal(t, domain.KuCoin, tk.Exchange)
		assert.Equal(t, "BTC/USDT", tk.Symbol)
		assert.True(t, decimal.RequireFromString("-0.8").Equal(tk.Change24hPercent))
		assert.Equal(t, int64(1700000000000), tk.ObservedAt.UnixMilli())
	case <-time.After(time.Second):
		t.Fatal("no streamed ticker")
	}

	// the 30ms interval comes from the bullet response
	assert.Eventually(t, func() bool { return f.pings.Load() >= 2 }, time.Second, 10*time.Millisecond)
}

func TestAdapter_Trading(t *testing.T) {
	f := newFakeKuCoin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("KC-API-KEY"))
		assert.NotEqual(t, "pass", r.Header.Get("KC-API-PASSPHRASE"))

		switch {
		case r.URL.Path == "/api/v1/accounts":
			assert.Equal(t, "trade", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(`{"code":"200000","data":[
				{"currency":"USDT","type":"trade","balance":"10","available":"7","holds":"3"},
				{"currency":"USDT","type":"main","balance":"1000","available":"1000","holds":"0"}]}`))
		case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
			var m map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			assert.Equal(t, "BTC-USDT", m["symbol"])
			assert.Equal(t, "sell", m["side"])
			assert.Equal(t, "market", m["type"])
			assert.Equal(t, "0.25", m["size"])
			assert.NotEmpty(t, m["clientOid"])
			_, _ = w.Write([]byte(`{"code":"200000","data":{"orderId":"5bd6e9286d99522a52e458de"}}`))
		case r.URL.Path == "/api/v1/orders/5bd6e9286d99522a52e458de" && r.Method == http.MethodDelete:
			_, _ = w.Write([]byte(`{"code":"200000","data":{"cancelledOrderIds":["5bd6e9286d99522a52e458de"]}}`))
		case r.Method == http.MethodDelete:
			_, _ = w.Write([]byte(`{"code":"400100","msg":"order_not_exist_or_not_allow_to_cancel"}`))
		}
	})
	a := New(f.config(cred), adapter.Deps{Logger: zap.NewNop()})

	balances, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(balances[0].Total))

	o, err := a.CreateOrder(context.Background(), domain.OrderParams{
		Symbol:   "BTC/USDT",
		Side:     domain.SideSell,
		Type:     domain.OrderTypeMarket,
		Quantity: decimal.RequireFromString("0.25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "5bd6e9286d99522a52e458de", o.OrderID)
	assert.NotEmpty(t, o.ClientOrderID)

	ok, err := a.CancelOrder(context.Background(), "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.CancelOrder(context.Background(), "BTC/USDT", "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCodec(t *testing.T) {
	assert.True(t, domain.IsKind(codec(200, []byte(`{"code":"400005","msg":"Invalid KC-API-SIGN"}`), nil), domain.KindAuthentication))
	assert.True(t, domain.IsKind(codec(200, []byte(`{"code":"429000","msg":"Too Many Requests"}`), nil), domain.KindRateLimit))
	assert.True(t, domain.IsKind(codec(200, []byte(`{"code":"200004","msg":"Balance insufficient!"}`), nil), domain.KindRejected))
	assert.NoError(t, codec(200, []byte(`{"code":"200000","data":null}`), &struct{}{}))
}
