package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	sdk "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"go.uber.org/zap"
)

// stream is the user data stream at /ws/<listenKey> with ticker subscriptions on top.
type stream struct {
	a *Adapter
	// listenKey is set by URL and read by Heartbeat, both on the manager goroutine.
	listenKey string
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type frame struct {
	Event string          `json:"e"`
	Error json.RawMessage `json:"error"`
}

func (s *stream) URL(ctx context.Context) (string, error) {
	var res listenKeyResponse
	err := s.a.rest.Do(ctx, "listen key", func() (rest.Request, error) {
		h := http.Header{}
		h.Set("X-MBX-APIKEY", s.a.Credential().APIKey)
		return rest.Request{Method: http.MethodPost, Path: "/api/v3/userDataStream", Header: h}, nil
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ListenKey == "" {
		return "", errors.New("empty listen key")
	}
	s.listenKey = res.ListenKey
	return strings.TrimRight(s.a.cfg.StreamURL, "/") + "/" + res.ListenKey, nil
}

func (s *stream) OnConnect(_ context.Context, snd connmgr.Sender) error {
	if len(s.a.cfg.Symbols) == 0 {
		return nil
	}
	params := make([]string, 0, len(s.a.cfg.Symbols))
	for _, sym := range s.a.cfg.Symbols {
		native, err := ToNative(sym)
		if err != nil {
			return err
		}
		params = append(params, strings.ToLower(native)+"@ticker")
	}
	return snd.SendJSON(map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1})
}

// Heartbeat uses protocol pings; the server pings too and gorilla answers them.
// The listen key of the current socket is extended every keepAlive.
func (s *stream) Heartbeat() connmgr.Heartbeat {
	key := s.listenKey
	return connmgr.Heartbeat{
		Interval:     s.a.cfg.Heartbeat,
		Refresh:      func(ctx context.Context) error { return s.keepAlive(ctx, key) },
		RefreshEvery: s.a.keepAlive,
	}
}

func (s *stream) keepAlive(ctx context.Context, key string) error {
	return s.a.rest.Do(ctx, "keepalive listen key", func() (rest.Request, error) {
		h := http.Header{}
		h.Set("X-MBX-APIKEY", s.a.Credential().APIKey)
		return rest.Request{Method: http.MethodPut, Path: "/api/v3/userDataStream", Query: "listenKey=" + key, Header: h}, nil
	}, nil)
}

func (s *stream) Handle(_ context.Context, _ connmgr.Sender, msg []byte) error {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return errors.Wrap(err, "decode frame")
	}

	switch f.Event {
	case "24hrTicker":
		var ev sdk.WsMarketStatEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			return errors.Wrap(err, "decode ticker")
		}
		pair, err := FromNative(ev.Symbol)
		if err != nil {
			return err
		}
		t, err := normalizer.BinanceStreamTicker(&ev, pair, s.a.now())
		if err != nil {
			return err
		}
		s.a.Emit(*t)
	case "listenKeyExpired":
		return connmgr.ErrReconnect
	case "":
		if len(f.Error) > 0 && string(f.Error) != "null" {
			return errors.Errorf("subscription error: %s", f.Error)
		}
	default:
		s.a.Logger().Debug("user data event", zap.String("event", f.Event))
	}
	return nil
}
