package kucoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/normalizer"
	"go.uber.org/zap"
)

// stream connects with a bullet token. The token and the ping interval are
// fetched again on every connect.
type stream struct {
	a        *Adapter
	interval atomic.Int64
}

func newStream(a *Adapter) *stream {
	return &stream{a: a}
}

type bullet struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		PingInterval int64  `json:"pingInterval"`
	} `json:"instanceServers"`
}

type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Code    json.Number     `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (s *stream) URL(ctx context.Context) (string, error) {
	var b bullet
	if err := s.a.rest.Do(ctx, "bullet token", s.a.signed(http.MethodPost, "/api/v1/bullet-private", nil), &b); err != nil {
		return "", err
	}
	if b.Token == "" || len(b.InstanceServers) == 0 {
		return "", errors.New("bullet response without token or servers")
	}
	srv := b.InstanceServers[0]
	s.interval.Store(srv.PingInterval)

	q := url.Values{}
	q.Set("token", b.Token)
	q.Set("connectId", uuid.NewString())
	return srv.Endpoint + "?" + q.Encode(), nil
}

func (s *stream) OnConnect(_ context.Context, snd connmgr.Sender) error {
	natives := make([]string, 0, len(s.a.cfg.Symbols))
	for _, sym := range s.a.cfg.Symbols {
		native, err := ToNative(sym)
		if err != nil {
			return err
		}
		natives = append(natives, native)
	}
	if len(natives) > 0 {
		err := snd.SendJSON(map[string]any{
			"id":             uuid.NewString(),
			"type":           "subscribe",
			"topic":          "/market/snapshot:" + strings.Join(natives, ","),
			"privateChannel": false,
			"response":       true,
		})
		if err != nil {
			return err
		}
	}
	return snd.SendJSON(map[string]any{
		"id":             uuid.NewString(),
		"type":           "subscribe",
		"topic":          "/account/balance",
		"privateChannel": true,
		"response":       true,
	})
}

func (s *stream) Heartbeat() connmgr.Heartbeat {
	interval := time.Duration(s.interval.Load()) * time.Millisecond
	if interval <= 0 {
		interval = s.a.cfg.Heartbeat
	}
	return connmgr.Heartbeat{
		Interval: interval,
		Payload:  func() any { return map[string]string{"id": uuid.NewString(), "type": "ping"} },
	}
}

func (s *stream) Handle(_ context.Context, _ connmgr.Sender, msg []byte) error {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return errors.Wrap(err, "decode frame")
	}

	switch f.Type {
	case "welcome", "ack", "pong":
		return nil
	case "error":
		// 401 means the token expired, a fresh one is fetched on reconnect
		if f.Code.String() == "401" {
			return errors.Wrap(connmgr.ErrReconnect, "token expired")
		}
		return errors.Errorf("stream error %s: %s", f.Code, string(f.Data))
	case "message":
	default:
		return nil
	}

	if !strings.HasPrefix(f.Topic, "/market/snapshot:") {
		s.a.Logger().Debug("private update", zap.String("topic", f.Topic), zap.String("subject", f.Subject))
		return nil
	}

	var snap normalizer.KuCoinSnapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}
	pair, err := FromNative(snap.Data.Symbol)
	if err != nil {
		return err
	}
	t, err := normalizer.KuCoinStreamTicker(&snap, pair, s.a.now())
	if err != nil {
		return err
	}
	s.a.Emit(*t)
	return nil
}
