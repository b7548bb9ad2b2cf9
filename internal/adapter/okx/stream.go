package okx

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

// stream is the private socket. Subscriptions are only accepted after the
// login event, so OnConnect logs in and Handle subscribes.
type stream struct {
	a *Adapter
}

type frame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
	} `json:"arg"`
}

var subscriptions = []map[string]string{
	{"channel": "orders", "instType": "SPOT"},
	{"channel": "account"},
}

func (s *stream) URL(context.Context) (string, error) {
	return s.a.cfg.StreamURL, nil
}

func (s *stream) OnConnect(_ context.Context, snd connmgr.Sender) error {
	cred := s.a.Credential()
	ts := s.a.now().Unix()
	sig, err := s.a.loginSigner.SignLogin(cred, ts)
	if err != nil {
		return err
	}
	return snd.SendJSON(map[string]any{
		"op": "login",
		"args": []map[string]any{{
			"apiKey":     cred.APIKey,
			"passphrase": cred.Passphrase,
			"timestamp":  ts,
			"sign":       sig,
		}},
	})
}

// Heartbeat sends the literal "ping"; the server drops sockets silent for 30s.
func (s *stream) Heartbeat() connmgr.Heartbeat {
	return connmgr.Heartbeat{
		Interval: s.a.cfg.Heartbeat,
		Payload:  func() any { return "ping" },
	}
}

// AwaitsLogin holds the stream at Connecting until the login event arrives.
func (s *stream) AwaitsLogin() bool { return true }

func (s *stream) Handle(_ context.Context, snd connmgr.Sender, msg []byte) error {
	if string(msg) == "pong" {
		return nil
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return errors.Wrap(err, "decode frame")
	}
	switch f.Event {
	case "login":
		if f.Code != "" && f.Code != "0" {
			return connmgr.AuthRejected(domain.OKX, f.Code+": "+f.Msg)
		}
		snd.Authenticated()
		return snd.SendJSON(map[string]any{"op": "subscribe", "args": subscriptions})
	case "error":
		s.a.Logger().Error("stream error", zap.String("code", f.Code), zap.String("msg", f.Msg))
		// 60009 login failed, 60011 not logged in
		if f.Code == "60009" || f.Code == "60011" {
			return connmgr.AuthRejected(domain.OKX, f.Code+": "+f.Msg)
		}
	case "":
		if f.Arg.Channel != "" {
			s.a.Logger().Debug("private update", zap.String("channel", f.Arg.Channel))
		}
	}
	return nil
}
