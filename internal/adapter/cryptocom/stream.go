package cryptocom

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/signer"
	"go.uber.org/zap"
)

// stream is the user socket: public/auth, then user.order and user.balance.
// The server sends public/heartbeat every 30s and closes the socket if it is
// not answered.
type stream struct {
	a *Adapter
}

type subscriptionResult struct {
	Channel      string `json:"channel"`
	Subscription string `json:"subscription"`
}

func (s *stream) URL(context.Context) (string, error) {
	return s.a.cfg.StreamURL, nil
}

func (s *stream) OnConnect(_ context.Context, snd connmgr.Sender) error {
	signed, err := s.a.signer.Sign(domain.CryptoCom, signer.Request{Method: "public/auth", ID: s.a.ids.Add(1)}, s.a.Credential(), s.a.nonce.Next())
	if err != nil {
		return err
	}
	return snd.SendText(string(signed.Body))
}

func (s *stream) Heartbeat() connmgr.Heartbeat {
	return connmgr.Heartbeat{Interval: s.a.cfg.Heartbeat}
}

// AwaitsLogin holds the stream at Connecting until public/auth is answered.
func (s *stream) AwaitsLogin() bool { return true }

func (s *stream) Handle(_ context.Context, snd connmgr.Sender, msg []byte) error {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return errors.Wrap(err, "decode frame")
	}

	switch env.Method {
	case "public/heartbeat":
		return snd.SendJSON(map[string]any{"id": env.ID, "method": "public/respond-heartbeat"})
	case "public/auth":
		if env.Code != 0 {
			return connmgr.AuthRejected(domain.CryptoCom, fmt.Sprintf("code %d %s", env.Code, env.Message))
		}
		snd.Authenticated()
		return snd.SendJSON(map[string]any{
			"id":     s.a.ids.Add(1),
			"method": "subscribe",
			"params": map[string]any{"channels": []string{"user.order", "user.balance"}},
			"nonce":  s.a.nonce.Next(),
		})
	case "subscribe":
		if env.Code != 0 {
			return errors.Errorf("subscribe rejected: code %d %s", env.Code, env.Message)
		}
		var res subscriptionResult
		if len(env.Result) > 0 && json.Unmarshal(env.Result, &res) == nil && res.Channel != "" {
			s.a.Logger().Debug("private update", zap.String("channel", res.Channel))
		}
	}
	return nil
}
