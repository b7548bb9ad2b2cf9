package bybit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

// stream is the authenticated private socket carrying order and wallet topics.
type stream struct {
	a *Adapter
}

type frame struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
}

func (s *stream) URL(context.Context) (string, error) {
	return s.a.cfg.StreamURL, nil
}

func (s *stream) OnConnect(_ context.Context, snd connmgr.Sender) error {
	cred := s.a.Credential()
	expires := s.a.now().Add(10 * time.Second).UnixMilli()
	sig, err := s.a.streamSigner.SignStream(cred, expires)
	if err != nil {
		return err
	}
	if err := snd.SendJSON(map[string]any{"op": "auth", "args": []any{cred.APIKey, expires, sig}}); err != nil {
		return err
	}
	return snd.SendJSON(map[string]any{"op": "subscribe", "args": []string{"order", "wallet"}})
}

func (s *stream) Heartbeat() connmgr.Heartbeat {
	return connmgr.Heartbeat{
		Interval: s.a.cfg.Heartbeat,
		Payload:  func() any { return map[string]string{"op": "ping"} },
	}
}

// AwaitsLogin holds the stream at Connecting until the auth reply arrives.
func (s *stream) AwaitsLogin() bool { return true }

func (s *stream) Handle(_ context.Context, snd connmgr.Sender, msg []byte) error {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return errors.Wrap(err, "decode frame")
	}
	switch {
	case f.Op == "auth" && f.Success != nil && !*f.Success:
		return connmgr.AuthRejected(domain.Bybit, f.RetMsg)
	case f.Op == "auth" && f.Success != nil:
		snd.Authenticated()
	case f.Op == "subscribe" && f.Success != nil && !*f.Success:
		return errors.Errorf("subscribe rejected: %s", f.RetMsg)
	case f.Topic != "":
		s.a.Logger().Debug("private update", zap.String("topic", f.Topic))
	}
	return nil
}
