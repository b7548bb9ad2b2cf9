package kucoin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
)

const codeOK = "200000"

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classifyCode(code, msg string) error {
	switch code {
	case "400001", "400002", "400003", "400004", "400005", "400006", "400007", "411100":
		return rest.AuthFailed(code, msg)
	case "429000":
		return rest.RateLimited(code, msg)
	case "900001":
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = code
		return e
	}
	if strings.Contains(strings.ReplaceAll(strings.ToLower(msg), "_", " "), "not exist") {
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = code
		return e
	}
	if rest.ContainsLimitHint(msg) {
		return rest.RateLimited(code, msg)
	}
	return rest.Rejected(code, msg)
}

func codec(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return nil
		}
		return errors.Wrap(err, "decode envelope")
	}
	if env.Code != codeOK {
		return classifyCode(env.Code, env.Msg)
	}
	if status >= http.StatusBadRequest || out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}
