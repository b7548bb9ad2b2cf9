package bybit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// envelope wraps every v5 response.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func classifyCode(code int, msg string) error {
	c := strconv.Itoa(code)
	switch code {
	case 10002, 10003, 10004, 10005, 33004:
		return rest.AuthFailed(c, msg)
	case 10006, 10018:
		return rest.RateLimited(c, msg)
	case 110001, 170213:
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = c
		return e
	}
	if rest.ContainsLimitHint(msg) {
		return rest.RateLimited(c, msg)
	}
	return rest.Rejected(c, msg)
}

// codec unwraps the retCode envelope; bybit reports most failures with HTTP 200.
func codec(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return nil
		}
		return errors.Wrap(err, "decode envelope")
	}
	if env.RetCode != 0 {
		return classifyCode(env.RetCode, env.RetMsg)
	}
	if status >= http.StatusBadRequest || out == nil || len(env.Result) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Result, out), "decode result")
}
