package cryptocom

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// envelope is the RPC response shape shared by REST and the user socket.
type envelope struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

const codeSymbolNotFound = 30003

func classifyCode(code int, msg string) error {
	c := strconv.Itoa(code)
	switch code {
	case 10002, 10003, 10007, 40101, 40102, 40103:
		return rest.AuthFailed(c, msg)
	case 10006, 42901:
		return rest.RateLimited(c, msg)
	case codeSymbolNotFound, 40401:
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = c
		return e
	}
	if strings.Contains(strings.ToUpper(msg), "NOT_FOUND") {
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = c
		return e
	}
	if rest.ContainsLimitHint(msg) {
		return rest.RateLimited(c, msg)
	}
	return rest.Rejected(c, msg)
}

func codec(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return nil
		}
		return errors.Wrap(err, "decode envelope")
	}
	if env.Code != 0 {
		msg := env.Message
		if msg == "" {
			msg = "code " + strconv.Itoa(env.Code)
		}
		return classifyCode(env.Code, msg)
	}
	if status >= http.StatusBadRequest || out == nil || len(env.Result) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Result, out), "decode result")
}
