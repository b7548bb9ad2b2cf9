package okx

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
)

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// itemError is the per item status of trade endpoints.
type itemError struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// codeInvalidInstrument is returned for unknown instIds.
const codeInvalidInstrument = "51001"

func classifyCode(code, msg string) error {
	switch code {
	case "50102", "50103", "50104", "50105", "50111", "50112", "50113", "50114":
		return rest.AuthFailed(code, msg)
	case "50011", "50061":
		return rest.RateLimited(code, msg)
	case "51400", "51401", "51603":
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = code
		return e
	}
	if rest.ContainsLimitHint(msg) {
		return rest.RateLimited(code, msg)
	}
	return rest.Rejected(code, msg)
}

// codec unwraps {"code","msg","data":[...]}. Trade endpoints answer code "1"
// with the real reason in data[0].sCode.
func codec(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= http.StatusBadRequest {
			return nil
		}
		return errors.Wrap(err, "decode envelope")
	}
	if env.Code != "" && env.Code != "0" {
		var items []itemError
		if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return classifyCode(items[0].SCode, items[0].SMsg)
		}
		return classifyCode(env.Code, env.Msg)
	}
	if status >= http.StatusBadRequest || out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}
