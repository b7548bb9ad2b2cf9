package binance

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/adapter/rest"
	"github.com/vadiminshakov/exgate/internal/domain"
)

type apiError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// Error codes from the Binance spot API.
const (
	codeTooManyRequests = -1003
	codeTooManyOrders   = -1015
	codeTimestamp       = -1021
	codeBadSignature    = -1022
	codeInvalidSymbol   = -1121
	codeCancelRejected  = -2011
	codeNoSuchOrder     = -2013
	codeBadAPIKeyFormat = -2014
	codeRejectedAPIKey  = -2015
)

// classifyCode maps an error code onto the typed taxonomy.
func classifyCode(code int64, msg string) error {
	c := strconv.FormatInt(code, 10)
	switch code {
	case codeTooManyRequests, codeTooManyOrders:
		return rest.RateLimited(c, msg)
	case codeTimestamp, codeBadSignature, codeBadAPIKeyFormat, codeRejectedAPIKey:
		return rest.AuthFailed(c, msg)
	case codeCancelRejected, codeNoSuchOrder, codeInvalidSymbol:
		e := domain.NewError(domain.KindNotFound, "", "", errors.New(msg))
		e.Code = c
		return e
	default:
		if rest.ContainsLimitHint(msg) {
			return rest.RateLimited(c, msg)
		}
		return rest.Rejected(c, msg)
	}
}

func codec(status int, body []byte, out any) error {
	if status >= http.StatusBadRequest {
		var e apiError
		if err := json.Unmarshal(body, &e); err != nil || e.Code == 0 {
			return nil
		}
		return classifyCode(e.Code, e.Msg)
	}
	return rest.JSON(status, body, out)
}
