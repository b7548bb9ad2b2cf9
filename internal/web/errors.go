package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

type errorBody struct {
	Kind     domain.Kind       `json:"kind"`
	Exchange domain.ExchangeID `json:"exchange,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message"`
}

func describe(err error) errorBody {
	body := errorBody{Kind: domain.KindOf(err), Message: err.Error()}
	var e *domain.Error
	if errors.As(err, &e) {
		body.Exchange = e.Exchange
		body.Code = e.Code
	}
	return body
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrNoPrimary) {
		return http.StatusServiceUnavailable
	}
	switch domain.KindOf(err) {
	case domain.KindConfiguration, domain.KindNoCredentials:
		return http.StatusPreconditionFailed
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindRateLimit:
		return http.StatusTooManyRequests
	case domain.KindNetwork, domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindProtocol, domain.KindNormalization:
		return http.StatusBadGateway
	case domain.KindUnsupported:
		return http.StatusNotImplemented
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindRejected:
		return http.StatusUnprocessableEntity
	case domain.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if after := domain.RetryAfterOf(err); status == http.StatusTooManyRequests && after > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(after.Seconds()))))
	}
	writeJSON(w, status, map[string]errorBody{"error": describe(err)})
}
