package signer

import (
	"net/http"
	"strconv"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// HeaderHMAC signs timestamp+apiKey+recvWindow+(query|body) and sends the
// signature in headers. Used by Bybit v5.
type HeaderHMAC struct {
	Prefix     string
	RecvWindow int64
}

// NewBybit returns the Bybit v5 header signer.
func NewBybit() *HeaderHMAC {
	return &HeaderHMAC{Prefix: "X-BAPI-", RecvWindow: 5000}
}

func (s *HeaderHMAC) RequiresPassphrase() bool { return false }

func (s *HeaderHMAC) Sign(req Request, cred domain.Credential, nonce int64) (Signed, error) {
	if err := cred.Validate(false); err != nil {
		return Signed{}, err
	}

	ts := strconv.FormatInt(nonce, 10)
	recv := strconv.FormatInt(s.RecvWindow, 10)

	out := Signed{Headers: http.Header{}}
	var tail string
	if isQueryMethod(req.Method) {
		out.Query = SortedQuery(req.Params)
		tail = out.Query
	} else {
		body, err := SortedJSON(req.Params)
		if err != nil {
			return Signed{}, domain.ConfigurationError(cred.Exchange, err)
		}
		out.Body = body
		tail = string(body)
		out.Headers.Set("Content-Type", "application/json")
	}

	out.Payload = ts + cred.APIKey + recv + tail
	out.Signature = hmacHex(cred.APISecret, out.Payload)

	out.Headers.Set(s.Prefix+"API-KEY", cred.APIKey)
	out.Headers.Set(s.Prefix+"TIMESTAMP", ts)
	out.Headers.Set(s.Prefix+"RECV-WINDOW", recv)
	out.Headers.Set(s.Prefix+"SIGN", out.Signature)
	out.Headers.Set(s.Prefix+"SIGN-TYPE", "2")

	return out, nil
}

// SignStream returns the signature for the private stream auth frame,
// HMAC("GET/realtime" + expires).
func (s *HeaderHMAC) SignStream(cred domain.Credential, expires int64) (string, error) {
	if err := cred.Validate(false); err != nil {
		return "", err
	}
	return hmacHex(cred.APISecret, "GET/realtime"+strconv.FormatInt(expires, 10)), nil
}
