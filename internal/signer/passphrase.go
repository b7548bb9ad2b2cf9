package signer

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// Passphrase signs timestamp+METHOD+requestPath+body with base64 HMAC-SHA256 and
// sends an additional passphrase header. Used by OKX and KuCoin.
type Passphrase struct {
	KeyHeader        string
	SignHeader       string
	TimestampHeader  string
	PassphraseHeader string
	// Static headers added to every request.
	Static map[string]string
	// ISOTimestamp selects RFC3339 millisecond timestamps instead of epoch ms.
	ISOTimestamp bool
	// SignPassphrase sends HMAC(secret, passphrase) instead of the raw passphrase.
	SignPassphrase bool
}

// NewOKX returns the OKX v5 signer.
func NewOKX() *Passphrase {
	return &Passphrase{
		KeyHeader:        "OK-ACCESS-KEY",
		SignHeader:       "OK-ACCESS-SIGN",
		TimestampHeader:  "OK-ACCESS-TIMESTAMP",
		PassphraseHeader: "OK-ACCESS-PASSPHRASE",
		ISOTimestamp:     true,
	}
}

// NewKuCoin returns the KuCoin key version 2 signer.
func NewKuCoin() *Passphrase {
	return &Passphrase{
		KeyHeader:        "KC-API-KEY",
		SignHeader:       "KC-API-SIGN",
		TimestampHeader:  "KC-API-TIMESTAMP",
		PassphraseHeader: "KC-API-PASSPHRASE",
		Static:           map[string]string{"KC-API-KEY-VERSION": "2"},
		SignPassphrase:   true,
	}
}

func (s *Passphrase) RequiresPassphrase() bool { return true }

// Timestamp renders the nonce (epoch milliseconds) in the venue format.
func (s *Passphrase) Timestamp(nonce int64) string {
	if s.ISOTimestamp {
		return time.UnixMilli(nonce).UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return strconv.FormatInt(nonce, 10)
}

func (s *Passphrase) Sign(req Request, cred domain.Credential, nonce int64) (Signed, error) {
	if err := cred.Validate(true); err != nil {
		return Signed{}, err
	}

	ts := s.Timestamp(nonce)
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	out := Signed{Headers: http.Header{}}
	requestPath := req.Path
	var body string
	if isQueryMethod(method) {
		out.Query = SortedQuery(req.Params)
		if out.Query != "" {
			requestPath += "?" + out.Query
		}
	} else {
		b, err := SortedJSON(req.Params)
		if err != nil {
			return Signed{}, domain.ConfigurationError(cred.Exchange, err)
		}
		out.Body = b
		body = string(b)
		out.Headers.Set("Content-Type", "application/json")
	}

	out.Payload = ts + method + requestPath + body
	out.Signature = hmacBase64(cred.APISecret, out.Payload)

	passphrase := cred.Passphrase
	if s.SignPassphrase {
		passphrase = hmacBase64(cred.APISecret, cred.Passphrase)
	}

	out.Headers.Set(s.KeyHeader, cred.APIKey)
	out.Headers.Set(s.SignHeader, out.Signature)
	out.Headers.Set(s.TimestampHeader, ts)
	out.Headers.Set(s.PassphraseHeader, passphrase)
	for k, v := range s.Static {
		out.Headers.Set(k, v)
	}

	return out, nil
}

// SignLogin returns the signature for the OKX private stream login,
// base64 HMAC(ts + "GET" + "/users/self/verify") with ts in epoch seconds.
func (s *Passphrase) SignLogin(cred domain.Credential, tsSeconds int64) (string, error) {
	if err := cred.Validate(true); err != nil {
		return "", err
	}
	return hmacBase64(cred.APISecret, strconv.FormatInt(tsSeconds, 10)+"GET/users/self/verify"), nil
}
