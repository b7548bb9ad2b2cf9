package signer

import (
	"net/http"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// QueryHMAC signs the sorted query string with hex HMAC-SHA256 and appends the
// signature as the last parameter. Used by Binance-style venues.
type QueryHMAC struct {
	KeyHeader  string
	RecvWindow int64
}

// NewBinance returns the Binance query signer.
func NewBinance() *QueryHMAC {
	return &QueryHMAC{KeyHeader: "X-MBX-APIKEY", RecvWindow: 5000}
}

// NewMEXC returns the MEXC query signer.
func NewMEXC() *QueryHMAC {
	return &QueryHMAC{KeyHeader: "X-MEXC-APIKEY", RecvWindow: 5000}
}

func (s *QueryHMAC) RequiresPassphrase() bool { return false }

// Sign adds timestamp and recvWindow, then signs every parameter in the query.
// Signed parameters always travel in the query string, even for POST.
func (s *QueryHMAC) Sign(req Request, cred domain.Credential, nonce int64) (Signed, error) {
	if err := cred.Validate(false); err != nil {
		return Signed{}, err
	}

	params := copyParams(req.Params)
	params["timestamp"] = nonce
	if s.RecvWindow > 0 {
		params["recvWindow"] = s.RecvWindow
	}
	payload := SortedQuery(params)
	sig := hmacHex(cred.APISecret, payload)

	h := http.Header{}
	h.Set(s.KeyHeader, cred.APIKey)

	return Signed{
		Signature: sig,
		Headers:   h,
		Query:     payload + "&signature=" + sig,
		Payload:   payload,
	}, nil
}
