package signer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// maxParamDepth mirrors the depth limit of the Crypto.com reference signer.
const maxParamDepth = 3

// RPC signs method+id+apiKey+paramString+nonce with hex HMAC-SHA256 and embeds
// the signature in a JSON-RPC style body. Used by Crypto.com Exchange v1.
type RPC struct{}

// NewCryptoCom returns the Crypto.com signer.
func NewCryptoCom() *RPC {
	return &RPC{}
}

func (s *RPC) RequiresPassphrase() bool { return false }

// RPCBody is the envelope sent to RPC-style venues.
type RPCBody struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	APIKey string         `json:"api_key,omitempty"`
	Params map[string]any `json:"params"`
	Nonce  int64          `json:"nonce"`
	Sig    string         `json:"sig,omitempty"`
}

func (s *RPC) Sign(req Request, cred domain.Credential, nonce int64) (Signed, error) {
	if err := cred.Validate(false); err != nil {
		return Signed{}, err
	}

	payload := req.Method + strconv.FormatInt(req.ID, 10) + cred.APIKey + ParamString(req.Params) + strconv.FormatInt(nonce, 10)
	sig := hmacHex(cred.APISecret, payload)

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(RPCBody{
		ID:     req.ID,
		Method: req.Method,
		APIKey: cred.APIKey,
		Params: params,
		Nonce:  nonce,
		Sig:    sig,
	})
	if err != nil {
		return Signed{}, domain.ConfigurationError(cred.Exchange, errors.Wrap(err, "encode rpc body"))
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")

	return Signed{Signature: sig, Headers: h, Body: body, Payload: payload}, nil
}

// ParamString concatenates key+value for every key in ascending order, recursing
// into nested objects and lists. Absent values render as "null".
func ParamString(params map[string]any) string {
	return paramString(params, 0)
}

func paramString(params map[string]any, level int) string {
	if params == nil {
		return ""
	}
	if level >= maxParamDepth {
		b, _ := json.Marshal(params)
		return string(b)
	}
	var sb strings.Builder
	for _, k := range sortedKeys(params) {
		sb.WriteString(k)
		sb.WriteString(valueString(params[k], level))
	}
	return sb.String()
}

func valueString(v any, level int) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return paramString(t, level+1)
	case []any:
		var sb strings.Builder
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				sb.WriteString(paramString(m, level+1))
				continue
			}
			sb.WriteString(valueString(item, level))
		}
		return sb.String()
	case []string:
		return strings.Join(t, "")
	default:
		return FormatValue(t)
	}
}
