package hyperliquid

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// ParseKey decodes a hex private key, with or without 0x, and derives its address.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, string, error) {
	key := strings.TrimSpace(hexKey)
	if len(key) >= 2 && (key[:2] == "0x" || key[:2] == "0X") {
		key = key[2:]
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, "", errors.Wrap(err, "parse private key")
	}
	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, "", errors.New("public key is not ECDSA")
	}
	return privateKey, crypto.PubkeyToAddress(*pub).Hex(), nil
}

// Cloid maps a free-form client order id onto a valid cloid, 0x + 32 hex chars.
// Ids that already have that shape are kept.
func Cloid(clientOrderID string) string {
	s := strings.TrimSpace(clientOrderID)
	if len(s) == 34 && strings.HasPrefix(s, "0x") {
		if _, err := hex.DecodeString(s[2:]); err == nil {
			return strings.ToLower(s)
		}
	}
	sum := sha256.Sum256([]byte(s))
	return "0x" + hex.EncodeToString(sum[:16])
}
