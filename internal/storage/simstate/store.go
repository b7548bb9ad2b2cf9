// Package simstate persists the paper-trading wallet so restarts keep balances
// and resting orders.
package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/domain"
)

const defaultStateDir = "./wal/simulate"

// Store is a JSON file per scope, replaced atomically on every save.
type Store struct {
	path string
}

// NewStore creates the state dir. An empty dir falls back to EXGATE_SIMULATE_STATE_DIR
// and then to ./wal/simulate.
func NewStore(dir, scope string) (*Store, error) {
	if dir == "" {
		dir = os.Getenv("EXGATE_SIMULATE_STATE_DIR")
	}
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "wallet"
	}
	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path of the state file.
func (s *Store) Path() string { return s.path }

// State is everything the simulator keeps.
type State struct {
	Wallet map[string]StoredBalance `json:"wallet"`
	Orders []StoredOrder            `json:"orders,omitempty"`
}

// StoredBalance keeps amounts as strings so no precision is lost.
type StoredBalance struct {
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// StoredOrder is a resting limit order and the funds it holds.
type StoredOrder struct {
	ID            string             `json:"id"`
	ClientOrderID string             `json:"client_order_id"`
	Symbol        string             `json:"symbol"`
	Side          domain.Side        `json:"side"`
	Quantity      string             `json:"quantity"`
	Price         string             `json:"price"`
	LockedAmount  string             `json:"locked_amount"`
	LockedAsset   string             `json:"locked_asset"`
	CreatedAt     time.Time          `json:"created_at"`
	Status        domain.OrderStatus `json:"status"`
}

// Load reads the state, nil when nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read simulate state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}
	return &state, nil
}

// Save writes state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}
	return nil
}

// Decode parses a stored balance.
func (b StoredBalance) Decode() (free, locked decimal.Decimal, err error) {
	free, err = parseOrZero(b.Free)
	if err != nil {
		return free, locked, errors.Wrap(err, "decode free")
	}
	locked, err = parseOrZero(b.Locked)
	if err != nil {
		return free, locked, errors.Wrap(err, "decode locked")
	}
	return free, locked, nil
}

func parseOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
