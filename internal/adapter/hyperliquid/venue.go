package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/pkg/errors"
	hl "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/exgate/internal/normalizer"
)

// slippage applied to the mid price to emulate market orders with IOC limits.
const slippage = 0.005

// orderState is what the venue knows about one order.
type orderState struct {
	Known  bool
	Open   bool
	Filled bool
	Oid    int64
}

// venue is the part of the Hyperliquid API the adapter uses.
type venue interface {
	Mids(ctx context.Context) (map[string]string, error)
	SpotBalances(ctx context.Context, account string) ([]normalizer.HyperliquidBalance, error)
	MarketOrder(ctx context.Context, coin string, isBuy bool, size float64, cloid string) error
	OrderByCloid(ctx context.Context, account, cloid string) (orderState, error)
	Cancel(ctx context.Context, coin string, oid int64) error
}

type sdkVenue struct {
	ex *hl.Exchange
}

// newSDKVenue builds the SDK exchange. key may be nil for read-only use.
func newSDKVenue(ctx context.Context, key *ecdsa.PrivateKey, baseURL, account string) *sdkVenue {
	return &sdkVenue{ex: hl.NewExchange(ctx, key, baseURL, nil, "", account, nil)}
}

func (v *sdkVenue) Mids(ctx context.Context) (map[string]string, error) {
	return v.ex.Info().AllMids(ctx)
}

func (v *sdkVenue) SpotBalances(ctx context.Context, account string) ([]normalizer.HyperliquidBalance, error) {
	st, err := v.ex.Info().SpotUserState(ctx, account)
	if err != nil {
		return nil, err
	}
	out := make([]normalizer.HyperliquidBalance, 0, len(st.Balances))
	for _, b := range st.Balances {
		out = append(out, normalizer.HyperliquidBalance{Coin: b.Coin, Total: b.Total, Hold: b.Hold})
	}
	return out, nil
}

func (v *sdkVenue) MarketOrder(ctx context.Context, coin string, isBuy bool, size float64, cloid string) error {
	px, err := v.ex.SlippagePrice(ctx, coin, isBuy, slippage, nil)
	if err != nil {
		return errors.Wrap(err, "slippage price")
	}
	_, err = v.ex.Order(ctx, hl.CreateOrderRequest{
		Coin:          coin,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &cloid,
		OrderType: hl.OrderType{
			Limit: &hl.LimitOrderType{Tif: hl.TifIoc},
		},
	}, nil)
	return err
}

func (v *sdkVenue) OrderByCloid(ctx context.Context, account, cloid string) (orderState, error) {
	res, err := v.ex.Info().QueryOrderByCloid(ctx, account, cloid)
	if err != nil {
		return orderState{}, err
	}
	if res == nil || res.Status != hl.OrderQueryStatusSuccess {
		return orderState{}, nil
	}
	return orderState{
		Known:  true,
		Open:   res.Order.Status == hl.OrderStatusValueOpen,
		Filled: res.Order.Status == hl.OrderStatusValueFilled,
		Oid:    res.Order.Order.Oid,
	}, nil
}

func (v *sdkVenue) Cancel(ctx context.Context, coin string, oid int64) error {
	_, err := v.ex.BulkCancel(ctx, []hl.CancelOrderRequest{{Coin: coin, OrderID: oid}})
	return err
}

// isGone reports venue answers for orders that can no longer be cancelled.
func isGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "never placed") || strings.Contains(msg, "already canceled") || strings.Contains(msg, "filled")
}
