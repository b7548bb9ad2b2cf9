package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType market or limit.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus canonical order status.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderParams is what callers submit.
type OrderParams struct {
	Symbol   string              `json:"symbol"`
	Side     Side                `json:"side"`
	Type     OrderType           `json:"type"`
	Quantity decimal.Decimal     `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	// ClientOrderID is generated by the adapter when empty.
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Validate checks caller supplied order parameters.
func (p OrderParams) Validate() error {
	if _, err := ParseSymbol(p.Symbol); err != nil {
		return NewError(KindInvalidRequest, "", "validate order", err)
	}
	switch p.Side {
	case SideBuy, SideSell:
	default:
		return NewError(KindInvalidRequest, "", "validate order", errors.Errorf("unknown side %q", p.Side))
	}
	if !p.Quantity.IsPositive() {
		return NewError(KindInvalidRequest, "", "validate order", errors.New("quantity must be positive"))
	}
	switch p.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !p.Price.Valid || !p.Price.Decimal.IsPositive() {
			return NewError(KindInvalidRequest, "", "validate order", errors.New("limit order requires a positive price"))
		}
	default:
		return NewError(KindInvalidRequest, "", "validate order", errors.Errorf("unknown order type %q", p.Type))
	}
	return nil
}

// Order is the canonical order representation.
type Order struct {
	Exchange      ExchangeID          `json:"exchange"`
	OrderID       string              `json:"order_id"`
	ClientOrderID string              `json:"client_order_id,omitempty"`
	Symbol        string              `json:"symbol"`
	Side          Side                `json:"side"`
	Type          OrderType           `json:"type"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Price         decimal.NullDecimal `json:"price"`
	Status        OrderStatus         `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}
